package testutil

import (
	"log"
	"strings"
	"sync"
	"testing"
)

// testWriter forwards log lines to t until the test is cleaned up.
// Connection goroutines may outlive the test and writes after that point
// are dropped, since t.Log would panic.
type testWriter struct {
	mu   sync.Mutex
	t    testing.TB
	done bool
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.done {
		w.t.Log(strings.TrimSuffix(string(p), "\n"))
	}
	return len(p), nil
}

// TestLogger returns a logger whose output is attached to t and only shown
// for failing or verbose runs.
func TestLogger(t testing.TB) *log.Logger {
	w := &testWriter{t: t}
	t.Cleanup(func() {
		w.mu.Lock()
		w.done = true
		w.mu.Unlock()
	})
	return log.New(w, "[myclean-test] ", log.Lmicroseconds)
}
