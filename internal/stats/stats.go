package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

// Metric names published under the myclean-stats map.
const (
	NumActiveClients  = "NumActiveClients"
	NumOnlineUsers    = "NumOnlineUsers"
	NumConversations  = "NumConversations"
	MessagesSent      = "MessagesSent"
	StatusTransitions = "StatusTransitions"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
}

type metricsUpdateReq struct {
	name  string
	value int
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

// NewStatsUpdater creates the process-wide stats map and mounts it on mux.
// It must be called at most once per process since expvar names are global.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := newStatsUpdater(new(expvar.Map).Init())
	expvar.Publish("myclean-stats", su.vars)
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))

	return su
}

func newStatsUpdater(vars *expvar.Map) *StatsUpdater {
	su := &StatsUpdater{
		vars:       vars,
		updateChan: make(chan *metricsUpdateReq, 512),
	}
	su.initializeMetrics()
	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))

	for _, name := range []string{
		NumActiveClients,
		NumOnlineUsers,
		NumConversations,
		MessagesSent,
		StatusTransitions,
	} {
		su.RegisterMetric(name)
	}
}

func (su *StatsUpdater) updateMetrics() {
	for req := range su.updateChan {
		metric, ok := su.vars.Get(req.name).(*expvar.Int)
		if !ok {
			continue
		}

		metric.Add(int64(req.value))
	}
}

// Incr and Decr never block the caller; updates are dropped when the
// queue is full.
func (su *StatsUpdater) Incr(name string) {
	su.queue(name, 1)
}

func (su *StatsUpdater) Decr(name string) {
	su.queue(name, -1)
}

func (su *StatsUpdater) queue(name string, value int) {
	select {
	case su.updateChan <- &metricsUpdateReq{name: name, value: value}:
	default:
	}
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

func (su *StatsUpdater) Stop() {
	close(su.updateChan)
}
