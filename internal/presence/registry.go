// Package presence tracks which users currently hold live connections.
//
// The registry is process state. It starts empty, is never persisted and is
// not shared between processes; cross-process delivery goes through the
// fanout package.
package presence

import (
	"errors"
	"sync"
)

var (
	ErrInvalidUser  = errors.New("presence: user id must be positive")
	ErrHandleBound  = errors.New("presence: handle is registered to another user")
	ErrHandleAbsent = errors.New("presence: handle is not registered")
)

// Registry maps a user id to the set of live connection handles owned by
// that user. Implementations must be safe for concurrent use and must not
// block on I/O.
type Registry[H comparable] interface {
	// Register adds h to the user's set. first is true when the user had
	// no live handle before the call.
	Register(userId int, h H) (first bool, err error)
	// Unregister removes h. last is true when the user has no live handle
	// left after the call.
	Unregister(userId int, h H) (last bool, err error)
	ConnectionsFor(userId int) []H
	IsOnline(userId int) bool
	OnlineUsers() []int
}

// Map is the in-memory Registry.
type Map[H comparable] struct {
	mu     sync.RWMutex
	users  map[int]map[H]struct{}
	owners map[H]int
}

func NewMap[H comparable]() *Map[H] {
	return &Map[H]{
		users:  make(map[int]map[H]struct{}),
		owners: make(map[H]int),
	}
}

func (m *Map[H]) Register(userId int, h H) (bool, error) {
	if userId <= 0 {
		return false, ErrInvalidUser
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if owner, ok := m.owners[h]; ok {
		if owner != userId {
			return false, ErrHandleBound
		}
		return false, nil
	}

	handles, ok := m.users[userId]
	if !ok {
		handles = make(map[H]struct{})
		m.users[userId] = handles
	}
	handles[h] = struct{}{}
	m.owners[h] = userId

	return !ok, nil
}

func (m *Map[H]) Unregister(userId int, h H) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, ok := m.owners[h]
	if !ok || owner != userId {
		return false, ErrHandleAbsent
	}

	delete(m.owners, h)
	handles := m.users[userId]
	delete(handles, h)
	if len(handles) == 0 {
		delete(m.users, userId)
		return true, nil
	}

	return false, nil
}

// ConnectionsFor returns a snapshot of the user's handles. The slice is
// owned by the caller.
func (m *Map[H]) ConnectionsFor(userId int) []H {
	m.mu.RLock()
	defer m.mu.RUnlock()

	handles := m.users[userId]
	out := make([]H, 0, len(handles))
	for h := range handles {
		out = append(out, h)
	}
	return out
}

func (m *Map[H]) IsOnline(userId int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.users[userId]
	return ok
}

func (m *Map[H]) OnlineUsers() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]int, 0, len(m.users))
	for id := range m.users {
		out = append(out, id)
	}
	return out
}

// Len returns the number of online users.
func (m *Map[H]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}
