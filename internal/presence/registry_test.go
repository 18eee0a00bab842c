package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_RegisterUnregister(t *testing.T) {
	m := NewMap[string]()

	first, err := m.Register(7, "c1")
	require.NoError(t, err)
	assert.True(t, first, "expected first registration to bring the user online")

	first, err = m.Register(7, "c2")
	require.NoError(t, err)
	assert.False(t, first)

	last, err := m.Unregister(7, "c1")
	require.NoError(t, err)
	assert.False(t, last)
	assert.True(t, m.IsOnline(7))
	assert.ElementsMatch(t, []string{"c2"}, m.ConnectionsFor(7))

	last, err = m.Unregister(7, "c2")
	require.NoError(t, err)
	assert.True(t, last, "expected removing the final handle to take the user offline")
	assert.False(t, m.IsOnline(7))
	assert.Empty(t, m.ConnectionsFor(7))

	_, present := m.users[7]
	assert.False(t, present, "expected the entry to be pruned, not left empty")
}

func TestMap_Register_Errors(t *testing.T) {
	m := NewMap[string]()

	_, err := m.Register(0, "c1")
	assert.ErrorIs(t, err, ErrInvalidUser)
	_, err = m.Register(-3, "c1")
	assert.ErrorIs(t, err, ErrInvalidUser)

	_, err = m.Register(7, "c1")
	require.NoError(t, err)

	_, err = m.Register(9, "c1")
	assert.ErrorIs(t, err, ErrHandleBound)
	assert.False(t, m.IsOnline(9))

	first, err := m.Register(7, "c1")
	require.NoError(t, err)
	assert.False(t, first)
	assert.Len(t, m.ConnectionsFor(7), 1, "expected no duplicate handle")
}

func TestMap_Unregister_Unknown(t *testing.T) {
	m := NewMap[string]()

	_, err := m.Unregister(7, "c1")
	assert.ErrorIs(t, err, ErrHandleAbsent)

	_, err = m.Register(7, "c1")
	require.NoError(t, err)

	_, err = m.Unregister(9, "c1")
	assert.ErrorIs(t, err, ErrHandleAbsent)
	assert.True(t, m.IsOnline(7))
}

func TestMap_ConnectionsFor_Snapshot(t *testing.T) {
	m := NewMap[string]()
	m.Register(7, "c1")

	conns := m.ConnectionsFor(7)
	m.Unregister(7, "c1")

	assert.Equal(t, []string{"c1"}, conns)
}

func TestMap_OnlineUsers(t *testing.T) {
	m := NewMap[int]()
	m.Register(1, 10)
	m.Register(2, 20)
	m.Register(2, 21)

	assert.ElementsMatch(t, []int{1, 2}, m.OnlineUsers())
	assert.Equal(t, 2, m.Len())
}

func TestMap_Concurrent(t *testing.T) {
	m := NewMap[string]()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		firsts = make(map[int]int)
		lasts  = make(map[int]int)
	)

	for user := 1; user <= 5; user++ {
		for conn := 0; conn < 50; conn++ {
			wg.Add(1)
			go func(user, conn int) {
				defer wg.Done()
				h := fmt.Sprintf("u%d-c%d", user, conn)

				first, err := m.Register(user, h)
				assert.NoError(t, err)
				m.ConnectionsFor(user)
				last, err := m.Unregister(user, h)
				assert.NoError(t, err)

				mu.Lock()
				defer mu.Unlock()
				if first {
					firsts[user]++
				}
				if last {
					lasts[user]++
				}
			}(user, conn)
		}
	}
	wg.Wait()

	assert.Empty(t, m.OnlineUsers())
	assert.Empty(t, m.owners)
	for user := 1; user <= 5; user++ {
		assert.Equal(t, firsts[user], lasts[user], "online and offline edges must pair up for user %d", user)
		assert.GreaterOrEqual(t, firsts[user], 1)
	}
}
