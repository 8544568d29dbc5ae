package chat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_JoinLeave(t *testing.T) {
	r := NewRegistry()
	a1 := NewClient(newFakeConn(), 1)
	a2 := NewClient(newFakeConn(), 1)

	assert.Equal(t, "", r.Join(a1, "alice"))
	assert.Equal(t, "", r.Join(a2, "alice"))
	assert.ElementsMatch(t, []*Client{a1, a2}, r.Room("alice"))

	// joining the same room twice is a no-op
	assert.Equal(t, "alice", r.Join(a1, "alice"))
	assert.Len(t, r.Room("alice"), 2)

	userID, ok := r.Leave(a1)
	require.True(t, ok)
	assert.Equal(t, "alice", userID)
	assert.Equal(t, []*Client{a2}, r.Room("alice"))

	_, ok = r.Leave(a1)
	assert.False(t, ok, "leave is idempotent")

	r.Leave(a2)
	assert.Empty(t, r.Room("alice"))
	assert.Empty(t, r.OnlineUsers(""))
}

func TestRegistry_RejoinMovesRooms(t *testing.T) {
	r := NewRegistry()
	c := NewClient(newFakeConn(), 1)

	r.Join(c, "alice")
	prev := r.Join(c, "bob")

	assert.Equal(t, "alice", prev)
	assert.Empty(t, r.Room("alice"))
	assert.Equal(t, []*Client{c}, r.Room("bob"))

	userID, ok := r.Leave(c)
	require.True(t, ok)
	assert.Equal(t, "bob", userID)
}

func TestRegistry_OnlineUsers(t *testing.T) {
	r := NewRegistry()
	for _, user := range []string{"carol", "alice", "bob", "alice"} {
		r.Join(NewClient(newFakeConn(), 1), user)
	}

	assert.Equal(t, []string{"alice", "bob", "carol"}, r.OnlineUsers(""))
	assert.Equal(t, []string{"alice", "carol"}, r.OnlineUsers("bob"))
}

func TestRegistry_ConcurrentMembership(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient(newFakeConn(), 1)
			r.Join(c, "alice")
			_ = r.Room("alice")
			r.Leave(c)
		}()
	}
	wg.Wait()
	assert.Empty(t, r.Room("alice"))
}

func TestClient_EnqueueDropsWhenFull(t *testing.T) {
	c := NewClient(newFakeConn(), 1)

	assert.True(t, c.enqueue([]byte("one")))
	assert.False(t, c.enqueue([]byte("two")), "full buffer drops")

	c.Close()
	<-c.Send
	assert.False(t, c.enqueue([]byte("three")), "closed client drops")
}
