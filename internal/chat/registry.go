package chat

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Registry maps user ids to their open connections ("rooms"). A connection is
// in at most one room. Membership is process-local and lost on restart.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{} // userID -> set(client)
	users map[*Client]string              // client -> userID
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: map[string]map[*Client]struct{}{},
		users: map[*Client]string{},
	}
}

// Join puts c in userID's room, moving it out of any room it was in before.
// It returns the previous user id, if any.
func (r *Registry) Join(c *Client, userID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, had := r.users[c]
	if had && prev == userID {
		return prev
	}
	if had {
		r.removeLocked(c, prev)
	}
	if _, ok := r.rooms[userID]; !ok {
		r.rooms[userID] = map[*Client]struct{}{}
	}
	r.rooms[userID][c] = struct{}{}
	r.users[c] = userID
	return prev
}

// Leave removes c from its room. Unknown clients are a no-op.
func (r *Registry) Leave(c *Client) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.users[c]
	if !ok {
		return "", false
	}
	r.removeLocked(c, userID)
	return userID, true
}

func (r *Registry) removeLocked(c *Client, userID string) {
	delete(r.users, c)
	if room, ok := r.rooms[userID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(r.rooms, userID)
		}
	}
}

// Room returns a snapshot of the connections currently open for userID.
// The snapshot is safe to use after the lock is released.
func (r *Registry) Room(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.rooms[userID])
}

// OnlineUsers lists user ids with at least one open connection, sorted,
// without exclude.
func (r *Registry) OnlineUsers(exclude string) []string {
	r.mu.RLock()
	out := lo.Filter(lo.Keys(r.rooms), func(id string, _ int) bool { return id != exclude })
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
