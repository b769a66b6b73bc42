package hub

import (
	"sort"
	"sync"
)

// Registry maps users to their live sessions.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]map[string]*Session)}
}

// Register adds s and reports whether it is the first session of its user.
func (r *Registry) Register(s *Session) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.byUser[s.UserID()]
	if !ok {
		sessions = make(map[string]*Session)
		r.byUser[s.UserID()] = sessions
	}
	first = len(sessions) == 0
	sessions[s.ID()] = s
	return first
}

// Unregister removes s and reports whether it was the last session of its
// user. Removing a session that is not registered is a no-op returning false.
func (r *Registry) Unregister(s *Session) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.byUser[s.UserID()]
	if !ok {
		return false
	}
	if _, ok := sessions[s.ID()]; !ok {
		return false
	}
	delete(sessions, s.ID())
	if len(sessions) == 0 {
		delete(r.byUser, s.UserID())
		return true
	}
	return false
}

// SessionsFor returns the live sessions of userID; empty when offline.
func (r *Registry) SessionsFor(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := r.byUser[userID]
	out := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s)
	}
	return out
}

// IsOnline reports whether userID holds at least one live session.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// OnlineUsers returns the ids of every online user, sorted.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// All returns every live session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, sessions := range r.byUser {
		for _, s := range sessions {
			out = append(out, s)
		}
	}
	return out
}
