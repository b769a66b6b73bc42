package hub

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/fenggwsx/SlashHub/internal/protocol"
	"github.com/fenggwsx/SlashHub/internal/storage"
)

// Session is one authenticated live connection of a user.
//
// Outbound events are queued on a bounded channel drained by the transport.
// The channel is never closed; Done signals teardown instead, so a late
// broadcast against a closed session is simply dropped.
type Session struct {
	id   string
	user storage.User
	out  chan protocol.Envelope
	done chan struct{}

	closeOnce sync.Once

	mu    sync.Mutex
	rooms map[string]struct{}
}

func newSession(user storage.User, buffer int) *Session {
	if buffer <= 0 {
		buffer = 1
	}
	user.Password = ""
	return &Session{
		id:    uuid.NewString(),
		user:  user,
		out:   make(chan protocol.Envelope, buffer),
		done:  make(chan struct{}),
		rooms: make(map[string]struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the id of the owning user.
func (s *Session) UserID() string { return s.user.ID }

// User returns the user resolved when the session was opened.
func (s *Session) User() storage.User { return s.user }

// Outbound yields envelopes queued for this session.
func (s *Session) Outbound() <-chan protocol.Envelope { return s.out }

// Done is closed once the session has been disconnected.
func (s *Session) Done() <-chan struct{} { return s.done }

// Rooms returns the rooms the session is subscribed to, sorted.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// InRoom reports whether the session joined room at connect time.
func (s *Session) InRoom(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[room]
	return ok
}

func (s *Session) addRoom(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room]; ok {
		return false
	}
	s.rooms[room] = struct{}{}
	return true
}

func (s *Session) clearRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		out = append(out, room)
	}
	s.rooms = make(map[string]struct{})
	return out
}

// deliver enqueues env without blocking. It reports false when the session
// is closed or its queue is full.
func (s *Session) deliver(env protocol.Envelope) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- env:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
