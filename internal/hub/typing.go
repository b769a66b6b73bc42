package hub

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fenggwsx/SlashHub/internal/protocol"
)

type typingKey struct {
	userID string
	roomID string
}

type typingEntry struct {
	timer   clockwork.Timer
	session *Session
}

// Typing debounces typing-start signals per user and room. A repeated start
// while an entry is active is ignored, so the stop event always fires a
// fixed timeout after the first start.
type Typing struct {
	router  *Router
	clock   clockwork.Clock
	timeout time.Duration

	mu      sync.Mutex
	active  map[typingKey]*typingEntry
	stopped bool
}

// NewTyping builds a coordinator expiring entries after timeout.
func NewTyping(router *Router, clock clockwork.Clock, timeout time.Duration) *Typing {
	return &Typing{
		router:  router,
		clock:   clock,
		timeout: timeout,
		active:  make(map[typingKey]*typingEntry),
	}
}

// OnTypingStart records that the user of s is typing in roomID. It reports
// whether a new entry was created.
func (t *Typing) OnTypingStart(s *Session, roomID string) bool {
	key := typingKey{userID: s.UserID(), roomID: roomID}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	if _, ok := t.active[key]; ok {
		return false
	}

	entry := &typingEntry{session: s}
	t.active[key] = entry
	t.router.ToRoom(roomID, t.event(key, true), skipSession(s))
	entry.timer = t.clock.AfterFunc(t.timeout, func() {
		t.expire(key, entry)
	})
	return true
}

func (t *Typing) expire(key typingKey, entry *typingEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active[key] != entry {
		return
	}
	delete(t.active, key)
	t.router.ToRoom(key.roomID, t.event(key, false), skipSession(entry.session))
}

// IsTyping reports whether an entry is active for the pair.
func (t *Typing) IsTyping(userID, roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[typingKey{userID: userID, roomID: roomID}]
	return ok
}

// Stop cancels every pending expiry. Later starts are ignored.
func (t *Typing) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for key, entry := range t.active {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(t.active, key)
	}
}

func (t *Typing) event(key typingKey, typing bool) protocol.Envelope {
	return t.router.Envelope(protocol.EventUserTyping, protocol.TypingEvent{
		UserID:   key.userID,
		ChatID:   key.roomID,
		IsTyping: typing,
	})
}
