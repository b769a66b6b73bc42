package hub

import (
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/fenggwsx/SlashHub/internal/protocol"
)

// Router addresses outbound events to rooms, users or every session.
// Delivery never blocks and a failed enqueue only affects its own target.
type Router struct {
	registry *Registry
	rooms    *Rooms
	clock    clockwork.Clock
	logger   *zap.Logger
}

// NewRouter builds a router over the given indexes.
func NewRouter(registry *Registry, rooms *Rooms, clock clockwork.Clock, logger *zap.Logger) *Router {
	return &Router{registry: registry, rooms: rooms, clock: clock, logger: logger}
}

// Envelope wraps payload as an outbound event.
func (r *Router) Envelope(event string, payload interface{}) protocol.Envelope {
	return protocol.Envelope{
		ID:        uuid.NewString(),
		Type:      protocol.MessageTypeEvent,
		Event:     event,
		Timestamp: r.clock.Now().UTC(),
		Payload:   payload,
	}
}

// ToRoom delivers env to every session in room for which skip returns false.
// A nil skip delivers to all members. It returns the number of sessions reached.
func (r *Router) ToRoom(room string, env protocol.Envelope, skip func(*Session) bool) int {
	return r.ToRooms([]string{room}, env, skip)
}

// ToRooms delivers env once to every distinct session across rooms.
func (r *Router) ToRooms(rooms []string, env protocol.Envelope, skip func(*Session) bool) int {
	seen := make(map[string]struct{})
	var targets []*Session
	for _, room := range rooms {
		for _, s := range r.rooms.Members(room) {
			if _, dup := seen[s.ID()]; dup {
				continue
			}
			seen[s.ID()] = struct{}{}
			if skip != nil && skip(s) {
				continue
			}
			targets = append(targets, s)
		}
	}
	return r.deliverAll(targets, env)
}

// ToUser delivers env to the personal room of userID.
func (r *Router) ToUser(userID string, env protocol.Envelope) int {
	return r.ToRoom(PersonalRoom(userID), env, nil)
}

// ToSession delivers env to a single session.
func (r *Router) ToSession(s *Session, env protocol.Envelope) bool {
	return r.deliverAll([]*Session{s}, env) == 1
}

// ToAll delivers env to every registered session.
func (r *Router) ToAll(env protocol.Envelope) int {
	return r.deliverAll(r.registry.All(), env)
}

func (r *Router) deliverAll(targets []*Session, env protocol.Envelope) int {
	delivered := 0
	for _, s := range targets {
		if s.deliver(env) {
			delivered++
			continue
		}
		r.logger.Debug("outbound event dropped",
			zap.String("event", env.Event),
			zap.String("session_id", s.ID()),
			zap.String("user_id", s.UserID()),
		)
	}
	return delivered
}

// skipUser excludes every session owned by userID.
func skipUser(userID string) func(*Session) bool {
	return func(s *Session) bool { return s.UserID() == userID }
}

// skipSession excludes exactly one session.
func skipSession(target *Session) func(*Session) bool {
	return func(s *Session) bool { return s.ID() == target.ID() }
}
