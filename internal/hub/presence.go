package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/fenggwsx/SlashHub/internal/protocol"
	"github.com/fenggwsx/SlashHub/internal/storage"
)

type presenceStore interface {
	UpdateUserPresence(ctx context.Context, userID, status string, lastSeenAt time.Time) error
}

// PresenceState is the tracked status of one user.
type PresenceState struct {
	Status     string
	LastSeenAt time.Time
}

// Presence drives online, away and offline transitions. It owns the
// registry mutations so the first and last session of a user are decided
// under the same per-user lock that emits the matching broadcast.
type Presence struct {
	store    presenceStore
	registry *Registry
	rooms    *Rooms
	router   *Router
	clock    clockwork.Clock
	logger   *zap.Logger
	interval time.Duration

	users *keyedMutex

	mu     sync.RWMutex
	states map[string]PresenceState
}

// NewPresence builds a tracker that rebroadcasts the online set every interval.
func NewPresence(store presenceStore, registry *Registry, rooms *Rooms, router *Router, clock clockwork.Clock, interval time.Duration, logger *zap.Logger) *Presence {
	return &Presence{
		store:    store,
		registry: registry,
		rooms:    rooms,
		router:   router,
		clock:    clock,
		logger:   logger,
		interval: interval,
		users:    newKeyedMutex(),
		states:   make(map[string]PresenceState),
	}
}

// Attach registers s, joins its room snapshot and, for the first session of
// the user, marks the user online.
func (p *Presence) Attach(ctx context.Context, s *Session, memberships []storage.ChatMembership) {
	unlock := p.users.Lock(s.UserID())
	defer unlock()

	first := p.registry.Register(s)
	p.rooms.JoinRoomsFor(s, memberships)
	if !first {
		return
	}

	now := p.clock.Now().UTC()
	p.setState(s.UserID(), storage.StatusOnline, now)
	p.persist(ctx, s.UserID(), storage.StatusOnline, now)
	p.router.ToRooms(s.Rooms(), p.router.Envelope(protocol.EventUserOnline, protocol.UserOnlineEvent{
		UserID: s.UserID(),
	}), skipUser(s.UserID()))
}

// Detach unregisters s and, when it was the last session of the user,
// marks the user offline. Calling it twice for the same session is a no-op.
func (p *Presence) Detach(ctx context.Context, s *Session) {
	unlock := p.users.Lock(s.UserID())
	defer unlock()

	rooms := s.Rooms()
	last := p.registry.Unregister(s)
	p.rooms.Leave(s)
	s.close()
	if !last {
		return
	}

	now := p.clock.Now().UTC()
	p.setState(s.UserID(), storage.StatusOffline, now)
	p.persist(ctx, s.UserID(), storage.StatusOffline, now)
	p.router.ToRooms(rooms, p.router.Envelope(protocol.EventUserOffline, protocol.UserOfflineEvent{
		UserID:   s.UserID(),
		LastSeen: now,
	}), skipUser(s.UserID()))
}

// SetStatus switches a connected user between online and away.
func (p *Presence) SetStatus(ctx context.Context, userID, status string) error {
	if status != storage.StatusOnline && status != storage.StatusAway {
		return fmt.Errorf("status %q: %w", status, ErrInvalid)
	}

	unlock := p.users.Lock(userID)
	defer unlock()

	if !p.registry.IsOnline(userID) {
		return fmt.Errorf("user %s is not connected: %w", userID, ErrInvalid)
	}
	if current, ok := p.State(userID); ok && current.Status == status {
		return nil
	}

	now := p.clock.Now().UTC()
	p.setState(userID, status, now)
	p.persist(ctx, userID, status, now)

	var rooms []string
	for _, s := range p.registry.SessionsFor(userID) {
		rooms = append(rooms, s.Rooms()...)
	}
	p.router.ToRooms(rooms, p.router.Envelope(protocol.EventUserStatus, protocol.UserStatusEvent{
		UserID: userID,
		Status: status,
	}), nil)
	return nil
}

// State returns the last known presence of userID.
func (p *Presence) State(userID string) (PresenceState, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	state, ok := p.states[userID]
	return state, ok
}

// Online returns the sorted ids of every connected user.
func (p *Presence) Online() []string {
	return p.registry.OnlineUsers()
}

// Snapshot returns the state of every connected user keyed by id.
func (p *Presence) Snapshot() map[string]PresenceState {
	ids := p.registry.OnlineUsers()
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]PresenceState, len(ids))
	for _, id := range ids {
		out[id] = p.states[id]
	}
	return out
}

// BroadcastOnline sends the full online set to every session.
func (p *Presence) BroadcastOnline() int {
	return p.router.ToAll(p.router.Envelope(protocol.EventOnlineUsers, protocol.OnlineUsersEvent{
		UserIDs: p.registry.OnlineUsers(),
	}))
}

// Run rebroadcasts the online set on every tick until ctx is done.
func (p *Presence) Run(ctx context.Context) {
	if p.interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			n := p.BroadcastOnline()
			p.logger.Debug("online users broadcast", zap.Int("sessions", n))
		}
	}
}

func (p *Presence) setState(userID, status string, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[userID] = PresenceState{Status: status, LastSeenAt: at}
}

// persist is best-effort: failures are logged and never surface to clients.
func (p *Presence) persist(ctx context.Context, userID, status string, at time.Time) {
	if err := p.store.UpdateUserPresence(ctx, userID, status, at); err != nil {
		p.logger.Warn("presence update failed",
			zap.String("user_id", userID),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}
