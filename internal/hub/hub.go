// Package hub is the real-time fan-out engine: it tracks live sessions and
// their rooms, presence and typing state, and turns inbound client events
// into persisted state plus outbound events.
package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fenggwsx/SlashHub/internal/config"
	"github.com/fenggwsx/SlashHub/internal/protocol"
	"github.com/fenggwsx/SlashHub/internal/storage"
)

// Options tune a Hub. Zero values select defaults.
type Options struct {
	Config config.HubConfig
	Clock  clockwork.Clock
	Logger *zap.Logger
}

// Hub wires the registry, room index, presence, typing, message and
// reaction components over one store.
type Hub struct {
	store    Store
	verifier CredentialVerifier
	cfg      config.HubConfig
	clock    clockwork.Clock
	logger   *zap.Logger

	registry *Registry
	rooms    *Rooms
	router   *Router
	presence *Presence
	typing   *Typing
	messages *Pipeline
	merger   *Merger
	chats    *chatCreator

	memberships singleflight.Group
}

// New builds a hub. Call Run to start its periodic work.
func New(store Store, verifier CredentialVerifier, opts Options) *Hub {
	cfg := opts.Config
	defaults := config.DefaultHubConfig()
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = defaults.TypingTimeout
	}
	if cfg.PresenceInterval <= 0 {
		cfg.PresenceInterval = defaults.PresenceInterval
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaults.HistoryLimit
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("hub")

	registry := NewRegistry()
	rooms := NewRooms()
	router := NewRouter(registry, rooms, clock, logger)
	messageLocks := newKeyedMutex()

	return &Hub{
		store:    store,
		verifier: verifier,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		registry: registry,
		rooms:    rooms,
		router:   router,
		presence: NewPresence(store, registry, rooms, router, clock, cfg.PresenceInterval, logger),
		typing:   NewTyping(router, clock, cfg.TypingTimeout),
		messages: newPipeline(store, router, clock, messageLocks, cfg.HistoryLimit, logger),
		merger:   newMerger(store, router, clock, messageLocks, logger),
		chats:    &chatCreator{store: store, router: router, clock: clock, logger: logger},
	}
}

// Registry exposes the session registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Presence exposes the presence tracker.
func (h *Hub) Presence() *Presence { return h.presence }

// Typing exposes the typing coordinator.
func (h *Hub) Typing() *Typing { return h.typing }

// Authenticate resolves a connection credential to its user. Any failure
// is reported as ErrAuth and has no side effects.
func (h *Hub) Authenticate(ctx context.Context, token string) (*storage.User, error) {
	userID, err := h.verifier.VerifyCredential(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	user, err := h.store.LoadUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: load user %s: %v", ErrAuth, userID, err)
	}
	return user, nil
}

// Connect opens a session for an authenticated user, joins it to the rooms
// of its chats and marks the user online if this is its first session.
func (h *Hub) Connect(ctx context.Context, user *storage.User) (*Session, error) {
	if user == nil || user.ID == "" {
		return nil, ErrAuth
	}
	memberships, err := h.loadMemberships(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s := newSession(*user, h.cfg.SendBuffer)
	h.presence.Attach(ctx, s, memberships)
	h.logger.Info("session connected",
		zap.String("session_id", s.ID()),
		zap.String("user_id", s.UserID()),
		zap.Int("rooms", len(memberships)),
	)
	return s, nil
}

func (h *Hub) loadMemberships(ctx context.Context, userID string) ([]storage.ChatMembership, error) {
	v, err, _ := h.memberships.Do(userID, func() (interface{}, error) {
		return h.store.LoadChatsForUser(ctx, userID)
	})
	if err != nil {
		return nil, storeErr("load chats", err)
	}
	return v.([]storage.ChatMembership), nil
}

// Disconnect tears s down. It is safe to call more than once.
func (h *Hub) Disconnect(ctx context.Context, s *Session) {
	h.presence.Detach(context.WithoutCancel(ctx), s)
	h.logger.Info("session disconnected",
		zap.String("session_id", s.ID()),
		zap.String("user_id", s.UserID()),
	)
}

// Dispatch decodes and handles one event envelope from s. Failures are
// reported to s alone as message-error and returned.
func (h *Hub) Dispatch(ctx context.Context, s *Session, env protocol.Envelope) error {
	ev, err := DecodeEvent(env)
	if err == nil {
		err = h.Handle(ctx, s, ev)
	}
	if err != nil {
		h.reportError(s, env, err)
	}
	return err
}

// Handle routes a typed event to the component that owns it.
func (h *Hub) Handle(ctx context.Context, s *Session, ev Event) error {
	var err error
	switch e := ev.(type) {
	case SendMessage:
		_, err = h.messages.OnIncomingMessage(ctx, s, e)
	case TypingStart:
		// Rooms outside the connect-time snapshot are ignored.
		if s.InRoom(e.ChatID) {
			h.typing.OnTypingStart(s, e.ChatID)
		}
	case MessageRead:
		_, err = h.merger.OnReadReceipt(ctx, s.UserID(), e.MessageID, e.ChatID)
	case MessageReaction:
		_, err = h.merger.OnReaction(ctx, s.UserID(), e.MessageID, e.Emoji)
	case EditMessage:
		_, err = h.messages.Edit(ctx, s, e)
	case DeleteMessage:
		_, err = h.messages.Delete(ctx, s, e)
	case LoadHistory:
		_, err = h.messages.History(ctx, s, e)
	case CreateChat:
		_, err = h.chats.create(ctx, s, e)
	case SetStatus:
		err = h.presence.SetStatus(ctx, s.UserID(), e.Status)
	default:
		err = fmt.Errorf("unhandled event %T: %w", ev, ErrInvalid)
	}
	return err
}

func (h *Hub) reportError(s *Session, env protocol.Envelope, err error) {
	level := h.logger.Info
	if errors.Is(err, ErrPersistence) {
		level = h.logger.Error
	}
	level("event failed",
		zap.String("event", env.Event),
		zap.String("session_id", s.ID()),
		zap.String("user_id", s.UserID()),
		zap.Error(err),
	)
	h.router.ToSession(s, h.router.Envelope(protocol.EventMessageError, protocol.ErrorEvent{
		Error:       clientReason(err),
		Event:       env.Event,
		ReferenceID: env.ID,
	}))
}

// Run drives the periodic online-users broadcast until ctx is done, then
// cancels pending typing timers.
func (h *Hub) Run(ctx context.Context) error {
	defer h.typing.Stop()
	h.presence.Run(ctx)
	return nil
}
