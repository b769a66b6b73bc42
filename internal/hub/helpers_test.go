package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fenggwsx/SlashHub/internal/config"
	"github.com/fenggwsx/SlashHub/internal/protocol"
	"github.com/fenggwsx/SlashHub/internal/storage"
	"github.com/fenggwsx/SlashHub/internal/storage/memory"
)

var errInjected = errors.New("injected failure")

// faultyStore wraps the memory store with switchable write failures and
// records presence writes.
type faultyStore struct {
	*memory.Store

	mu             sync.Mutex
	failPersist    bool
	failLastMsg    bool
	failPresence   bool
	failSave       bool
	presenceWrites []presenceWrite
	saves          int
}

type presenceWrite struct {
	userID string
	status string
	at     time.Time
}

func (f *faultyStore) PersistMessage(ctx context.Context, msg *storage.Message) error {
	f.mu.Lock()
	fail := f.failPersist
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Store.PersistMessage(ctx, msg)
}

func (f *faultyStore) UpdateChatLastMessage(ctx context.Context, chatID, messageID string) error {
	f.mu.Lock()
	fail := f.failLastMsg
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Store.UpdateChatLastMessage(ctx, chatID, messageID)
}

func (f *faultyStore) UpdateUserPresence(ctx context.Context, userID, status string, at time.Time) error {
	f.mu.Lock()
	f.presenceWrites = append(f.presenceWrites, presenceWrite{userID: userID, status: status, at: at})
	fail := f.failPresence
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Store.UpdateUserPresence(ctx, userID, status, at)
}

func (f *faultyStore) SaveMessage(ctx context.Context, msg *storage.Message) error {
	f.mu.Lock()
	f.saves++
	fail := f.failSave
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Store.SaveMessage(ctx, msg)
}

func (f *faultyStore) set(apply func(*faultyStore)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	apply(f)
}

func (f *faultyStore) presenceLog() []presenceWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]presenceWrite(nil), f.presenceWrites...)
}

func (f *faultyStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

// tokenVerifier accepts tokens of the form "token-<userID>".
type tokenVerifier struct{}

func (tokenVerifier) VerifyCredential(token string) (string, error) {
	const prefix = "token-"
	if len(token) <= len(prefix) || token[:len(prefix)] != prefix {
		return "", errors.New("bad token")
	}
	return token[len(prefix):], nil
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	hub   *Hub
	store *faultyStore
	clock *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := &faultyStore{Store: memory.NewStore()}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	h := New(store, tokenVerifier{}, Options{
		Config: config.HubConfig{
			TypingTimeout:    3 * time.Second,
			PresenceInterval: 30 * time.Second,
			SendBuffer:       1024,
			HistoryLimit:     50,
		},
		Clock:  clock,
		Logger: zaptest.NewLogger(t),
	})
	return &fixture{t: t, ctx: context.Background(), hub: h, store: store, clock: clock}
}

func (f *fixture) user(name string) *storage.User {
	f.t.Helper()
	u := &storage.User{Username: name}
	require.NoError(f.t, f.store.CreateUser(f.ctx, u))
	return u
}

func (f *fixture) chat(participants ...*storage.User) *storage.Chat {
	f.t.Helper()
	c := &storage.Chat{Type: storage.ChatGroup, Name: "room"}
	if len(participants) == 2 {
		c.Type, c.Name = storage.ChatPrivate, ""
	}
	for _, p := range participants {
		c.Participants = append(c.Participants, p.ID)
	}
	require.NoError(f.t, f.store.CreateChat(f.ctx, c))
	return c
}

func (f *fixture) connect(u *storage.User) *inbox {
	f.t.Helper()
	s, err := f.hub.Connect(f.ctx, u)
	require.NoError(f.t, err)
	return &inbox{s: s}
}

func (f *fixture) send(in *inbox, chatID, text string) error {
	return f.hub.Handle(f.ctx, in.s, SendMessage{ChatID: chatID, Text: text})
}

// inbox accumulates everything queued for a session.
type inbox struct {
	mu  sync.Mutex
	s   *Session
	got []protocol.Envelope
}

func (i *inbox) pull() []protocol.Envelope {
	i.mu.Lock()
	defer i.mu.Unlock()
	for {
		select {
		case env := <-i.s.Outbound():
			i.got = append(i.got, env)
		default:
			return append([]protocol.Envelope(nil), i.got...)
		}
	}
}

func (i *inbox) named(event string) []protocol.Envelope {
	var out []protocol.Envelope
	for _, env := range i.pull() {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func (i *inbox) reset() {
	i.pull()
	i.mu.Lock()
	i.got = nil
	i.mu.Unlock()
}

func payload[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	v, ok := env.Payload.(T)
	require.Truef(t, ok, "payload of %s is %T", env.Event, env.Payload)
	return v
}
