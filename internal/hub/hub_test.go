package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/SlashHub/internal/protocol"
	"github.com/fenggwsx/SlashHub/internal/storage"
)

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	alice := f.user("alice")

	user, err := f.hub.Authenticate(f.ctx, "token-"+alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	_, err = f.hub.Authenticate(f.ctx, "garbage")
	assert.ErrorIs(t, err, ErrAuth)

	_, err = f.hub.Authenticate(f.ctx, "token-ghost")
	assert.ErrorIs(t, err, ErrAuth)

	assert.Empty(t, f.hub.Registry().OnlineUsers())
	assert.Empty(t, f.store.presenceLog())
}

func TestConnectJoinsSnapshotAndPersonalRoom(t *testing.T) {
	f := newFixture(t)
	alice, bob, carol := f.user("alice"), f.user("bob"), f.user("carol")
	c1 := f.chat(alice, bob)
	c2 := f.chat(alice, bob, carol)
	f.chat(bob, carol)

	a := f.connect(alice)
	assert.ElementsMatch(t, []string{c1.ID, c2.ID, PersonalRoom(alice.ID)}, a.s.Rooms())
	assert.Empty(t, a.s.User().Password)

	late := f.chat(alice, carol)
	assert.False(t, a.s.InRoom(late.ID), "snapshot is not refreshed")

	f.hub.Disconnect(f.ctx, a.s)
	assert.Empty(t, a.s.Rooms())
	select {
	case <-a.s.Done():
	default:
		t.Fatal("session not closed")
	}
}

func TestConcurrentConnectsShareOnePresenceTransition(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	f.chat(alice, bob)
	peer := f.connect(bob)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.hub.Connect(f.ctx, alice)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, f.hub.Registry().SessionsFor(alice.ID), 8)
	assert.Len(t, peer.named(protocol.EventUserOnline), 1)
}

func TestCreateChatNotifiesPersonalRooms(t *testing.T) {
	f := newFixture(t)
	alice, bob, carol := f.user("alice"), f.user("bob"), f.user("carol")
	a, b, c := f.connect(alice), f.connect(bob), f.connect(carol)

	require.NoError(t, f.hub.Handle(f.ctx, a.s, CreateChat{Type: storage.ChatPrivate, Participants: []string{bob.ID, alice.ID}}))

	for _, in := range []*inbox{a, b} {
		created := in.named(protocol.EventChatCreated)
		require.Len(t, created, 1)
		chat := payload[protocol.ChatCreatedEvent](t, created[0]).Chat
		assert.ElementsMatch(t, []string{alice.ID, bob.ID}, chat.Participants)
		assert.Equal(t, storage.ChatPrivate, chat.Type)
	}
	assert.Empty(t, c.named(protocol.EventChatCreated))

	assert.ErrorIs(t, f.hub.Handle(f.ctx, a.s, CreateChat{Type: storage.ChatGroup, Participants: []string{bob.ID}}), ErrInvalid)
	assert.ErrorIs(t, f.hub.Handle(f.ctx, a.s, CreateChat{Type: storage.ChatPrivate, Participants: []string{bob.ID, carol.ID}}), ErrInvalid)
	assert.ErrorIs(t, f.hub.Handle(f.ctx, a.s, CreateChat{Type: storage.ChatGroup, Title: "x", Participants: []string{"ghost"}}), ErrNotFound)

	require.NoError(t, f.hub.Handle(f.ctx, a.s, CreateChat{Type: storage.ChatGroup, Title: "team", Participants: []string{bob.ID, carol.ID}}))
	group := payload[protocol.ChatCreatedEvent](t, c.named(protocol.EventChatCreated)[0]).Chat
	assert.Equal(t, "team", group.Name)
	assert.Equal(t, []string{alice.ID}, group.Admins)
}

func TestDispatchReportsInvalidPayload(t *testing.T) {
	f := newFixture(t)
	a := f.connect(f.user("alice"))

	err := f.hub.Dispatch(f.ctx, a.s, protocol.Envelope{ID: "r1", Event: protocol.EventReaction, Payload: "not an object"})
	assert.ErrorIs(t, err, ErrInvalid)

	errs := a.named(protocol.EventMessageError)
	require.Len(t, errs, 1)
	assert.Equal(t, "r1", payload[protocol.ErrorEvent](t, errs[0]).ReferenceID)
}

func TestFullQueueDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	f.hub.cfg.SendBuffer = 1
	alice, bob, carol := f.user("alice"), f.user("bob"), f.user("carol")
	chat := f.chat(alice, bob, carol)
	a, b := f.connect(alice), f.connect(bob)
	f.hub.cfg.SendBuffer = 1024
	c := f.connect(carol)

	// Fill bob's single slot so later events are dropped for bob only.
	b.s.deliver(protocol.Envelope{ID: "filler"})

	require.NoError(t, f.send(a, chat.ID, "hello"))
	assert.Len(t, c.named(protocol.EventNewMessage), 1)
	assert.Len(t, c.named(protocol.EventDelivered), 1)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan error, 1)
	go func() { done <- f.hub.Run(ctx) }()

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, f.hub.Typing().OnTypingStart(newSession(storage.User{ID: "x"}, 1), "room"))
}
