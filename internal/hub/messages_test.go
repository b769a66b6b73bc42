package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/SlashHub/internal/protocol"
	"github.com/fenggwsx/SlashHub/internal/storage"
)

func TestMessageEndToEnd(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	chat := f.chat(alice, bob)
	aPhone, aLaptop, b := f.connect(alice), f.connect(alice), f.connect(bob)
	for _, in := range []*inbox{aPhone, aLaptop, b} {
		in.reset()
	}

	require.NoError(t, f.send(aPhone, chat.ID, "hi"))

	for name, in := range map[string]*inbox{"sender": aPhone, "other device": aLaptop, "peer": b} {
		got := in.named(protocol.EventNewMessage)
		require.Len(t, got, 1, name)
		msg := payload[protocol.NewMessageEvent](t, got[0]).Message
		assert.NotEmpty(t, msg.ID, name)
		assert.Equal(t, alice.ID, msg.Sender.ID, name)
		assert.Equal(t, "alice", msg.Sender.Username, name)
		assert.Equal(t, "hi", msg.Content.Text, name)
		assert.Equal(t, storage.DeliverySent, msg.DeliveryStatus, name)
	}

	msgID := payload[protocol.NewMessageEvent](t, b.named(protocol.EventNewMessage)[0]).Message.ID
	delivered := b.named(protocol.EventDelivered)
	require.Len(t, delivered, 1)
	assert.Equal(t, protocol.DeliveredEvent{MessageID: msgID, ChatID: chat.ID}, payload[protocol.DeliveredEvent](t, delivered[0]))
	assert.Empty(t, aPhone.named(protocol.EventDelivered))
	assert.Empty(t, aLaptop.named(protocol.EventDelivered))

	stored, err := f.store.LoadChat(f.ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, msgID, stored.LastMessageID)
}

func TestMessageFromNonParticipantIsRejected(t *testing.T) {
	f := newFixture(t)
	alice, bob, mallory := f.user("alice"), f.user("bob"), f.user("mallory")
	chat := f.chat(alice, bob)
	a, b, m := f.connect(alice), f.connect(bob), f.connect(mallory)

	env := protocol.Envelope{
		ID:      "req-1",
		Type:    protocol.MessageTypeEvent,
		Event:   protocol.EventSendMessage,
		Payload: protocol.SendMessageRequest{ChatID: chat.ID, Content: protocol.ContentView{Text: "let me in"}},
	}
	err := f.hub.Dispatch(f.ctx, m.s, env)
	assert.ErrorIs(t, err, ErrPermission)

	for _, in := range []*inbox{a, b, m} {
		assert.Empty(t, in.named(protocol.EventNewMessage))
	}
	errs := m.named(protocol.EventMessageError)
	require.Len(t, errs, 1)
	ev := payload[protocol.ErrorEvent](t, errs[0])
	assert.Equal(t, "req-1", ev.ReferenceID)
	assert.Equal(t, protocol.EventSendMessage, ev.Event)
	assert.Empty(t, a.named(protocol.EventMessageError))

	msgs, err := f.store.ListMessages(f.ctx, chat.ID, time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMessageToUnknownChat(t *testing.T) {
	f := newFixture(t)
	a := f.connect(f.user("alice"))

	err := f.send(a, "no-such-chat", "hello")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPersistFailureAbortsFanOut(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	chat := f.chat(alice, bob)
	a, b := f.connect(alice), f.connect(bob)
	f.store.set(func(s *faultyStore) { s.failPersist = true })

	err := f.hub.Dispatch(f.ctx, a.s, protocol.Envelope{
		ID:      "req-2",
		Event:   protocol.EventSendMessage,
		Payload: protocol.SendMessageRequest{ChatID: chat.ID, Content: protocol.ContentView{Text: "hi"}},
	})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, errInjected)

	assert.Empty(t, a.named(protocol.EventNewMessage))
	assert.Empty(t, b.named(protocol.EventNewMessage))
	assert.Empty(t, b.named(protocol.EventDelivered))
	assert.Len(t, a.named(protocol.EventMessageError), 1)
	assert.Empty(t, b.named(protocol.EventMessageError))
}

func TestLastMessagePointerIsBestEffort(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	chat := f.chat(alice, bob)
	a, b := f.connect(alice), f.connect(bob)
	f.store.set(func(s *faultyStore) { s.failLastMsg = true })

	require.NoError(t, f.send(a, chat.ID, "still delivered"))
	assert.Len(t, b.named(protocol.EventNewMessage), 1)
	assert.Len(t, b.named(protocol.EventDelivered), 1)

	stored, err := f.store.LoadChat(f.ctx, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.LastMessageID)
}

func TestReplyAndMentionsAreExpanded(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	chat := f.chat(alice, bob)
	a, b := f.connect(alice), f.connect(bob)

	require.NoError(t, f.send(b, chat.ID, "lunch?"))
	original := payload[protocol.NewMessageEvent](t, a.named(protocol.EventNewMessage)[0]).Message
	a.reset()

	require.NoError(t, f.hub.Handle(f.ctx, a.s, SendMessage{ChatID: chat.ID, Text: "sure @bob", ReplyTo: original.ID}))
	reply := payload[protocol.NewMessageEvent](t, a.named(protocol.EventNewMessage)[0]).Message
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, original.ID, reply.ReplyTo.ID)
	assert.Equal(t, "bob", reply.ReplyTo.Sender.Username)
	assert.Equal(t, []storage.Mention{{Username: "bob", Index: 5}}, reply.Content.Mentions)

	err := f.hub.Handle(f.ctx, a.s, SendMessage{ChatID: chat.ID, Text: "x", ReplyTo: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEditAndDeleteOwnMessage(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	chat := f.chat(alice, bob)
	a, b := f.connect(alice), f.connect(bob)

	require.NoError(t, f.send(a, chat.ID, "helo"))
	msgID := payload[protocol.NewMessageEvent](t, b.named(protocol.EventNewMessage)[0]).Message.ID

	err := f.hub.Handle(f.ctx, b.s, EditMessage{MessageID: msgID, Text: "hijack"})
	assert.ErrorIs(t, err, ErrPermission)

	require.NoError(t, f.hub.Handle(f.ctx, a.s, EditMessage{MessageID: msgID, Text: "hello"}))
	updates := b.named(protocol.EventMessageUpdated)
	require.Len(t, updates, 1)
	edited := payload[protocol.MessageUpdatedEvent](t, updates[0]).Message
	assert.True(t, edited.IsEdited)
	assert.Equal(t, "hello", edited.Content.Text)
	require.Len(t, edited.EditHistory, 1)
	assert.Equal(t, "helo", edited.EditHistory[0].Content)

	require.NoError(t, f.hub.Handle(f.ctx, a.s, DeleteMessage{MessageID: msgID}))
	stored, err := f.store.LoadMessage(f.ctx, msgID)
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted)
	assert.Empty(t, stored.Content.Text)
	assert.Len(t, b.named(protocol.EventMessageUpdated), 2)

	err = f.hub.Handle(f.ctx, a.s, EditMessage{MessageID: msgID, Text: "again"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestHistoryIsChronologicalAndPrivate(t *testing.T) {
	f := newFixture(t)
	alice, bob, eve := f.user("alice"), f.user("bob"), f.user("eve")
	chat := f.chat(alice, bob)
	a, b, e := f.connect(alice), f.connect(bob), f.connect(eve)

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, f.send(a, chat.ID, text))
		f.clock.Advance(time.Second)
	}
	b.reset()

	require.NoError(t, f.hub.Handle(f.ctx, a.s, LoadHistory{ChatID: chat.ID, Limit: 2}))
	pages := a.named(protocol.EventChatHistory)
	require.Len(t, pages, 1)
	page := payload[protocol.ChatHistoryEvent](t, pages[0])
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "two", page.Messages[0].Content.Text)
	assert.Equal(t, "three", page.Messages[1].Content.Text)
	assert.Empty(t, b.named(protocol.EventChatHistory))

	err := f.hub.Handle(f.ctx, e.s, LoadHistory{ChatID: chat.ID})
	assert.ErrorIs(t, err, ErrPermission)
}

func TestEditStampsHubClock(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	chat := f.chat(alice, bob)
	a, b := f.connect(alice), f.connect(bob)

	require.NoError(t, f.send(a, chat.ID, "helo"))
	msgID := payload[protocol.NewMessageEvent](t, b.named(protocol.EventNewMessage)[0]).Message.ID

	f.clock.Advance(time.Hour)
	require.NoError(t, f.hub.Handle(f.ctx, a.s, EditMessage{MessageID: msgID, Text: "hello"}))

	stored, err := f.store.LoadMessage(f.ctx, msgID)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().UTC(), stored.UpdatedAt)
}
