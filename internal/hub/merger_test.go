package hub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/SlashHub/internal/protocol"
	"github.com/fenggwsx/SlashHub/internal/storage"
)

func postedMessage(t *testing.T, f *fixture, from *inbox, chatID string) string {
	t.Helper()
	require.NoError(t, f.send(from, chatID, "react to me"))
	got := from.named(protocol.EventNewMessage)
	require.NotEmpty(t, got)
	return payload[protocol.NewMessageEvent](t, got[len(got)-1]).Message.ID
}

func TestReactionLastWriterWins(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	chat := f.chat(alice, bob)
	a, b := f.connect(alice), f.connect(bob)
	msgID := postedMessage(t, f, a, chat.ID)

	require.NoError(t, f.hub.Handle(f.ctx, b.s, MessageReaction{MessageID: msgID, Emoji: "A"}))
	require.NoError(t, f.hub.Handle(f.ctx, b.s, MessageReaction{MessageID: msgID, Emoji: "B"}))

	stored, err := f.store.LoadMessage(f.ctx, msgID)
	require.NoError(t, err)
	assert.Equal(t, []storage.Reaction{{UserID: bob.ID, Emoji: "B"}}, stored.Reactions)

	updates := a.named(protocol.EventReactionUpdated)
	require.Len(t, updates, 2)
	last := payload[protocol.ReactionEvent](t, updates[1])
	assert.Equal(t, msgID, last.MessageID)
	assert.Equal(t, []storage.Reaction{{UserID: bob.ID, Emoji: "B"}}, last.Reactions)
	assert.Len(t, b.named(protocol.EventReactionUpdated), 2, "reactor receives the merged set too")
}

func TestConcurrentReactionsKeepOneEntryPerUser(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	chat := f.chat(alice, bob)
	a, b := f.connect(alice), f.connect(bob)
	msgID := postedMessage(t, f, a, chat.ID)

	var wg sync.WaitGroup
	for _, emoji := range []string{"A", "B"} {
		wg.Add(1)
		go func(emoji string) {
			defer wg.Done()
			assert.NoError(t, f.hub.Handle(f.ctx, b.s, MessageReaction{MessageID: msgID, Emoji: emoji}))
		}(emoji)
	}
	wg.Wait()

	stored, err := f.store.LoadMessage(f.ctx, msgID)
	require.NoError(t, err)
	require.Len(t, stored.Reactions, 1)

	// The stored value is whichever update applied last, as seen in the
	// final broadcast.
	updates := a.named(protocol.EventReactionUpdated)
	require.Len(t, updates, 2)
	final := payload[protocol.ReactionEvent](t, updates[1]).Reactions
	assert.Equal(t, final, stored.Reactions)
}

func TestReactionRepeatAndRemoval(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	chat := f.chat(alice, bob)
	a, b := f.connect(alice), f.connect(bob)
	msgID := postedMessage(t, f, a, chat.ID)

	require.NoError(t, f.hub.Handle(f.ctx, b.s, MessageReaction{MessageID: msgID, Emoji: "👍"}))
	saves := f.store.saveCount()
	require.NoError(t, f.hub.Handle(f.ctx, b.s, MessageReaction{MessageID: msgID, Emoji: "👍"}))
	assert.Equal(t, saves, f.store.saveCount(), "same emoji is not saved again")

	require.NoError(t, f.hub.Handle(f.ctx, b.s, MessageReaction{MessageID: msgID, Emoji: ""}))
	stored, err := f.store.LoadMessage(f.ctx, msgID)
	require.NoError(t, err)
	assert.Empty(t, stored.Reactions)
}

func TestReadReceiptIsSetSemantic(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	chat := f.chat(alice, bob)
	a, b := f.connect(alice), f.connect(bob)
	msgID := postedMessage(t, f, a, chat.ID)

	readAt := f.clock.Now().UTC()
	require.NoError(t, f.hub.Handle(f.ctx, b.s, MessageRead{MessageID: msgID, ChatID: chat.ID}))

	stored, err := f.store.LoadMessage(f.ctx, msgID)
	require.NoError(t, err)
	assert.Equal(t, storage.DeliveryRead, stored.DeliveryStatus)
	require.Len(t, stored.ReadBy, 1)
	assert.True(t, readAt.Equal(stored.ReadBy[0].ReadAt))

	f.clock.Advance(10)
	require.NoError(t, f.hub.Handle(f.ctx, b.s, MessageRead{MessageID: msgID, ChatID: chat.ID}))
	stored, err = f.store.LoadMessage(f.ctx, msgID)
	require.NoError(t, err)
	require.Len(t, stored.ReadBy, 1)
	assert.Equal(t, bob.ID, stored.ReadBy[0].UserID)
	assert.True(t, readAt.Equal(stored.ReadBy[0].ReadAt), "second read keeps readAt")
	assert.Equal(t, storage.DeliveryRead, stored.DeliveryStatus)

	for _, in := range []*inbox{a, b} {
		receipts := in.named(protocol.EventReceiptUpdated)
		require.Len(t, receipts, 2)
		assert.Equal(t, protocol.ReceiptEvent{MessageID: msgID, UserID: bob.ID, Status: storage.DeliveryRead},
			payload[protocol.ReceiptEvent](t, receipts[0]))
	}
}

func TestReceiptAndReactionRequireParticipant(t *testing.T) {
	f := newFixture(t)
	alice, bob, eve := f.user("alice"), f.user("bob"), f.user("eve")
	chat := f.chat(alice, bob)
	a, e := f.connect(alice), f.connect(eve)
	msgID := postedMessage(t, f, a, chat.ID)

	assert.ErrorIs(t, f.hub.Handle(f.ctx, e.s, MessageRead{MessageID: msgID, ChatID: chat.ID}), ErrPermission)
	assert.ErrorIs(t, f.hub.Handle(f.ctx, e.s, MessageReaction{MessageID: msgID, Emoji: "x"}), ErrPermission)
	assert.ErrorIs(t, f.hub.Handle(f.ctx, a.s, MessageRead{MessageID: "missing"}), ErrNotFound)
	assert.ErrorIs(t, f.hub.Handle(f.ctx, a.s, MessageRead{MessageID: msgID, ChatID: "other"}), ErrNotFound)

	stored, err := f.store.LoadMessage(f.ctx, msgID)
	require.NoError(t, err)
	assert.Empty(t, stored.ReadBy)
	assert.Empty(t, stored.Reactions)
}
