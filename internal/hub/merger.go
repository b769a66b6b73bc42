package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/fenggwsx/SlashHub/internal/protocol"
	"github.com/fenggwsx/SlashHub/internal/storage"
)

// Merger applies reactions and read receipts. Updates to one message are
// serialized, so the last applied reaction of a user wins and a user holds
// at most one receipt per message.
type Merger struct {
	store    Store
	router   *Router
	clock    clockwork.Clock
	logger   *zap.Logger
	messages *keyedMutex
}

func newMerger(store Store, router *Router, clock clockwork.Clock, locks *keyedMutex, logger *zap.Logger) *Merger {
	return &Merger{store: store, router: router, clock: clock, logger: logger, messages: locks}
}

// OnReaction sets the reaction of userID on a message to emoji. An empty
// emoji removes it. The full reaction set is republished to the chat.
func (m *Merger) OnReaction(ctx context.Context, userID, messageID, emoji string) (*storage.Message, error) {
	unlock := m.messages.Lock(messageID)
	defer unlock()

	msg, err := m.load(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if applyReaction(msg, userID, emoji) {
		msg.UpdatedAt = m.clock.Now().UTC()
		if err := m.store.SaveMessage(ctx, msg); err != nil {
			return nil, storeErr("save reaction", err)
		}
	}

	reactions := msg.Reactions
	if reactions == nil {
		reactions = []storage.Reaction{}
	}
	m.router.ToRoom(msg.ChatID, m.router.Envelope(protocol.EventReactionUpdated, protocol.ReactionEvent{
		MessageID: msg.ID,
		Reactions: reactions,
	}), nil)
	return msg, nil
}

// OnReadReceipt records that userID read a message and marks it read.
// A repeated receipt keeps the original readAt.
func (m *Merger) OnReadReceipt(ctx context.Context, userID, messageID, chatID string) (*storage.Message, error) {
	unlock := m.messages.Lock(messageID)
	defer unlock()

	msg, err := m.load(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if chatID != "" && msg.ChatID != chatID {
		return nil, fmt.Errorf("message %s in chat %s: %w", messageID, chatID, ErrNotFound)
	}
	if applyReceipt(msg, userID, m.clock.Now().UTC()) {
		msg.UpdatedAt = m.clock.Now().UTC()
		if err := m.store.SaveMessage(ctx, msg); err != nil {
			return nil, storeErr("save receipt", err)
		}
	}

	m.router.ToRoom(msg.ChatID, m.router.Envelope(protocol.EventReceiptUpdated, protocol.ReceiptEvent{
		MessageID: msg.ID,
		UserID:    userID,
		Status:    storage.DeliveryRead,
	}), nil)
	return msg, nil
}

func (m *Merger) load(ctx context.Context, userID, messageID string) (*storage.Message, error) {
	msg, err := m.store.LoadMessage(ctx, messageID)
	if err != nil {
		return nil, storeErr("load message", err)
	}
	ok, err := m.store.IsParticipant(ctx, msg.ChatID, userID)
	if err != nil {
		return nil, storeErr("check participant", err)
	}
	if !ok {
		return nil, fmt.Errorf("chat %s: %w", msg.ChatID, ErrPermission)
	}
	return msg, nil
}

// applyReaction reports whether msg changed.
func applyReaction(msg *storage.Message, userID, emoji string) bool {
	for i, r := range msg.Reactions {
		if r.UserID != userID {
			continue
		}
		switch {
		case emoji == "":
			msg.Reactions = append(msg.Reactions[:i], msg.Reactions[i+1:]...)
			return true
		case r.Emoji == emoji:
			return false
		default:
			msg.Reactions[i].Emoji = emoji
			return true
		}
	}
	if emoji == "" {
		return false
	}
	msg.Reactions = append(msg.Reactions, storage.Reaction{UserID: userID, Emoji: emoji})
	return true
}

// applyReceipt reports whether msg changed.
func applyReceipt(msg *storage.Message, userID string, at time.Time) bool {
	changed := false
	found := false
	for _, r := range msg.ReadBy {
		if r.UserID == userID {
			found = true
			break
		}
	}
	if !found {
		msg.ReadBy = append(msg.ReadBy, storage.Receipt{UserID: userID, ReadAt: at})
		changed = true
	}
	if msg.DeliveryStatus != storage.DeliveryRead {
		msg.DeliveryStatus = storage.DeliveryRead
		changed = true
	}
	return changed
}
