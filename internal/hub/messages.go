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

// Pipeline validates, persists and fans out chat messages.
type Pipeline struct {
	store        Store
	router       *Router
	clock        clockwork.Clock
	logger       *zap.Logger
	historyLimit int
	messages     *keyedMutex
}

// newPipeline builds a message pipeline. Edits serialize on locks, shared
// with the reaction merger.
func newPipeline(store Store, router *Router, clock clockwork.Clock, locks *keyedMutex, historyLimit int, logger *zap.Logger) *Pipeline {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Pipeline{
		store:        store,
		router:       router,
		clock:        clock,
		logger:       logger,
		historyLimit: historyLimit,
		messages:     locks,
	}
}

// OnIncomingMessage posts ev from s. Nothing is broadcast unless the
// message was persisted.
func (p *Pipeline) OnIncomingMessage(ctx context.Context, s *Session, ev SendMessage) (*storage.Message, error) {
	if err := p.authorize(ctx, ev.ChatID, s.UserID()); err != nil {
		return nil, err
	}
	if ev.ReplyTo != "" {
		target, err := p.store.LoadMessage(ctx, ev.ReplyTo)
		if err != nil {
			return nil, storeErr("load reply target", err)
		}
		if target.ChatID != ev.ChatID {
			return nil, invalid("reply target belongs to another chat")
		}
	}

	now := p.clock.Now().UTC()
	msg := &storage.Message{
		ChatID:         ev.ChatID,
		SenderID:       s.UserID(),
		Content:        storage.Content{Text: ev.Text, Mentions: ExtractMentions(ev.Text)},
		Attachments:    ev.Attachments,
		ReplyTo:        ev.ReplyTo,
		DeliveryStatus: storage.DeliverySent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := p.store.PersistMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w: %w", ErrPersistence, err)
	}

	if err := p.store.UpdateChatLastMessage(ctx, msg.ChatID, msg.ID); err != nil {
		p.logger.Warn("last message pointer not updated",
			zap.String("chat_id", msg.ChatID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}

	views := newResolver(p.store, p.logger)
	views.remember(s.User())
	view := views.message(ctx, msg)

	p.router.ToRoom(msg.ChatID, p.router.Envelope(protocol.EventNewMessage, protocol.NewMessageEvent{
		Message: view,
	}), nil)
	p.router.ToRoom(msg.ChatID, p.router.Envelope(protocol.EventDelivered, protocol.DeliveredEvent{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
	}), skipUser(s.UserID()))

	p.logger.Debug("message sent",
		zap.String("chat_id", msg.ChatID),
		zap.String("message_id", msg.ID),
		zap.String("sender_id", msg.SenderID),
	)
	return msg, nil
}

// Edit replaces the text of a message owned by s and keeps the old text in
// its edit history.
func (p *Pipeline) Edit(ctx context.Context, s *Session, ev EditMessage) (*storage.Message, error) {
	unlock := p.messages.Lock(ev.MessageID)
	defer unlock()

	msg, err := p.ownMessage(ctx, s, ev.MessageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, invalid("message was deleted")
	}

	now := p.clock.Now().UTC()
	msg.EditHistory = append(msg.EditHistory, storage.Edit{Content: msg.Content.Text, EditedAt: now})
	msg.Content = storage.Content{Text: ev.Text, Mentions: ExtractMentions(ev.Text)}
	msg.IsEdited = true
	msg.UpdatedAt = now
	if err := p.store.SaveMessage(ctx, msg); err != nil {
		return nil, storeErr("save message", err)
	}
	p.publishUpdate(ctx, msg)
	return msg, nil
}

// Delete soft-deletes a message owned by s, clearing its text and attachments.
func (p *Pipeline) Delete(ctx context.Context, s *Session, ev DeleteMessage) (*storage.Message, error) {
	unlock := p.messages.Lock(ev.MessageID)
	defer unlock()

	msg, err := p.ownMessage(ctx, s, ev.MessageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return msg, nil
	}

	msg.IsDeleted = true
	msg.Content = storage.Content{}
	msg.Attachments = nil
	msg.UpdatedAt = p.clock.Now().UTC()
	if err := p.store.SaveMessage(ctx, msg); err != nil {
		return nil, storeErr("save message", err)
	}
	p.publishUpdate(ctx, msg)
	return msg, nil
}

// History returns one page of a chat, oldest first, to s only.
func (p *Pipeline) History(ctx context.Context, s *Session, ev LoadHistory) ([]protocol.MessageView, error) {
	if err := p.authorize(ctx, ev.ChatID, s.UserID()); err != nil {
		return nil, err
	}
	limit := ev.Limit
	if limit <= 0 || limit > p.historyLimit {
		limit = p.historyLimit
	}
	before := ev.Before
	if before.IsZero() {
		before = p.clock.Now().UTC().Add(time.Nanosecond)
	}

	messages, err := p.store.ListMessages(ctx, ev.ChatID, before, limit)
	if err != nil {
		return nil, storeErr("list messages", err)
	}

	views := newResolver(p.store, p.logger)
	out := make([]protocol.MessageView, 0, len(messages))
	for i := range messages {
		out = append(out, views.message(ctx, &messages[i]))
	}
	p.router.ToSession(s, p.router.Envelope(protocol.EventChatHistory, protocol.ChatHistoryEvent{
		ChatID:   ev.ChatID,
		Messages: out,
	}))
	return out, nil
}

// authorize checks that chatID exists and userID participates in it.
func (p *Pipeline) authorize(ctx context.Context, chatID, userID string) error {
	if _, err := p.store.LoadChat(ctx, chatID); err != nil {
		return storeErr("load chat", err)
	}
	ok, err := p.store.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return storeErr("check participant", err)
	}
	if !ok {
		return fmt.Errorf("chat %s: %w", chatID, ErrPermission)
	}
	return nil
}

func (p *Pipeline) ownMessage(ctx context.Context, s *Session, messageID string) (*storage.Message, error) {
	msg, err := p.store.LoadMessage(ctx, messageID)
	if err != nil {
		return nil, storeErr("load message", err)
	}
	if msg.SenderID != s.UserID() {
		return nil, fmt.Errorf("message %s not sent by %s: %w", messageID, s.UserID(), ErrPermission)
	}
	return msg, nil
}

func (p *Pipeline) publishUpdate(ctx context.Context, msg *storage.Message) {
	view := newResolver(p.store, p.logger).message(ctx, msg)
	p.router.ToRoom(msg.ChatID, p.router.Envelope(protocol.EventMessageUpdated, protocol.MessageUpdatedEvent{
		Message: view,
	}), nil)
}
