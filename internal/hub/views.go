package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/fenggwsx/SlashHub/internal/protocol"
	"github.com/fenggwsx/SlashHub/internal/storage"
)

// resolver expands sender and reply references for outbound messages. It
// caches users for the lifetime of one operation.
type resolver struct {
	store  Store
	logger *zap.Logger
	users  map[string]protocol.UserView
}

func newResolver(store Store, logger *zap.Logger) *resolver {
	return &resolver{store: store, logger: logger, users: make(map[string]protocol.UserView)}
}

func (r *resolver) remember(u storage.User) {
	r.users[u.ID] = userView(u)
}

func (r *resolver) user(ctx context.Context, userID string) protocol.UserView {
	if v, ok := r.users[userID]; ok {
		return v
	}
	v := protocol.UserView{ID: userID}
	u, err := r.store.LoadUser(ctx, userID)
	if err != nil {
		r.logger.Debug("sender lookup failed", zap.String("user_id", userID), zap.Error(err))
	} else {
		v = userView(*u)
	}
	r.users[userID] = v
	return v
}

// message expands msg. The reply target is expanded one level deep.
func (r *resolver) message(ctx context.Context, msg *storage.Message) protocol.MessageView {
	view := r.flat(ctx, msg)
	if msg.ReplyTo == "" {
		return view
	}
	reply, err := r.store.LoadMessage(ctx, msg.ReplyTo)
	if err != nil {
		r.logger.Debug("reply lookup failed", zap.String("message_id", msg.ReplyTo), zap.Error(err))
		return view
	}
	replyView := r.flat(ctx, reply)
	view.ReplyTo = &replyView
	return view
}

func (r *resolver) flat(ctx context.Context, msg *storage.Message) protocol.MessageView {
	reactions := msg.Reactions
	if reactions == nil {
		reactions = []storage.Reaction{}
	}
	readBy := msg.ReadBy
	if readBy == nil {
		readBy = []storage.Receipt{}
	}
	return protocol.MessageView{
		ID:             msg.ID,
		ChatID:         msg.ChatID,
		Sender:         r.user(ctx, msg.SenderID),
		Content:        protocol.ContentView{Text: msg.Content.Text, Mentions: msg.Content.Mentions},
		Attachments:    msg.Attachments,
		IsEdited:       msg.IsEdited,
		EditHistory:    msg.EditHistory,
		IsDeleted:      msg.IsDeleted,
		DeliveryStatus: msg.DeliveryStatus,
		Reactions:      reactions,
		ReadBy:         readBy,
		CreatedAt:      msg.CreatedAt,
		UpdatedAt:      msg.UpdatedAt,
	}
}

func userView(u storage.User) protocol.UserView {
	return protocol.UserView{
		ID:         u.ID,
		Username:   u.Username,
		Status:     u.Status,
		LastSeenAt: u.LastSeenAt,
	}
}

func chatView(c *storage.Chat) protocol.ChatView {
	return protocol.ChatView{
		ID:           c.ID,
		Type:         c.Type,
		Name:         c.Name,
		Participants: c.Participants,
		Admins:       c.Admins,
	}
}
