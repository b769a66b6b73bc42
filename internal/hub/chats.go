package hub

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/fenggwsx/SlashHub/internal/protocol"
	"github.com/fenggwsx/SlashHub/internal/storage"
)

type chatCreator struct {
	store  Store
	router *Router
	clock  clockwork.Clock
	logger *zap.Logger
}

// create opens a chat for s and announces it on every participant's
// personal room. Sessions already connected only join the chat room after
// they reconnect.
func (c *chatCreator) create(ctx context.Context, s *Session, ev CreateChat) (*storage.Chat, error) {
	participants := dedupe(ev.Participants, s.UserID())
	switch ev.Type {
	case storage.ChatPrivate:
		if len(participants) != 1 {
			return nil, invalid("private chat must have exactly one other participant")
		}
	case storage.ChatGroup:
		if ev.Title == "" {
			return nil, invalid("group chat requires a name")
		}
		if len(participants) == 0 {
			return nil, invalid("group chat requires participants")
		}
	default:
		return nil, invalid("chat type must be private or group")
	}

	for _, id := range participants {
		if _, err := c.store.LoadUser(ctx, id); err != nil {
			return nil, storeErr("load participant "+id, err)
		}
	}

	now := c.clock.Now().UTC()
	chat := &storage.Chat{
		Type:         ev.Type,
		Participants: append(participants, s.UserID()),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if ev.Type == storage.ChatGroup {
		chat.Name = ev.Title
		chat.Admins = []string{s.UserID()}
	}
	if err := c.store.CreateChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("create chat: %w: %w", ErrPersistence, err)
	}

	env := c.router.Envelope(protocol.EventChatCreated, protocol.ChatCreatedEvent{Chat: chatView(chat)})
	rooms := make([]string, 0, len(chat.Participants))
	for _, id := range chat.Participants {
		rooms = append(rooms, PersonalRoom(id))
	}
	c.router.ToRooms(rooms, env, nil)

	c.logger.Info("chat created",
		zap.String("chat_id", chat.ID),
		zap.String("type", chat.Type),
		zap.Int("participants", len(chat.Participants)),
	)
	return chat, nil
}

// dedupe trims ids and drops blanks, repeats and self.
func dedupe(ids []string, self string) []string {
	seen := map[string]struct{}{self: {}}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
