package hub

import (
	"context"
	"time"

	"github.com/fenggwsx/SlashHub/internal/storage"
)

// Store is the persistence the hub depends on. storage.Store satisfies it.
type Store interface {
	LoadUser(ctx context.Context, userID string) (*storage.User, error)
	UpdateUserPresence(ctx context.Context, userID, status string, lastSeenAt time.Time) error

	CreateChat(ctx context.Context, chat *storage.Chat) error
	LoadChat(ctx context.Context, chatID string) (*storage.Chat, error)
	LoadChatsForUser(ctx context.Context, userID string) ([]storage.ChatMembership, error)
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
	UpdateChatLastMessage(ctx context.Context, chatID, messageID string) error

	PersistMessage(ctx context.Context, msg *storage.Message) error
	LoadMessage(ctx context.Context, messageID string) (*storage.Message, error)
	SaveMessage(ctx context.Context, msg *storage.Message) error
	ListMessages(ctx context.Context, chatID string, before time.Time, limit int) ([]storage.Message, error)
}

// CredentialVerifier resolves a connection credential to a user id.
type CredentialVerifier interface {
	VerifyCredential(token string) (string, error)
}
