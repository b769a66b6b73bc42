// Package memory keeps every record in process memory. It backs the
// GOSLASH_STORE=memory mode and the hub tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fenggwsx/SlashHub/internal/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu       sync.RWMutex
	users    map[string]*storage.User
	chats    map[string]*storage.Chat
	messages map[string]*storage.Message
	order    []string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:    make(map[string]*storage.User),
		chats:    make(map[string]*storage.Chat),
		messages: make(map[string]*storage.Message),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Migrate is a no-op.
func (s *Store) Migrate(context.Context) error { return nil }

// CreateUser stores a new user record, assigning an id when missing.
func (s *Store) CreateUser(_ context.Context, user *storage.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == user.Username {
			return errors.New("username taken")
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Status == "" {
		user.Status = storage.StatusOffline
	}
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(_ context.Context, username string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.Username == username {
			copied := *user
			return &copied, nil
		}
	}
	return nil, storage.ErrNotFound
}

// LoadUser retrieves a user by id.
func (s *Store) LoadUser(_ context.Context, userID string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

// UpdateUserPresence records status and last-seen time.
func (s *Store) UpdateUserPresence(_ context.Context, userID, status string, lastSeenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	user.Status = status
	user.LastSeenAt = lastSeenAt
	user.UpdatedAt = lastSeenAt
	return nil
}

// CreateChat stores a chat, assigning an id when missing.
func (s *Store) CreateChat(_ context.Context, chat *storage.Chat) error {
	if chat == nil {
		return errors.New("nil chat")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	if chat.UpdatedAt.IsZero() {
		chat.UpdatedAt = now
	}
	s.chats[chat.ID] = chat.Clone()
	return nil
}

// LoadChat retrieves a chat by id.
func (s *Store) LoadChat(_ context.Context, chatID string) (*storage.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return chat.Clone(), nil
}

// LoadChatsForUser lists every chat containing userID, oldest first.
func (s *Store) LoadChatsForUser(_ context.Context, userID string) ([]storage.ChatMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chats := make([]*storage.Chat, 0)
	for _, chat := range s.chats {
		if chat.HasParticipant(userID) {
			chats = append(chats, chat)
		}
	}
	sort.Slice(chats, func(i, j int) bool {
		if chats[i].CreatedAt.Equal(chats[j].CreatedAt) {
			return chats[i].ID < chats[j].ID
		}
		return chats[i].CreatedAt.Before(chats[j].CreatedAt)
	})
	out := make([]storage.ChatMembership, 0, len(chats))
	for _, chat := range chats {
		out = append(out, storage.ChatMembership{
			ChatID:       chat.ID,
			Participants: append([]string(nil), chat.Participants...),
		})
	}
	return out, nil
}

// IsParticipant reports whether userID belongs to chatID.
func (s *Store) IsParticipant(_ context.Context, chatID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return false, nil
	}
	return chat.HasParticipant(userID), nil
}

// UpdateChatLastMessage points the chat at its newest message.
func (s *Store) UpdateChatLastMessage(_ context.Context, chatID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return storage.ErrNotFound
	}
	chat.LastMessageID = messageID
	chat.UpdatedAt = time.Now().UTC()
	return nil
}

// PersistMessage inserts a new message and assigns its id.
func (s *Store) PersistMessage(_ context.Context, msg *storage.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = msg.CreatedAt
	}
	s.messages[msg.ID] = msg.Clone()
	s.order = append(s.order, msg.ID)
	return nil
}

// LoadMessage retrieves a message by id.
func (s *Store) LoadMessage(_ context.Context, messageID string) (*storage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return msg.Clone(), nil
}

// SaveMessage replaces the stored copy of an existing message.
func (s *Store) SaveMessage(_ context.Context, msg *storage.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; !ok {
		return storage.ErrNotFound
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = time.Now().UTC()
	}
	s.messages[msg.ID] = msg.Clone()
	return nil
}

// ListMessages returns up to limit messages of chatID created before the
// cursor, in chronological order. A zero cursor means "now".
func (s *Store) ListMessages(_ context.Context, chatID string, before time.Time, limit int) ([]storage.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Message, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		msg := s.messages[s.order[i]]
		if msg.ChatID != chatID {
			continue
		}
		if !before.IsZero() && !msg.CreatedAt.Before(before) {
			continue
		}
		out = append(out, *msg.Clone())
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

var _ storage.Store = (*Store)(nil)
