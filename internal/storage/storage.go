package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced user, chat or message does not exist.
var ErrNotFound = errors.New("not found")

// Presence statuses persisted on the user record.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusOffline = "offline"
)

// Chat types.
const (
	ChatPrivate = "private"
	ChatGroup   = "group"
)

// Delivery statuses.
const (
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryRead      = "read"
)

// User represents a persisted account record.
type User struct {
	ID         string
	Username   string
	Password   string
	Status     string
	LastSeenAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Chat is a private or group conversation.
type Chat struct {
	ID            string
	Type          string
	Name          string
	Participants  []string
	Admins        []string
	LastMessageID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasParticipant reports whether userID belongs to the chat.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// ChatMembership is one row of LoadChatsForUser.
type ChatMembership struct {
	ChatID       string
	Participants []string
}

// Mention marks an @name token inside message text.
type Mention struct {
	Username string `json:"username"`
	Index    int    `json:"index"`
}

// Content is the textual body of a message.
type Content struct {
	Text     string    `json:"text"`
	Mentions []Mention `json:"mentions,omitempty"`
}

// Attachment references an uploaded object.
type Attachment struct {
	Type         string `json:"type"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Filename     string `json:"filename,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
	Size         int64  `json:"size,omitempty"`
}

// Reaction is one user's emoji on a message.
type Reaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

// Receipt records when a user read a message.
type Receipt struct {
	UserID string    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// Edit keeps the text a message had before an edit.
type Edit struct {
	Content  string    `json:"content"`
	EditedAt time.Time `json:"edited_at"`
}

// Message is a persisted chat message.
type Message struct {
	ID             string
	ChatID         string
	SenderID       string
	Content        Content
	Attachments    []Attachment
	ReplyTo        string
	IsEdited       bool
	EditHistory    []Edit
	IsDeleted      bool
	DeliveryStatus string
	Reactions      []Reaction
	ReadBy         []Receipt
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store defines persistence operations used by the server.
type Store interface {
	Close() error
	Migrate(ctx context.Context) error

	CreateUser(ctx context.Context, user *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	LoadUser(ctx context.Context, userID string) (*User, error)
	UpdateUserPresence(ctx context.Context, userID, status string, lastSeenAt time.Time) error

	CreateChat(ctx context.Context, chat *Chat) error
	LoadChat(ctx context.Context, chatID string) (*Chat, error)
	LoadChatsForUser(ctx context.Context, userID string) ([]ChatMembership, error)
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
	UpdateChatLastMessage(ctx context.Context, chatID, messageID string) error

	PersistMessage(ctx context.Context, msg *Message) error
	LoadMessage(ctx context.Context, messageID string) (*Message, error)
	SaveMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, chatID string, before time.Time, limit int) ([]Message, error)
}

// Clone returns a deep copy so callers can mutate without sharing slices.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.Content.Mentions = append([]Mention(nil), m.Content.Mentions...)
	out.Attachments = append([]Attachment(nil), m.Attachments...)
	out.EditHistory = append([]Edit(nil), m.EditHistory...)
	out.Reactions = append([]Reaction(nil), m.Reactions...)
	out.ReadBy = append([]Receipt(nil), m.ReadBy...)
	return &out
}

// Clone returns a deep copy of the chat.
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	out.Admins = append([]string(nil), c.Admins...)
	return &out
}
