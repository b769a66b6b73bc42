package protocol

import (
	"time"

	"github.com/fenggwsx/SlashHub/internal/storage"
)

// Inbound event names accepted from a connected client.
const (
	EventSendMessage = "message"
	EventTypingStart = "typing-start"
	EventMessageRead = "message-read"
	EventReaction    = "message-reaction"
	EventEditMessage = "message-edit"
	EventDeleteMsg   = "message-delete"
	EventHistory     = "chat-history"
	EventCreateChat  = "chat-create"
	EventSetStatus   = "set-status"
)

// Outbound event names emitted to clients.
const (
	EventNewMessage      = "new-message"
	EventDelivered       = "message-delivered"
	EventMessageError    = "message-error"
	EventUserTyping      = "user-typing"
	EventReceiptUpdated  = "receipt-updated"
	EventReactionUpdated = "reaction-updated"
	EventUserOnline      = "user-online"
	EventUserOffline     = "user-offline"
	EventOnlineUsers     = "online-users"
	EventUserStatus      = "user-status"
	EventMessageUpdated  = "message-updated"
	EventChatCreated     = "chat-created"
	EventChatHistory     = "chat-history"
)

// SendMessageRequest is the payload of "message".
type SendMessageRequest struct {
	ChatID      string               `json:"chatId"`
	Content     ContentView          `json:"content"`
	Attachments []storage.Attachment `json:"attachments,omitempty"`
	ReplyTo     string               `json:"replyTo,omitempty"`
}

// TypingRequest is the payload of "typing-start".
type TypingRequest struct {
	ChatID string `json:"chatId"`
}

// ReadRequest is the payload of "message-read".
type ReadRequest struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
}

// ReactionRequest is the payload of "message-reaction".
type ReactionRequest struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

// EditRequest is the payload of "message-edit".
type EditRequest struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

// DeleteRequest is the payload of "message-delete".
type DeleteRequest struct {
	MessageID string `json:"messageId"`
}

// HistoryRequest is the payload of "chat-history".
type HistoryRequest struct {
	ChatID string    `json:"chatId"`
	Before time.Time `json:"before,omitempty"`
	Limit  int       `json:"limit,omitempty"`
}

// CreateChatRequest is the payload of "chat-create".
type CreateChatRequest struct {
	Type         string   `json:"type"`
	Name         string   `json:"name,omitempty"`
	Participants []string `json:"participants"`
}

// StatusRequest is the payload of "set-status".
type StatusRequest struct {
	Status string `json:"status"`
}

// UserView is the public projection of a user.
type UserView struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Status     string    `json:"status,omitempty"`
	LastSeenAt time.Time `json:"lastSeen,omitempty"`
}

// ContentView mirrors storage.Content on the wire.
type ContentView struct {
	Text     string            `json:"text"`
	Mentions []storage.Mention `json:"mentions,omitempty"`
}

// MessageView is a message with its sender and reply target expanded.
type MessageView struct {
	ID             string               `json:"id"`
	ChatID         string               `json:"chatId"`
	Sender         UserView             `json:"sender"`
	Content        ContentView          `json:"content"`
	Attachments    []storage.Attachment `json:"attachments,omitempty"`
	ReplyTo        *MessageView         `json:"replyTo,omitempty"`
	IsEdited       bool                 `json:"isEdited"`
	EditHistory    []storage.Edit       `json:"editHistory,omitempty"`
	IsDeleted      bool                 `json:"isDeleted"`
	DeliveryStatus string               `json:"deliveryStatus"`
	Reactions      []storage.Reaction   `json:"reactions"`
	ReadBy         []storage.Receipt    `json:"readBy"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

// ChatView is the public projection of a chat.
type ChatView struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Name         string   `json:"name,omitempty"`
	Participants []string `json:"participants"`
	Admins       []string `json:"admins,omitempty"`
}

// NewMessageEvent is the payload of "new-message".
type NewMessageEvent struct {
	Message MessageView `json:"message"`
}

// DeliveredEvent is the payload of "message-delivered".
type DeliveredEvent struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
}

// ErrorEvent is the payload of "message-error".
type ErrorEvent struct {
	Error       string `json:"error"`
	Event       string `json:"event,omitempty"`
	ReferenceID string `json:"referenceId,omitempty"`
}

// TypingEvent is the payload of "user-typing".
type TypingEvent struct {
	UserID   string `json:"userId"`
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

// ReceiptEvent is the payload of "receipt-updated".
type ReceiptEvent struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Status    string `json:"status"`
}

// ReactionEvent is the payload of "reaction-updated".
type ReactionEvent struct {
	MessageID string             `json:"messageId"`
	Reactions []storage.Reaction `json:"reactions"`
}

// UserOnlineEvent is the payload of "user-online".
type UserOnlineEvent struct {
	UserID string `json:"userId"`
}

// UserOfflineEvent is the payload of "user-offline".
type UserOfflineEvent struct {
	UserID   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

// OnlineUsersEvent is the payload of "online-users".
type OnlineUsersEvent struct {
	UserIDs []string `json:"userIds"`
}

// UserStatusEvent is the payload of "user-status".
type UserStatusEvent struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// MessageUpdatedEvent is the payload of "message-updated".
type MessageUpdatedEvent struct {
	Message MessageView `json:"message"`
}

// ChatCreatedEvent is the payload of "chat-created".
type ChatCreatedEvent struct {
	Chat ChatView `json:"chat"`
}

// ChatHistoryEvent is the payload of "chat-history".
type ChatHistoryEvent struct {
	ChatID   string        `json:"chatId"`
	Messages []MessageView `json:"messages"`
}
