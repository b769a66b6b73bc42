package hub

import (
	"fmt"
	"strings"
	"time"

	"github.com/fenggwsx/SlashHub/internal/protocol"
	"github.com/fenggwsx/SlashHub/internal/storage"
)

// Event is an inbound client event. The set of implementations is closed.
type Event interface {
	Name() string
	isEvent()
}

// SendMessage asks to post a message to a chat.
type SendMessage struct {
	ChatID      string
	Text        string
	Attachments []storage.Attachment
	ReplyTo     string
}

// TypingStart signals the user started typing in a chat.
type TypingStart struct {
	ChatID string
}

// MessageRead marks a message as read by the user.
type MessageRead struct {
	MessageID string
	ChatID    string
}

// MessageReaction sets or clears the user's reaction on a message.
type MessageReaction struct {
	MessageID string
	Emoji     string
}

// EditMessage replaces the text of the user's own message.
type EditMessage struct {
	MessageID string
	Text      string
}

// DeleteMessage soft-deletes the user's own message.
type DeleteMessage struct {
	MessageID string
}

// LoadHistory pages backwards through a chat.
type LoadHistory struct {
	ChatID string
	Before time.Time
	Limit  int
}

// CreateChat opens a private or group chat.
type CreateChat struct {
	Type         string
	Title        string
	Participants []string
}

// SetStatus switches between online and away.
type SetStatus struct {
	Status string
}

func (SendMessage) Name() string     { return protocol.EventSendMessage }
func (TypingStart) Name() string     { return protocol.EventTypingStart }
func (MessageRead) Name() string     { return protocol.EventMessageRead }
func (MessageReaction) Name() string { return protocol.EventReaction }
func (EditMessage) Name() string     { return protocol.EventEditMessage }
func (DeleteMessage) Name() string   { return protocol.EventDeleteMsg }
func (LoadHistory) Name() string     { return protocol.EventHistory }
func (CreateChat) Name() string      { return protocol.EventCreateChat }
func (SetStatus) Name() string       { return protocol.EventSetStatus }

func (SendMessage) isEvent()     {}
func (TypingStart) isEvent()     {}
func (MessageRead) isEvent()     {}
func (MessageReaction) isEvent() {}
func (EditMessage) isEvent()     {}
func (DeleteMessage) isEvent()   {}
func (LoadHistory) isEvent()     {}
func (CreateChat) isEvent()      {}
func (SetStatus) isEvent()       {}

// DecodeEvent turns an event envelope into its typed form.
func DecodeEvent(env protocol.Envelope) (Event, error) {
	switch env.Event {
	case protocol.EventSendMessage:
		req, err := decode[protocol.SendMessageRequest](env)
		if err != nil {
			return nil, err
		}
		ev := SendMessage{
			ChatID:      strings.TrimSpace(req.ChatID),
			Text:        req.Content.Text,
			Attachments: req.Attachments,
			ReplyTo:     strings.TrimSpace(req.ReplyTo),
		}
		if ev.ChatID == "" {
			return nil, invalid("chatId required")
		}
		if strings.TrimSpace(ev.Text) == "" && len(ev.Attachments) == 0 {
			return nil, invalid("message text or attachments required")
		}
		return ev, nil

	case protocol.EventTypingStart:
		req, err := decode[protocol.TypingRequest](env)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(req.ChatID) == "" {
			return nil, invalid("chatId required")
		}
		return TypingStart{ChatID: strings.TrimSpace(req.ChatID)}, nil

	case protocol.EventMessageRead:
		req, err := decode[protocol.ReadRequest](env)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(req.MessageID) == "" {
			return nil, invalid("messageId required")
		}
		return MessageRead{MessageID: strings.TrimSpace(req.MessageID), ChatID: strings.TrimSpace(req.ChatID)}, nil

	case protocol.EventReaction:
		req, err := decode[protocol.ReactionRequest](env)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(req.MessageID) == "" {
			return nil, invalid("messageId required")
		}
		return MessageReaction{MessageID: strings.TrimSpace(req.MessageID), Emoji: strings.TrimSpace(req.Emoji)}, nil

	case protocol.EventEditMessage:
		req, err := decode[protocol.EditRequest](env)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(req.MessageID) == "" {
			return nil, invalid("messageId required")
		}
		if strings.TrimSpace(req.Text) == "" {
			return nil, invalid("text required")
		}
		return EditMessage{MessageID: strings.TrimSpace(req.MessageID), Text: req.Text}, nil

	case protocol.EventDeleteMsg:
		req, err := decode[protocol.DeleteRequest](env)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(req.MessageID) == "" {
			return nil, invalid("messageId required")
		}
		return DeleteMessage{MessageID: strings.TrimSpace(req.MessageID)}, nil

	case protocol.EventHistory:
		req, err := decode[protocol.HistoryRequest](env)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(req.ChatID) == "" {
			return nil, invalid("chatId required")
		}
		if req.Limit < 0 {
			return nil, invalid("limit must not be negative")
		}
		return LoadHistory{ChatID: strings.TrimSpace(req.ChatID), Before: req.Before, Limit: req.Limit}, nil

	case protocol.EventCreateChat:
		req, err := decode[protocol.CreateChatRequest](env)
		if err != nil {
			return nil, err
		}
		return CreateChat{
			Type:         strings.ToLower(strings.TrimSpace(req.Type)),
			Title:        strings.TrimSpace(req.Name),
			Participants: req.Participants,
		}, nil

	case protocol.EventSetStatus:
		req, err := decode[protocol.StatusRequest](env)
		if err != nil {
			return nil, err
		}
		return SetStatus{Status: strings.ToLower(strings.TrimSpace(req.Status))}, nil

	default:
		return nil, fmt.Errorf("unsupported event %q: %w", env.Event, ErrInvalid)
	}
}

func decode[T any](env protocol.Envelope) (T, error) {
	out, err := protocol.DecodePayload[T](env.Payload)
	if err != nil {
		return out, fmt.Errorf("invalid %s payload: %w", env.Event, ErrInvalid)
	}
	return out, nil
}

func invalid(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrInvalid)
}
