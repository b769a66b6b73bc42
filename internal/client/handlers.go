package client

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fenggwsx/SlashHub/internal/protocol"
	"github.com/fenggwsx/SlashHub/internal/storage"
)

func (a *App) handleSessionEnvelope(env protocol.Envelope) tea.Cmd {
	a.appendPipeEntry(pipeDirectionIn, env)
	var cmd tea.Cmd
	switch env.Type {
	case protocol.MessageTypeAck:
		a.handleAck(env)
	case protocol.MessageTypeAuthResponse:
		cmd = a.handleAuthResponse(env)
	case protocol.MessageTypeHello:
		a.handleHello(env)
	case protocol.MessageTypeEvent:
		a.handleEvent(env)
	default:
		a.logErrorf("Received %s message", string(env.Type))
	}
	a.updateViewportContent()
	return cmd
}

func (a *App) handleAck(env protocol.Envelope) {
	ack, err := protocol.DecodePayload[protocol.AckPayload](env.Payload)
	if err != nil {
		a.logErrorf("Failed to decode ack: %v", err)
		return
	}
	pending, ok := a.pendingRequests[ack.ReferenceID]
	if !ok {
		return
	}
	delete(a.pendingRequests, ack.ReferenceID)
	if ack.Status == protocol.AckOK {
		return
	}

	reason := strings.TrimSpace(ack.Reason)
	if reason == "" {
		reason = "unknown error"
	}
	switch pending.action {
	case "register":
		a.logErrorf("Registration failed: %s", reason)
	case "login":
		a.logErrorf("Login failed: %s", reason)
	case "hello":
		a.logErrorf("Session rejected: %s", reason)
	default:
		a.logErrorf("%s failed: %s", pending.action, reason)
	}
}

func (a *App) handleAuthResponse(env protocol.Envelope) tea.Cmd {
	resp, err := protocol.DecodePayload[protocol.AuthResponse](env.Payload)
	if err != nil {
		a.logErrorf("Failed to decode auth response: %v", err)
		return nil
	}
	a.authToken = resp.Token
	a.userID = resp.UserID
	if a.lastAuthUser != "" {
		a.username = a.lastAuthUser
		a.names[resp.UserID] = a.lastAuthUser
	}
	a.lastAuthUser = ""
	a.logf("Authenticated as %s (token expires %s)", a.username, time.Unix(resp.ExpiresAt, 0).UTC().Format(time.RFC3339))
	return a.sendHello()
}

func (a *App) handleHello(env protocol.Envelope) {
	hello, err := protocol.DecodePayload[protocol.HelloResponse](env.Payload)
	if err != nil {
		a.logErrorf("Failed to decode hello: %v", err)
		return
	}
	a.statusOnline = true
	a.userStatus = storage.StatusOnline
	a.userID = hello.UserID
	a.username = hello.Username
	a.names[hello.UserID] = hello.Username

	personal := "user:" + hello.UserID
	a.rooms = a.rooms[:0]
	for _, room := range hello.Rooms {
		if room != personal {
			a.rooms = append(a.rooms, room)
		}
	}
	a.logf("Welcome %s. %d chats available, use /rooms and /open", hello.Username, len(a.rooms))
}

func (a *App) handleEvent(env protocol.Envelope) {
	var err error
	switch env.Event {
	case protocol.EventNewMessage:
		err = decodeInto(env, func(ev protocol.NewMessageEvent) { a.onNewMessage(ev.Message) })
	case protocol.EventMessageUpdated:
		err = decodeInto(env, func(ev protocol.MessageUpdatedEvent) { a.onMessageUpdated(ev.Message) })
	case protocol.EventChatHistory:
		err = decodeInto(env, a.onHistory)
	case protocol.EventDelivered:
		err = decodeInto(env, func(ev protocol.DeliveredEvent) {
			a.setDelivery(ev.MessageID, storage.DeliveryDelivered)
		})
	case protocol.EventReceiptUpdated:
		err = decodeInto(env, func(ev protocol.ReceiptEvent) {
			a.setDelivery(ev.MessageID, ev.Status)
			if ev.UserID != a.userID {
				a.logf("%s read %s", a.displayName(ev.UserID), shortID(ev.MessageID))
			}
		})
	case protocol.EventReactionUpdated:
		err = decodeInto(env, func(ev protocol.ReactionEvent) {
			for i := range a.messages {
				if a.messages[i].ID == ev.MessageID {
					a.messages[i].Reactions = ev.Reactions
				}
			}
		})
	case protocol.EventUserTyping:
		err = decodeInto(env, func(ev protocol.TypingEvent) {
			if ev.ChatID == a.chat {
				a.typing[ev.UserID] = ev.IsTyping
			}
		})
	case protocol.EventUserOnline:
		err = decodeInto(env, func(ev protocol.UserOnlineEvent) {
			if !slices.Contains(a.online, ev.UserID) {
				a.online = append(a.online, ev.UserID)
			}
			a.logf("%s is online", a.displayName(ev.UserID))
		})
	case protocol.EventUserOffline:
		err = decodeInto(env, func(ev protocol.UserOfflineEvent) {
			a.online = slices.DeleteFunc(a.online, func(id string) bool { return id == ev.UserID })
			delete(a.typing, ev.UserID)
			a.logf("%s went offline at %s", a.displayName(ev.UserID), ev.LastSeen.Local().Format("15:04:05"))
		})
	case protocol.EventUserStatus:
		err = decodeInto(env, func(ev protocol.UserStatusEvent) {
			a.logf("%s is %s", a.displayName(ev.UserID), ev.Status)
		})
	case protocol.EventOnlineUsers:
		err = decodeInto(env, func(ev protocol.OnlineUsersEvent) {
			a.online = slices.DeleteFunc(ev.UserIDs, func(id string) bool { return id == a.userID })
		})
	case protocol.EventChatCreated:
		err = decodeInto(env, func(ev protocol.ChatCreatedEvent) {
			if !slices.Contains(a.rooms, ev.Chat.ID) {
				a.rooms = append(a.rooms, ev.Chat.ID)
			}
			label := ev.Chat.Name
			if label == "" {
				label = ev.Chat.Type
			}
			a.logf("Chat %s (%s) created. Reconnect to receive its live events", ev.Chat.ID, label)
		})
	case protocol.EventMessageError:
		err = decodeInto(env, func(ev protocol.ErrorEvent) {
			delete(a.pendingRequests, ev.ReferenceID)
			a.logErrorf("%s: %s", ev.Event, ev.Error)
		})
	default:
		a.logErrorf("Unhandled event: %s", env.Event)
	}
	if err != nil {
		a.logErrorf("Failed to decode %s: %v", env.Event, err)
	}
}

func decodeInto[T any](env protocol.Envelope, apply func(T)) error {
	v, err := protocol.DecodePayload[T](env.Payload)
	if err != nil {
		return err
	}
	apply(v)
	return nil
}

func (a *App) onNewMessage(msg protocol.MessageView) {
	a.names[msg.Sender.ID] = msg.Sender.Username
	delete(a.typing, msg.Sender.ID)
	if msg.ChatID != a.chat {
		if msg.Sender.ID != a.userID {
			a.logf("New message from %s in %s", msg.Sender.Username, msg.ChatID)
		}
		return
	}
	a.messages = append(a.messages, msg)
}

func (a *App) onMessageUpdated(msg protocol.MessageView) {
	for i := range a.messages {
		if a.messages[i].ID == msg.ID {
			a.messages[i] = msg
			return
		}
	}
}

func (a *App) onHistory(ev protocol.ChatHistoryEvent) {
	if ev.ChatID != a.chat {
		return
	}
	for _, msg := range ev.Messages {
		a.names[msg.Sender.ID] = msg.Sender.Username
	}
	// Older pages are prepended; ids already shown are kept once.
	seen := make(map[string]bool, len(a.messages))
	for _, msg := range a.messages {
		seen[msg.ID] = true
	}
	older := make([]protocol.MessageView, 0, len(ev.Messages))
	for _, msg := range ev.Messages {
		if !seen[msg.ID] {
			older = append(older, msg)
		}
	}
	a.messages = append(older, a.messages...)
	sort.SliceStable(a.messages, func(i, j int) bool {
		return a.messages[i].CreatedAt.Before(a.messages[j].CreatedAt)
	})
	a.logf("Loaded %d messages for %s", len(ev.Messages), ev.ChatID)
}

func (a *App) setDelivery(messageID, status string) {
	for i := range a.messages {
		if a.messages[i].ID == messageID && a.messages[i].DeliveryStatus != storage.DeliveryRead {
			a.messages[i].DeliveryStatus = status
		}
	}
}

func (a *App) displayName(userID string) string {
	if name, ok := a.names[userID]; ok && name != "" {
		return name
	}
	return shortID(userID)
}

func (a *App) typingLine() string {
	var names []string
	for id, on := range a.typing {
		if on && id != a.userID {
			names = append(names, a.displayName(id))
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	if len(names) == 1 {
		return names[0] + " is typing..."
	}
	return strings.Join(names, ", ") + " are typing..."
}

func (a *App) formatMessage(msg protocol.MessageView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[#%s] [%s] %s: ", shortID(msg.ID), msg.CreatedAt.Local().Format("15:04:05"), msg.Sender.Username)
	if msg.ReplyTo != nil {
		fmt.Fprintf(&b, "(re %s) ", shortID(msg.ReplyTo.ID))
	}
	switch {
	case msg.IsDeleted:
		b.WriteString("(deleted)")
	case strings.TrimSpace(msg.Content.Text) == "":
		b.WriteString("(empty)")
	default:
		b.WriteString(msg.Content.Text)
	}
	for _, att := range msg.Attachments {
		fmt.Fprintf(&b, " [%s]", att.Filename)
	}
	if msg.IsEdited && !msg.IsDeleted {
		b.WriteString(" (edited)")
	}
	if summary := reactionSummary(msg.Reactions); summary != "" {
		b.WriteString(" ")
		b.WriteString(summary)
	}
	if msg.Sender.ID == a.userID {
		fmt.Fprintf(&b, " · %s", msg.DeliveryStatus)
	}
	return b.String()
}

func reactionSummary(reactions []storage.Reaction) string {
	if len(reactions) == 0 {
		return ""
	}
	counts := make(map[string]int)
	var order []string
	for _, r := range reactions {
		if counts[r.Emoji] == 0 {
			order = append(order, r.Emoji)
		}
		counts[r.Emoji]++
	}
	parts := make([]string, 0, len(order))
	for _, emoji := range order {
		parts = append(parts, fmt.Sprintf("%s×%d", emoji, counts[emoji]))
	}
	return strings.Join(parts, " ")
}

func (a *App) appendPipeEntry(direction pipeDirection, env protocol.Envelope) {
	if a.pipeHistory == nil {
		a.pipeHistory = make([]pipeEntry, 0, pipeHistoryLimit)
	}
	if env.Type == protocol.MessageTypeAuthRequest {
		env.Payload = "(credentials hidden)"
	}
	bodyBytes, err := json.MarshalIndent(env, "", "  ")
	entry := pipeEntry{
		direction:   direction,
		messageType: string(env.Type),
		timestamp:   time.Now(),
		body:        string(bodyBytes),
	}
	if err != nil {
		entry.body = fmt.Sprintf(`{"marshal_error":%q}`, err.Error())
	}
	if len(a.pipeHistory) >= pipeHistoryLimit {
		a.pipeHistory = append(a.pipeHistory[1:], entry)
	} else {
		a.pipeHistory = append(a.pipeHistory, entry)
	}
}
