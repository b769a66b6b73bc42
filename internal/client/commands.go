package client

import (
	"context"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/fenggwsx/SlashHub/internal/protocol"
	"github.com/fenggwsx/SlashHub/internal/storage"
)

func (a *App) handleSubmit(value string) tea.Cmd {
	if strings.HasPrefix(value, string(a.cfg.Prefix())) {
		return a.executeCommand(value)
	}
	return a.sendChatMessage(value)
}

func (a *App) executeCommand(raw string) tea.Cmd {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}

	cmd := "/" + strings.TrimPrefix(fields[0], string(a.cfg.Prefix()))
	args := fields[1:]
	var cmds []tea.Cmd

	switch cmd {
	case "/chat":
		a.view = viewChat
		a.logf("Switched to CHAT view")
	case "/help":
		a.view = viewHelp
		a.logf("Switched to HELP view")
	case "/pipe":
		if len(args) > 0 && strings.EqualFold(args[0], "clear") {
			a.pipeHistory = make([]pipeEntry, 0, pipeHistoryLimit)
			a.logf("Cleared pipe history")
			break
		}
		a.view = viewPipe
		a.logf("Switched to PIPE view")
	case "/connect":
		target := a.serverAddr
		if len(args) > 0 {
			target = args[0]
		}
		if target == "" {
			a.logErrorf("Provide a server address to connect")
			break
		}
		cmds = append(cmds, a.connectToServer(target))
	case "/register", "/login":
		if len(args) < 2 {
			a.logErrorf("Usage: %s <username> <password>", cmd)
			break
		}
		if a.session == nil {
			a.logErrorf("Not connected. Use /connect first.")
			break
		}
		action := strings.TrimPrefix(cmd, "/")
		password := strings.Join(args[1:], " ")
		a.logf("Sending %s for %s ...", action, args[0])
		cmds = append(cmds, a.sendAuthCommand(action, args[0], password))
	case "/rooms":
		if len(a.rooms) == 0 {
			a.logf("No rooms yet")
			break
		}
		a.logf("Rooms: %s", strings.Join(a.rooms, ", "))
	case "/open":
		if len(args) < 1 {
			a.logErrorf("Usage: /open <chat_id>")
			break
		}
		if !a.requireOnline() {
			break
		}
		a.openChat(args[0])
		cmds = append(cmds, a.sendEvent(protocol.EventHistory, protocol.HistoryRequest{ChatID: a.chat}, "history"))
	case "/history":
		if !a.requireChat() {
			break
		}
		req := protocol.HistoryRequest{ChatID: a.chat}
		if len(a.messages) > 0 {
			req.Before = a.messages[0].CreatedAt
		}
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil {
				req.Limit = n
			}
		}
		cmds = append(cmds, a.sendEvent(protocol.EventHistory, req, "history"))
	case "/dm":
		if len(args) != 1 {
			a.logErrorf("Usage: /dm <user_id>")
			break
		}
		if !a.requireOnline() {
			break
		}
		cmds = append(cmds, a.sendEvent(protocol.EventCreateChat, protocol.CreateChatRequest{
			Type:         storage.ChatPrivate,
			Participants: args,
		}, "chat create"))
	case "/group":
		if len(args) < 2 {
			a.logErrorf("Usage: /group <name> <user_id>...")
			break
		}
		if !a.requireOnline() {
			break
		}
		cmds = append(cmds, a.sendEvent(protocol.EventCreateChat, protocol.CreateChatRequest{
			Type:         storage.ChatGroup,
			Name:         args[0],
			Participants: args[1:],
		}, "chat create"))
	case "/react":
		if len(args) < 1 {
			a.logErrorf("Usage: /react <message> [emoji]")
			break
		}
		id, ok := a.resolveMessage(args[0])
		if !ok || !a.requireOnline() {
			break
		}
		emoji := ""
		if len(args) > 1 {
			emoji = args[1]
		}
		cmds = append(cmds, a.sendEvent(protocol.EventReaction, protocol.ReactionRequest{MessageID: id, Emoji: emoji}, "reaction"))
	case "/read":
		if len(args) < 1 {
			a.logErrorf("Usage: /read <message>")
			break
		}
		id, ok := a.resolveMessage(args[0])
		if !ok || !a.requireChat() {
			break
		}
		cmds = append(cmds, a.sendEvent(protocol.EventMessageRead, protocol.ReadRequest{MessageID: id, ChatID: a.chat}, "read receipt"))
	case "/edit":
		if len(args) < 2 {
			a.logErrorf("Usage: /edit <message> <text>")
			break
		}
		id, ok := a.resolveMessage(args[0])
		if !ok || !a.requireOnline() {
			break
		}
		cmds = append(cmds, a.sendEvent(protocol.EventEditMessage, protocol.EditRequest{MessageID: id, Text: strings.Join(args[1:], " ")}, "edit"))
	case "/delete":
		if len(args) < 1 {
			a.logErrorf("Usage: /delete <message>")
			break
		}
		id, ok := a.resolveMessage(args[0])
		if !ok || !a.requireOnline() {
			break
		}
		cmds = append(cmds, a.sendEvent(protocol.EventDeleteMsg, protocol.DeleteRequest{MessageID: id}, "delete"))
	case "/away", "/back":
		if !a.requireOnline() {
			break
		}
		status := storage.StatusAway
		if cmd == "/back" {
			status = storage.StatusOnline
		}
		a.userStatus = status
		cmds = append(cmds, a.sendEvent(protocol.EventSetStatus, protocol.StatusRequest{Status: status}, "status"))
	case "/online":
		if len(a.online) == 0 {
			a.logf("Nobody else is online")
			break
		}
		names := make([]string, 0, len(a.online))
		for _, id := range a.online {
			names = append(names, a.displayName(id))
		}
		a.logf("Online: %s", strings.Join(names, ", "))
	case "/quit":
		a.logf("Exiting client")
		a.resetSession()
		cmds = append(cmds, tea.Quit)
	default:
		a.logErrorf("Command %s not implemented", cmd)
	}

	a.updateViewportContent()

	switch len(cmds) {
	case 0:
		return nil
	case 1:
		return cmds[0]
	default:
		return tea.Batch(cmds...)
	}
}

func (a *App) requireOnline() bool {
	if a.session == nil {
		a.logErrorf("Not connected. Use /connect first.")
		return false
	}
	if !a.statusOnline {
		a.logErrorf("Authenticate first (use /login or /register)")
		return false
	}
	return true
}

func (a *App) requireChat() bool {
	if !a.requireOnline() {
		return false
	}
	if a.chat == "" {
		a.logErrorf("Open a chat first (use /open <chat_id>)")
		return false
	}
	return true
}

func (a *App) openChat(chatID string) {
	if a.chat != chatID {
		a.messages = nil
		a.typing = make(map[string]bool)
	}
	a.chat = chatID
	a.view = viewChat
	a.logf("Opening %s ...", chatID)
}

// resolveMessage expands a short id prefix against the loaded messages.
func (a *App) resolveMessage(ref string) (string, bool) {
	var match string
	for _, msg := range a.messages {
		if msg.ID == ref {
			return ref, true
		}
		if strings.HasPrefix(msg.ID, ref) {
			if match != "" {
				a.logErrorf("Message %s is ambiguous", ref)
				return "", false
			}
			match = msg.ID
		}
	}
	if match == "" {
		a.logErrorf("Unknown message %s", ref)
		return "", false
	}
	return match, true
}

func (a *App) connectToServer(target string) tea.Cmd {
	a.resetSession()
	session := NewSession(target)
	a.session = session
	a.serverAddr = target
	a.logf("Connecting to %s ...", target)

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return connectResultMsg{session: session, address: target, err: session.Connect(ctx)}
	}
}

func (a *App) listenForSession() tea.Cmd {
	session := a.session
	if session == nil {
		return nil
	}
	return func() tea.Msg {
		env, ok := <-session.Messages()
		if !ok {
			return sessionClosedMsg{session: session}
		}
		return sessionEnvelopeMsg{session: session, envelope: env}
	}
}

func (a *App) sendAuthCommand(action, username, password string) tea.Cmd {
	requestID := uuid.NewString()
	a.pendingRequests[requestID] = pendingRequest{action: action, username: username}
	a.lastAuthUser = username
	return a.sendEnvelope(protocol.Envelope{
		ID:   requestID,
		Type: protocol.MessageTypeAuthRequest,
		Payload: protocol.AuthRequest{
			Action:   action,
			Username: username,
			Password: password,
		},
	}, action+" request")
}

func (a *App) sendHello() tea.Cmd {
	requestID := uuid.NewString()
	a.pendingRequests[requestID] = pendingRequest{action: "hello"}
	return a.sendEnvelope(protocol.Envelope{
		ID:    requestID,
		Type:  protocol.MessageTypeHello,
		Token: a.authToken,
	}, "hello")
}

func (a *App) sendChatMessage(text string) tea.Cmd {
	text = strings.TrimSpace(text)
	if text == "" || !a.requireChat() {
		return nil
	}
	a.lastTyping = time.Time{}
	return a.sendEvent(protocol.EventSendMessage, protocol.SendMessageRequest{
		ChatID:  a.chat,
		Content: protocol.ContentView{Text: text},
	}, "chat message")
}

// maybeSendTyping emits typing-start while composing, at most once per
// throttle window.
func (a *App) maybeSendTyping() tea.Cmd {
	value := a.input.Value()
	if a.chat == "" || !a.statusOnline || value == "" || strings.HasPrefix(value, string(a.cfg.Prefix())) {
		return nil
	}
	now := time.Now()
	if now.Sub(a.lastTyping) < typingThrottle {
		return nil
	}
	a.lastTyping = now
	return a.sendEvent(protocol.EventTypingStart, protocol.TypingRequest{ChatID: a.chat}, "typing")
}

func (a *App) sendEvent(event string, payload interface{}, description string) tea.Cmd {
	requestID := uuid.NewString()
	a.pendingRequests[requestID] = pendingRequest{action: event, chat: a.chat}
	return a.sendEnvelope(protocol.Envelope{
		ID:      requestID,
		Type:    protocol.MessageTypeEvent,
		Event:   event,
		Payload: payload,
	}, description)
}

func (a *App) sendEnvelope(env protocol.Envelope, description string) tea.Cmd {
	session := a.session
	if session == nil {
		return nil
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	a.appendPipeEntry(pipeDirectionOut, env)
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return sendResultMsg{
			session:     session,
			id:          env.ID,
			description: description,
			err:         session.Send(ctx, env),
		}
	}
}

func defaultCommands() []commandSpec {
	return []commandSpec{
		{trigger: "/connect", usage: "/connect [addr]", description: "Connect to the server"},
		{trigger: "/register", usage: "/register <username> <password>", description: "Register a new account"},
		{trigger: "/login", usage: "/login <username> <password>", description: "Authenticate with existing credentials"},
		{trigger: "/rooms", usage: "/rooms", description: "List your chats"},
		{trigger: "/open", usage: "/open <chat_id>", description: "Open a chat and load its history"},
		{trigger: "/history", usage: "/history [limit]", description: "Load older messages"},
		{trigger: "/dm", usage: "/dm <user_id>", description: "Start a private chat"},
		{trigger: "/group", usage: "/group <name> <user_id>...", description: "Create a group chat"},
		{trigger: "/react", usage: "/react <message> [emoji]", description: "React to a message (no emoji removes it)"},
		{trigger: "/read", usage: "/read <message>", description: "Mark a message as read"},
		{trigger: "/edit", usage: "/edit <message> <text>", description: "Edit your message"},
		{trigger: "/delete", usage: "/delete <message>", description: "Delete your message"},
		{trigger: "/away", usage: "/away", description: "Set your status to away"},
		{trigger: "/back", usage: "/back", description: "Set your status to online"},
		{trigger: "/online", usage: "/online", description: "List online contacts"},
		{trigger: "/chat", usage: "/chat", description: "Switch to chat view"},
		{trigger: "/help", usage: "/help", description: "Show command help"},
		{trigger: "/pipe", usage: "/pipe [clear]", description: "Inspect transport JSON frames"},
		{trigger: "/quit", usage: "/quit", description: "Exit the client"},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
