package client

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fenggwsx/SlashHub/internal/config"
	"github.com/fenggwsx/SlashHub/internal/protocol"
)

// App implements the bubbletea tea.Model interface for the terminal client.
type App struct {
	cfg        config.ClientConfig
	session    *Session
	serverAddr string

	input    textinput.Model
	viewport viewport.Model
	helper   help.Model
	styles   styleSet
	commands []commandSpec

	view       viewMode
	width      int
	height     int
	showHelp   bool
	helpView   string
	helpHeight int
	logLine    logEntry

	statusOnline    bool
	authToken       string
	userID          string
	username        string
	userStatus      string
	lastAuthUser    string
	pendingRequests map[string]pendingRequest

	rooms      []string
	chat       string
	messages   []protocol.MessageView
	names      map[string]string
	typing     map[string]bool
	online     []string
	lastTyping time.Time

	pipeHistory []pipeEntry
}

type viewMode int

const (
	viewChat viewMode = iota
	viewHelp
	viewPipe
)

func (v viewMode) String() string {
	switch v {
	case viewHelp:
		return "help"
	case viewPipe:
		return "pipe"
	default:
		return "chat"
	}
}

type logLevel int

const (
	logLevelInfo logLevel = iota
	logLevelError
)

type logEntry struct {
	level logLevel
	label string
	body  string
}

type pipeDirection string

const (
	pipeDirectionIn  pipeDirection = "IN"
	pipeDirectionOut pipeDirection = "OUT"
)

type pipeEntry struct {
	direction   pipeDirection
	messageType string
	timestamp   time.Time
	body        string
}

type pendingRequest struct {
	action   string
	username string
	chat     string
}

type commandSpec struct {
	trigger     string
	usage       string
	description string
}

type styleSet struct {
	title         lipgloss.Style
	view          lipgloss.Style
	statusOnline  lipgloss.Style
	statusOffline lipgloss.Style
	label         lipgloss.Style
	value         lipgloss.Style
	logLabel      lipgloss.Style
	logBody       lipgloss.Style
	logLabelError lipgloss.Style
	logBodyError  lipgloss.Style
	help          lipgloss.Style
	typing        lipgloss.Style
}

type connectResultMsg struct {
	session *Session
	address string
	err     error
}

type sessionEnvelopeMsg struct {
	session  *Session
	envelope protocol.Envelope
}

type sessionClosedMsg struct {
	session *Session
}

type sendResultMsg struct {
	session     *Session
	id          string
	description string
	err         error
}

const (
	pipeHistoryLimit = 200
	typingThrottle   = 2 * time.Second
	requestTimeout   = 5 * time.Second
)

// NewApp returns a Bubble Tea model pre-populated with defaults.
func NewApp(cfg config.ClientConfig) *App {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Type a message or " + string(cfg.Prefix()) + "help"
	input.Focus()

	app := &App{
		cfg:             cfg,
		serverAddr:      cfg.ServerAddr,
		input:           input,
		viewport:        viewport.New(0, 0),
		helper:          help.New(),
		styles:          buildStyles(),
		commands:        defaultCommands(),
		view:            viewChat,
		pendingRequests: make(map[string]pendingRequest),
		names:           make(map[string]string),
		typing:          make(map[string]bool),
		logLine:         logEntry{label: "INFO", body: "Use /connect to reach the server"},
	}
	app.updateViewportContent()
	return app
}

// Init is part of the tea.Model interface.
func (a *App) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles user input and session traffic.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = m.Width, m.Height
		a.updateInputWidth()
		a.updateHelp()
		a.updateViewportSize()
		a.updateViewportContent()
		return a, nil
	case tea.KeyMsg:
		return a.handleKey(m)
	case connectResultMsg:
		return a, a.handleConnectResult(m)
	case sessionEnvelopeMsg:
		if m.session != a.session {
			return a, nil
		}
		cmd := a.handleSessionEnvelope(m.envelope)
		return a, tea.Batch(cmd, a.listenForSession())
	case sessionClosedMsg:
		if m.session == a.session {
			a.resetSession()
			a.logErrorf("Connection closed")
		}
		return a, nil
	case sendResultMsg:
		if m.err != nil && m.session == a.session {
			delete(a.pendingRequests, m.id)
			a.logErrorf("Failed to send %s: %v", m.description, m.err)
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return a, a.executeCommand(string(a.cfg.Prefix()) + "quit")
	case tea.KeyEnter:
		value := a.input.Value()
		a.input.Reset()
		a.updateHelp()
		a.updateViewportSize()
		if value == "" {
			return a, nil
		}
		return a, a.handleSubmit(value)
	case tea.KeyTab:
		a.handleTabCompletion()
		a.updateHelp()
		return a, nil
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		a.viewport, cmd = a.viewport.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	a.updateHelp()
	a.updateViewportSize()
	return a, tea.Batch(cmd, a.maybeSendTyping())
}

func (a *App) handleConnectResult(msg connectResultMsg) tea.Cmd {
	if msg.session != a.session {
		_ = msg.session.Close()
		return nil
	}
	if msg.err != nil {
		a.session = nil
		a.logErrorf("Connect to %s failed: %v", msg.address, msg.err)
		return nil
	}
	a.logf("Connected to %s. Use /register or /login", msg.address)
	return a.listenForSession()
}

func (a *App) resetSession() {
	if a.session != nil {
		_ = a.session.Close()
	}
	a.session = nil
	a.statusOnline = false
	a.authToken = ""
	a.userID = ""
	a.userStatus = ""
	a.rooms = nil
	a.online = nil
	a.typing = make(map[string]bool)
	a.pendingRequests = make(map[string]pendingRequest)
}

func (a *App) logf(format string, args ...interface{}) {
	a.logLine = logEntry{level: logLevelInfo, label: "INFO", body: fmt.Sprintf(format, args...)}
}

func (a *App) logErrorf(format string, args ...interface{}) {
	a.logLine = logEntry{level: logLevelError, label: "ERROR", body: fmt.Sprintf(format, args...)}
}
