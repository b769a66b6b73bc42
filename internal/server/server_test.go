package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fenggwsx/SlashHub/internal/auth"
	"github.com/fenggwsx/SlashHub/internal/config"
	"github.com/fenggwsx/SlashHub/internal/hub"
	"github.com/fenggwsx/SlashHub/internal/protocol"
	"github.com/fenggwsx/SlashHub/internal/storage"
	"github.com/fenggwsx/SlashHub/internal/storage/memory"
)

type testServer struct {
	cfg      config.ServerConfig
	store    *memory.Store
	hub      *hub.Hub
	accounts *Accounts
	app      *App
	addr     string
	logger   *zap.Logger
	logs     *observer.ObservedLogs
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.ServerConfig{
		JWT:           config.JWTConfig{Secret: "test-secret", Issuer: "goslash-test", Expiration: time.Hour},
		Hub:           config.DefaultHubConfig(),
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
		MaxFrameBytes: 1 << 16,
	}
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(zapcore.NewTee(zaptest.NewLogger(t).Core(), core))
	store := memory.NewStore()
	h := hub.New(store, auth.NewVerifier(cfg.JWT), hub.Options{Config: cfg.Hub, Logger: logger})
	accounts := NewAccounts(store, cfg.JWT)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	app := NewApp(cfg, h, accounts, logger)
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	return &testServer{cfg: cfg, store: store, hub: h, accounts: accounts, app: app, addr: ln.Addr().String(), logger: logger, logs: logs}
}

// register creates an account directly and returns its token.
func (ts *testServer) register(t *testing.T, username string) (string, *storage.User) {
	t.Helper()
	resp, user, err := ts.accounts.Handle(context.Background(), protocol.AuthRequest{
		Action: "register", Username: username, Password: "pw-" + username,
	})
	require.NoError(t, err)
	return resp.Token, user
}

type tcpClient struct {
	t    *testing.T
	conn net.Conn
	enc  *protocol.Encoder
	dec  *protocol.Decoder
}

func dialTCP(t *testing.T, addr string) *tcpClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &tcpClient{t: t, conn: conn, enc: protocol.NewEncoder(conn), dec: protocol.NewDecoder(conn, 0)}
}

func (c *tcpClient) write(env protocol.Envelope) {
	c.t.Helper()
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}
	require.NoError(c.t, c.enc.Encode(context.Background(), env))
}

func (c *tcpClient) read() (protocol.Envelope, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return c.dec.Decode(context.Background())
}

func (c *tcpClient) mustRead() protocol.Envelope {
	c.t.Helper()
	env, err := c.read()
	require.NoError(c.t, err)
	return env
}

// waitFor reads frames until one carries event.
func (c *tcpClient) waitFor(event string) protocol.Envelope {
	c.t.Helper()
	for {
		env := c.mustRead()
		if env.Event == event {
			return env
		}
	}
}

func (c *tcpClient) hello(token string) protocol.HelloResponse {
	c.t.Helper()
	c.write(protocol.Envelope{ID: "hello-1", Type: protocol.MessageTypeHello, Token: token})
	ack, err := protocol.DecodePayload[protocol.AckPayload](c.mustRead().Payload)
	require.NoError(c.t, err)
	require.Equal(c.t, protocol.AckOK, ack.Status, ack.Reason)
	env := c.mustRead()
	require.Equal(c.t, protocol.MessageTypeHello, env.Type)
	resp, err := protocol.DecodePayload[protocol.HelloResponse](env.Payload)
	require.NoError(c.t, err)
	return resp
}

// writerStoppedBeforeDetach reports whether the writer of sessionID logged
// its exit before the hub detached the session.
func (ts *testServer) writerStoppedBeforeDetach(sessionID string) (detached, ordered bool) {
	stopped := false
	for _, entry := range ts.logs.All() {
		if entry.ContextMap()["session_id"] != sessionID {
			continue
		}
		switch entry.Message {
		case "writer stopped":
			stopped = true
		case "session disconnected":
			return true, stopped
		}
	}
	return false, false
}
