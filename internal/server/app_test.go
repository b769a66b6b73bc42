package server

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/SlashHub/internal/protocol"
	"github.com/fenggwsx/SlashHub/internal/storage"
)

func TestRegisterThenHelloOverTCP(t *testing.T) {
	ts := newTestServer(t)
	c := dialTCP(t, ts.addr)

	c.write(protocol.Envelope{
		ID:      "auth-1",
		Type:    protocol.MessageTypeAuthRequest,
		Payload: protocol.AuthRequest{Action: "register", Username: "alice", Password: "secret"},
	})
	ack, err := protocol.DecodePayload[protocol.AckPayload](c.mustRead().Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.AckOK, ack.Status)
	assert.Equal(t, "auth-1", ack.ReferenceID)

	env := c.mustRead()
	require.Equal(t, protocol.MessageTypeAuthResponse, env.Type)
	resp, err := protocol.DecodePayload[protocol.AuthResponse](env.Payload)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Token)

	hello := c.hello(resp.Token)
	assert.Equal(t, resp.UserID, hello.UserID)
	assert.Equal(t, "alice", hello.Username)
	assert.Contains(t, hello.Rooms, "user:"+resp.UserID)
	assert.Eventually(t, func() bool { return ts.hub.Registry().IsOnline(resp.UserID) }, timeout, tick)
}

func TestHelloWithBadTokenClosesConnection(t *testing.T) {
	ts := newTestServer(t)
	c := dialTCP(t, ts.addr)

	c.write(protocol.Envelope{ID: "hello-x", Type: protocol.MessageTypeHello, Token: "forged"})
	ack, err := protocol.DecodePayload[protocol.AckPayload](c.mustRead().Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.AckError, ack.Status)
	assert.Equal(t, "unauthorized", ack.Reason)

	_, err = c.read()
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, ts.hub.Registry().OnlineUsers())
}

func TestEventBeforeHelloIsRejected(t *testing.T) {
	ts := newTestServer(t)
	c := dialTCP(t, ts.addr)

	c.write(protocol.Envelope{ID: "e1", Type: protocol.MessageTypeEvent, Event: protocol.EventTypingStart,
		Payload: protocol.TypingRequest{ChatID: "c1"}})
	ack, err := protocol.DecodePayload[protocol.AckPayload](c.mustRead().Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.AckError, ack.Status)

	_, err = c.read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestLoginWithWrongPassword(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "bob")
	c := dialTCP(t, ts.addr)

	c.write(protocol.Envelope{ID: "a", Type: protocol.MessageTypeAuthRequest,
		Payload: protocol.AuthRequest{Action: "login", Username: "bob", Password: "nope"}})
	ack, err := protocol.DecodePayload[protocol.AckPayload](c.mustRead().Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.AckError, ack.Status)
	assert.Equal(t, "invalid credentials", ack.Reason)

	// The connection stays usable for another attempt.
	c.write(protocol.Envelope{ID: "b", Type: protocol.MessageTypeAuthRequest,
		Payload: protocol.AuthRequest{Action: "login", Username: "bob", Password: "pw-bob"}})
	ack, err = protocol.DecodePayload[protocol.AckPayload](c.mustRead().Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.AckOK, ack.Status)
}

func TestMessageFlowOverTCP(t *testing.T) {
	ts := newTestServer(t)
	aliceToken, alice := ts.register(t, "alice")
	bobToken, bob := ts.register(t, "bob")
	chat := &storage.Chat{Type: storage.ChatPrivate, Participants: []string{alice.ID, bob.ID}}
	require.NoError(t, ts.store.CreateChat(context.Background(), chat))

	a, b := dialTCP(t, ts.addr), dialTCP(t, ts.addr)
	a.hello(aliceToken)
	b.hello(bobToken)

	a.write(protocol.Envelope{ID: "m1", Type: protocol.MessageTypeEvent, Event: protocol.EventSendMessage,
		Payload: protocol.SendMessageRequest{ChatID: chat.ID, Content: protocol.ContentView{Text: "hi"}}})

	got, err := protocol.DecodePayload[protocol.NewMessageEvent](b.waitFor(protocol.EventNewMessage).Payload)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Message.Content.Text)
	assert.Equal(t, alice.ID, got.Message.Sender.ID)

	delivered, err := protocol.DecodePayload[protocol.DeliveredEvent](b.waitFor(protocol.EventDelivered).Payload)
	require.NoError(t, err)
	assert.Equal(t, got.Message.ID, delivered.MessageID)

	mine, err := protocol.DecodePayload[protocol.NewMessageEvent](a.waitFor(protocol.EventNewMessage).Payload)
	require.NoError(t, err)
	assert.Equal(t, got.Message.ID, mine.Message.ID)

	// Errors go back to the sender only.
	b.write(protocol.Envelope{ID: "bad", Type: protocol.MessageTypeEvent, Event: protocol.EventSendMessage,
		Payload: protocol.SendMessageRequest{ChatID: "missing", Content: protocol.ContentView{Text: "x"}}})
	failure, err := protocol.DecodePayload[protocol.ErrorEvent](b.waitFor(protocol.EventMessageError).Payload)
	require.NoError(t, err)
	assert.Equal(t, "bad", failure.ReferenceID)

	require.NoError(t, b.conn.Close())
	assert.Eventually(t, func() bool { return !ts.hub.Registry().IsOnline(bob.ID) }, timeout, tick)
	offline, err := protocol.DecodePayload[protocol.UserOfflineEvent](a.waitFor(protocol.EventUserOffline).Payload)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, offline.UserID)
}

func TestTCPWriterStopsBeforeSessionDetach(t *testing.T) {
	ts := newTestServer(t)
	token, user := ts.register(t, "alice")
	c := dialTCP(t, ts.addr)
	hello := c.hello(token)

	require.NoError(t, c.conn.Close())

	assert.Eventually(t, func() bool { return !ts.hub.Registry().IsOnline(user.ID) }, timeout, tick)
	require.Eventually(t, func() bool {
		detached, _ := ts.writerStoppedBeforeDetach(hello.SessionID)
		return detached
	}, timeout, tick)
	_, ordered := ts.writerStoppedBeforeDetach(hello.SessionID)
	assert.True(t, ordered)
}
