package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fenggwsx/SlashHub/internal/config"
	"github.com/fenggwsx/SlashHub/internal/hub"
	"github.com/fenggwsx/SlashHub/internal/protocol"
)

// App serves the framed TCP protocol.
type App struct {
	cfg      config.ServerConfig
	hub      *hub.Hub
	accounts *Accounts
	logger   *zap.Logger

	conns sync.WaitGroup
}

// NewApp constructs the TCP front end.
func NewApp(cfg config.ServerConfig, h *hub.Hub, accounts *Accounts, logger *zap.Logger) *App {
	return &App{
		cfg:      cfg,
		hub:      h,
		accounts: accounts,
		logger:   logger.Named("tcp"),
	}
}

// Run listens on the configured address and serves until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is canceled, then waits
// for open connections to unwind.
func (a *App) Serve(ctx context.Context, listener net.Listener) error {
	a.logger.Info("listening", zap.String("addr", listener.Addr().String()))
	stop := context.AfterFunc(ctx, func() {
		_ = listener.Close()
	})
	defer stop()
	defer a.conns.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		a.conns.Add(1)
		go func() {
			defer a.conns.Done()
			a.handleConnection(ctx, conn)
		}()
	}
}

func (a *App) handleConnection(parentCtx context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()
	defer conn.Close()

	c := newTCPConn(conn, a.cfg.WriteTimeout)
	decoder := protocol.NewDecoder(conn, a.cfg.MaxFrameBytes)

	session := a.handshake(ctx, c, decoder)
	if session == nil {
		return
	}
	defer a.hub.Disconnect(ctx, session)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer a.logger.Debug("writer stopped", zap.String("session_id", session.ID()))
		if err := c.writeLoop(ctx, session); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Debug("write loop ended", zap.String("session_id", session.ID()), zap.Error(err))
		}
		cancel()
	}()
	// The writer must be gone before the session is detached.
	defer func() {
		cancel()
		<-writerDone
	}()

	for {
		env, err := a.read(ctx, conn, decoder)
		if err != nil {
			a.logReadError(c, err)
			return
		}

		switch env.Type {
		case protocol.MessageTypeEvent:
			_ = a.hub.Dispatch(ctx, session, env)
		case protocol.MessageTypePing:
			a.reply(ctx, c, ackEnvelope(env.ID, protocol.AckOK, ""))
		default:
			a.reply(ctx, c, ackEnvelope(env.ID, protocol.AckError, "unsupported message type"))
		}
	}
}

// handshake serves auth requests until a hello with a valid token opens a
// session. Any other frame, or a rejected token, ends the connection.
func (a *App) handshake(ctx context.Context, c *tcpConn, decoder *protocol.Decoder) *hub.Session {
	for {
		env, err := a.read(ctx, c.conn, decoder)
		if err != nil {
			a.logReadError(c, err)
			return nil
		}

		switch env.Type {
		case protocol.MessageTypeAuthRequest:
			a.handleAuth(ctx, c, env)
		case protocol.MessageTypePing:
			a.reply(ctx, c, ackEnvelope(env.ID, protocol.AckOK, ""))
		case protocol.MessageTypeHello:
			user, err := a.hub.Authenticate(ctx, env.Token)
			if err != nil {
				a.logger.Info("hello rejected", zap.String("remote", c.remoteAddr()), zap.Error(err))
				a.reply(ctx, c, ackEnvelope(env.ID, protocol.AckError, "unauthorized"))
				return nil
			}
			session, err := a.hub.Connect(ctx, user)
			if err != nil {
				a.logger.Error("connect failed", zap.String("user_id", user.ID), zap.Error(err))
				a.reply(ctx, c, ackEnvelope(env.ID, protocol.AckError, "service unavailable"))
				return nil
			}
			a.reply(ctx, c, ackEnvelope(env.ID, protocol.AckOK, ""))
			a.reply(ctx, c, helloEnvelope(session))
			return session
		default:
			a.reply(ctx, c, ackEnvelope(env.ID, protocol.AckError, "unauthorized"))
			return nil
		}
	}
}

func (a *App) handleAuth(ctx context.Context, c *tcpConn, env protocol.Envelope) {
	req, err := protocol.DecodePayload[protocol.AuthRequest](env.Payload)
	if err != nil {
		a.reply(ctx, c, ackEnvelope(env.ID, protocol.AckError, "invalid auth payload"))
		return
	}

	resp, user, err := a.accounts.Handle(ctx, req)
	if err != nil {
		a.logger.Info("auth failed",
			zap.String("action", req.Action),
			zap.String("username", req.Username),
			zap.String("remote", c.remoteAddr()),
			zap.Error(err),
		)
		a.reply(ctx, c, ackEnvelope(env.ID, protocol.AckError, authReason(err)))
		return
	}
	a.logger.Info("auth success",
		zap.String("action", req.Action),
		zap.String("user_id", user.ID),
		zap.String("remote", c.remoteAddr()),
	)

	a.reply(ctx, c, ackEnvelope(env.ID, protocol.AckOK, ""))
	a.reply(ctx, c, protocol.Envelope{
		ID:        uuid.NewString(),
		Type:      protocol.MessageTypeAuthResponse,
		Timestamp: time.Now().UTC(),
		Payload:   resp,
	})
}

func (a *App) read(ctx context.Context, conn net.Conn, decoder *protocol.Decoder) (protocol.Envelope, error) {
	if a.cfg.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout)); err != nil {
			return protocol.Envelope{}, err
		}
	}
	return decoder.Decode(ctx)
}

func (a *App) reply(ctx context.Context, c *tcpConn, env protocol.Envelope) {
	if err := c.send(ctx, env); err != nil {
		a.logger.Debug("send failed", zap.String("remote", c.remoteAddr()), zap.Error(err))
	}
}

func (a *App) logReadError(c *tcpConn, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled) {
		return
	}
	a.logger.Info("connection closed", zap.String("remote", c.remoteAddr()), zap.Error(err))
}
