package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fenggwsx/SlashHub/internal/config"
	"github.com/fenggwsx/SlashHub/internal/hub"
	"github.com/fenggwsx/SlashHub/internal/protocol"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

type wsHandler struct {
	hub      *hub.Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
	maxBytes int64
}

func newWSHandler(cfg config.ServerConfig, h *hub.Hub, logger *zap.Logger) *wsHandler {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		allowed[origin] = struct{}{}
	}
	maxBytes := int64(cfg.MaxFrameBytes)
	if maxBytes <= 0 {
		maxBytes = protocol.DefaultMaxFrameBytes
	}
	return &wsHandler{
		hub:      h,
		logger:   logger.Named("ws"),
		maxBytes: maxBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowed) == 0 {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// serve authenticates before upgrading; a bad credential never reaches the hub.
func (w *wsHandler) serve(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	}
	user, err := w.hub.Authenticate(c.Request.Context(), token)
	if err != nil {
		w.logger.Info("upgrade rejected", zap.String("remote", c.ClientIP()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication error"})
		return
	}

	conn, err := w.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		w.logger.Info("upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	session, err := w.hub.Connect(ctx, user)
	if err != nil {
		w.logger.Error("connect failed", zap.String("user_id", user.ID), zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "service unavailable"),
			time.Now().Add(wsWriteWait))
		_ = conn.Close()
		return
	}

	peer := &wsPeer{conn: conn, session: session, logger: w.logger}
	defer w.hub.Disconnect(ctx, session)
	defer conn.Close()

	if err := peer.send(helloEnvelope(session)); err != nil {
		return
	}
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer w.logger.Debug("writer stopped", zap.String("session_id", session.ID()))
		peer.writeLoop(ctx, cancel)
	}()
	peer.readLoop(ctx, w.hub, w.maxBytes)
	cancel()
	<-writerDone
}

// wsPeer pumps one WebSocket connection. gorilla allows a single
// concurrent writer, so every write holds mu.
type wsPeer struct {
	conn    *websocket.Conn
	session *hub.Session
	logger  *zap.Logger
	mu      sync.Mutex
}

func (p *wsPeer) send(env protocol.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return p.conn.WriteJSON(env)
}

func (p *wsPeer) ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (p *wsPeer) readLoop(ctx context.Context, h *hub.Hub, maxBytes int64) {
	p.conn.SetReadLimit(maxBytes)
	_ = p.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var env protocol.Envelope
		if err := p.conn.ReadJSON(&env); err != nil {
			p.logReadError(err)
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		switch env.Type {
		case protocol.MessageTypeEvent, "":
			_ = h.Dispatch(ctx, p.session, env)
		case protocol.MessageTypePing:
			if err := p.send(ackEnvelope(env.ID, protocol.AckOK, "")); err != nil {
				return
			}
		default:
			if err := p.send(ackEnvelope(env.ID, protocol.AckError, "unsupported message type")); err != nil {
				return
			}
		}
	}
}

func (p *wsPeer) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(wsPingEvery)
	defer func() {
		ticker.Stop()
		cancel()
		_ = p.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.session.Done():
			return
		case env := <-p.session.Outbound():
			if err := p.send(env); err != nil {
				p.logger.Debug("write failed", zap.String("session_id", p.session.ID()), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := p.ping(); err != nil {
				return
			}
		}
	}
}

func (p *wsPeer) logReadError(err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		p.logger.Info("peer timed out", zap.String("session_id", p.session.ID()))
		return
	}
	p.logger.Debug("read ended", zap.String("session_id", p.session.ID()), zap.Error(err))
}
