package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fenggwsx/SlashHub/internal/config"
	"github.com/fenggwsx/SlashHub/internal/hub"
	"github.com/fenggwsx/SlashHub/internal/protocol"
	"github.com/fenggwsx/SlashHub/internal/storage"
)

// PresenceMirror reads presence shared by every hub instance, such as the
// Redis mirror.
type PresenceMirror interface {
	Presence(ctx context.Context, userID string) (string, time.Time, error)
	OnlineUsers(ctx context.Context) ([]string, error)
}

// NewRouter builds the HTTP surface: health, presence introspection,
// account endpoints and the WebSocket upgrade. mirror may be nil, in which
// case presence lookups answer from this instance alone.
func NewRouter(cfg config.ServerConfig, h *hub.Hub, accounts *Accounts, mirror PresenceMirror, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	logger = logger.Named("http")

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/online", func(c *gin.Context) {
		snapshot := h.Presence().Snapshot()
		users := make([]gin.H, 0, len(snapshot))
		for _, id := range h.Presence().Online() {
			state, ok := snapshot[id]
			if !ok {
				continue
			}
			users = append(users, gin.H{"userId": id, "status": state.Status, "lastSeen": state.LastSeenAt})
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	})
	api.GET("/presence", func(c *gin.Context) {
		if mirror == nil {
			c.JSON(http.StatusOK, gin.H{"users": h.Presence().Online()})
			return
		}
		ids, err := mirror.OnlineUsers(c.Request.Context())
		if err != nil {
			logger.Warn("mirror read failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": ids})
	})
	api.GET("/presence/:userId", func(c *gin.Context) {
		id := c.Param("userId")
		if mirror == nil {
			state, ok := h.Presence().Snapshot()[id]
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"userId": id, "status": state.Status, "lastSeen": state.LastSeenAt})
			return
		}
		status, seen, err := mirror.Presence(c.Request.Context(), id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
		case err != nil:
			logger.Warn("mirror read failed", zap.String("user_id", id), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence unavailable"})
		default:
			c.JSON(http.StatusOK, gin.H{"userId": id, "status": status, "lastSeen": seen})
		}
	})
	api.POST("/auth/:action", func(c *gin.Context) {
		var req protocol.AuthRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid auth payload"})
			return
		}
		req.Action = c.Param("action")
		resp, _, err := accounts.Handle(c.Request.Context(), req)
		if err != nil {
			c.JSON(authStatus(err), gin.H{"error": authReason(err)})
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	ws := newWSHandler(cfg, h, logger)
	router.GET("/ws", ws.serve)

	return router
}

// NewHTTPServer wraps handler with the configured address and timeouts.
func NewHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func authStatus(err error) int {
	switch {
	case errors.Is(err, errUserExists):
		return http.StatusConflict
	case errors.Is(err, errInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, errInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, errUnsupportedAction):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
