// Package redismirror decorates a storage.Store so presence writes are also
// published to Redis, where dashboards and sidecar services read them without
// touching the primary database.
package redismirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fenggwsx/SlashHub/internal/config"
	"github.com/fenggwsx/SlashHub/internal/storage"
)

const (
	onlineSetKey = "presence:online"
	fieldStatus  = "status"
	fieldSeen    = "last_seen"
)

// Store forwards everything to the wrapped store and mirrors presence.
type Store struct {
	storage.Store
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// Connect dials Redis and wraps inner.
func Connect(ctx context.Context, inner storage.Store, cfg config.RedisConfig, logger *zap.Logger) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return Wrap(inner, rdb, cfg.TTL, logger), nil
}

// Wrap builds a mirror around an existing client.
func Wrap(inner storage.Store, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	return &Store{Store: inner, rdb: rdb, ttl: ttl, logger: logger}
}

// UpdateUserPresence writes through to the wrapped store, then to Redis.
// A Redis failure is logged and never masks the primary result.
func (s *Store) UpdateUserPresence(ctx context.Context, userID, status string, lastSeenAt time.Time) error {
	err := s.Store.UpdateUserPresence(ctx, userID, status, lastSeenAt)

	key := presenceKey(userID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, fieldStatus, status, fieldSeen, lastSeenAt.UTC().Format(time.RFC3339Nano))
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if status == storage.StatusOffline {
		pipe.SRem(ctx, onlineSetKey, userID)
	} else {
		pipe.SAdd(ctx, onlineSetKey, userID)
	}
	if _, rerr := pipe.Exec(ctx); rerr != nil {
		s.logger.Warn("presence mirror write failed", zap.String("user_id", userID), zap.Error(rerr))
	}
	return err
}

// Presence reads the mirrored status of one user.
func (s *Store) Presence(ctx context.Context, userID string) (string, time.Time, error) {
	values, err := s.rdb.HGetAll(ctx, presenceKey(userID)).Result()
	if err != nil {
		return "", time.Time{}, err
	}
	if len(values) == 0 {
		return "", time.Time{}, storage.ErrNotFound
	}
	seen, err := time.Parse(time.RFC3339Nano, values[fieldSeen])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("parse last_seen: %w", err)
	}
	return values[fieldStatus], seen, nil
}

// OnlineUsers lists the user ids currently marked online or away.
func (s *Store) OnlineUsers(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, onlineSetKey).Result()
}

// Close closes Redis and the wrapped store.
func (s *Store) Close() error {
	return errors.Join(s.rdb.Close(), s.Store.Close())
}

func presenceKey(userID string) string {
	return "presence:user:" + userID
}
