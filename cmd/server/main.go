package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fenggwsx/SlashHub/internal/auth"
	"github.com/fenggwsx/SlashHub/internal/config"
	"github.com/fenggwsx/SlashHub/internal/hub"
	"github.com/fenggwsx/SlashHub/internal/logging"
	"github.com/fenggwsx/SlashHub/internal/server"
	"github.com/fenggwsx/SlashHub/internal/storage"
	"github.com/fenggwsx/SlashHub/internal/storage/memory"
	"github.com/fenggwsx/SlashHub/internal/storage/mongo"
	"github.com/fenggwsx/SlashHub/internal/storage/redismirror"
	"github.com/fenggwsx/SlashHub/internal/storage/sqlite"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init storage", zap.Error(err))
	}
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal("migrate storage", zap.Error(err))
	}

	mirror, _ := store.(server.PresenceMirror)

	h := hub.New(store, auth.NewVerifier(cfg.JWT), hub.Options{Config: cfg.Hub, Logger: logger})
	accounts := server.NewAccounts(store, cfg.JWT)
	app := server.NewApp(cfg, h, accounts, logger)
	httpServer := server.NewHTTPServer(cfg, server.NewRouter(cfg, h, accounts, mirror, logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Run(gctx) })
	g.Go(func() error { return app.Run(gctx) })
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	go func() {
		if err := g.Wait(); err != nil {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"http": func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
		"hub": func(ctx context.Context) error {
			cancel()
			done := make(chan error, 1)
			go func() { done <- g.Wait() }()
			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})

	code := <-wait
	if err := store.Close(); err != nil {
		logger.Warn("close storage", zap.Error(err))
	}
	logger.Info("shutdown complete", zap.Int("exit_code", code))
	if code != 0 {
		_ = logger.Sync()
		os.Exit(code)
	}
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *zap.Logger) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)
	switch cfg.Store {
	case config.StoreMongo:
		store, err = mongo.NewStore(ctx, cfg.Mongo, logger)
	case config.StoreMemory:
		store = memory.NewStore()
	default:
		store, err = sqlite.NewStore(cfg.Database)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Redis.Addr == "" {
		return store, nil
	}
	mirrored, err := redismirror.Connect(ctx, store, cfg.Redis, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.Info("presence mirror enabled", zap.String("redis", cfg.Redis.Addr))
	return mirrored, nil
}
