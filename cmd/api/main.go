package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/yonatanbiwix/simon-game-app/internal/config"
	"github.com/yonatanbiwix/simon-game-app/internal/logger"
	"github.com/yonatanbiwix/simon-game-app/internal/server"
	"github.com/yonatanbiwix/simon-game-app/internal/store"
	"github.com/yonatanbiwix/simon-game-app/internal/store/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Couldn't load config: %v", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("Couldn't open room store: %v", err)
	}
	defer st.Close()

	if err := server.NewServer(cfg, st).Run(ctx); err != nil {
		logger.Errorf("Server stopped: %v", err)
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.RoomStore, error) {
	if cfg.DatabaseURL == "" {
		logger.Infof("DATABASE_URL not set, keeping rooms in memory")
		return store.NewMemoryStore(), nil
	}
	if err := migrations.Migrate(ctx, cfg.DatabaseURL); err != nil {
		return nil, err
	}
	return store.NewPostgresStore(ctx, cfg.DatabaseURL)
}
