package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/genbarescue/gateway/internal/config"
	"github.com/genbarescue/gateway/internal/db"
	"github.com/genbarescue/gateway/internal/logger"
	"github.com/genbarescue/gateway/internal/session"
	"github.com/genbarescue/gateway/internal/store"
)

// runCleanup removes sessions whose last access is older than the
// retention window. Meant for a scheduled job, not the serving path.
func runCleanup() error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log := logger.L

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer conn.Close()

	sessions := session.NewStore(log, store.NewPostgres(conn))
	removed, err := sessions.CleanupStale(ctx, session.DefaultStaleAfter)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	log.Info("stale sessions removed", slog.Int("count", removed))
	return nil
}
