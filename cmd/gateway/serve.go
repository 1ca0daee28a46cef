package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/genbarescue/gateway/internal/ai"
	"github.com/genbarescue/gateway/internal/audit"
	"github.com/genbarescue/gateway/internal/channel"
	"github.com/genbarescue/gateway/internal/channel/adapters/chatwork"
	"github.com/genbarescue/gateway/internal/channel/adapters/line"
	"github.com/genbarescue/gateway/internal/config"
	"github.com/genbarescue/gateway/internal/conversation"
	"github.com/genbarescue/gateway/internal/db"
	"github.com/genbarescue/gateway/internal/handlers"
	"github.com/genbarescue/gateway/internal/logger"
	"github.com/genbarescue/gateway/internal/server"
	"github.com/genbarescue/gateway/internal/session"
	"github.com/genbarescue/gateway/internal/store"
	"github.com/genbarescue/gateway/internal/vision"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideStore,
			provideProperties,
			provideRowAppender,
			provideRedis,
			providePending,
			provideVisionService,
			provideSessionStore,
			provideAIClient,
			provideNotifier,
			provideAuditLogger,
			provideRegistry,
			provideConversationService,
			handlers.NewPingHandler,
			provideWebhookHandler,
			provideServer,
		),
		fx.Invoke(
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	// Fail at startup, not on the first turn that needs a secret.
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideStore(conn *pgxpool.Pool) *store.Postgres         { return store.NewPostgres(conn) }
func provideProperties(pg *store.Postgres) store.Properties   { return pg }
func provideRowAppender(pg *store.Postgres) store.RowAppender { return pg }

func provideRedis(lc fx.Lifecycle, cfg config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return client.Close() }})
	return client, nil
}

func providePending(client *redis.Client) vision.PendingStore {
	return vision.NewRedisPending(client)
}

func provideVisionService(log *slog.Logger, cfg config.Config, pending vision.PendingStore) *vision.Service {
	return vision.NewService(log, cfg.Extractor.EndpointURL, cfg.Extractor.AuthToken,
		time.Duration(cfg.Extractor.TimeoutSeconds)*time.Second, pending)
}

func provideSessionStore(log *slog.Logger, props store.Properties) *session.Store {
	return session.NewStore(log, props)
}

func provideAIClient(log *slog.Logger, cfg config.Config, sessions *session.Store, visionSvc *vision.Service) *ai.Client {
	return ai.NewClient(log, cfg.Backend.BaseURL, cfg.Backend.APIKey, cfg.Backend.AgentID,
		time.Duration(cfg.Backend.TimeoutSeconds)*time.Second, sessions, visionSvc)
}

func provideNotifier(log *slog.Logger, cfg config.Config) audit.Notifier {
	return audit.NewMailNotifier(log, cfg.Alerts)
}

func provideAuditLogger(log *slog.Logger, appender store.RowAppender, notifier audit.Notifier) *audit.Logger {
	return audit.NewLogger(log, appender, notifier)
}

func provideRegistry(log *slog.Logger, cfg config.Config, props store.Properties) *channel.Registry {
	registry := channel.NewRegistry()
	registry.MustRegister(line.NewAdapter(log, cfg.LINE.APIBase, cfg.LINE.AccessToken, cfg.LINE.ChannelSecret))
	registry.MustRegister(chatwork.NewAdapter(log, cfg.Chatwork.APIBase, cfg.Chatwork.APIToken, cfg.Chatwork.BotAccountID, props))
	return registry
}

func provideConversationService(log *slog.Logger, registry *channel.Registry, backend *ai.Client, images *vision.Service, records *audit.Logger) *conversation.Service {
	return conversation.NewService(log, registry, backend, images, records)
}

func provideWebhookHandler(log *slog.Logger, registry *channel.Registry, turns *conversation.Service, records *audit.Logger) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, registry, turns, records)
}

func provideServer(log *slog.Logger, cfg config.Config, pingHandler *handlers.PingHandler, webhookHandler *handlers.WebhookHandler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, pingHandler, webhookHandler)
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
