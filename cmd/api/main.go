package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat/internal/config"
	"github.com/noah-isme/gema-chat/internal/database"
	"github.com/noah-isme/gema-chat/internal/handler"
	"github.com/noah-isme/gema-chat/internal/middleware"
	"github.com/noah-isme/gema-chat/internal/models"
	"github.com/noah-isme/gema-chat/internal/observability"
	"github.com/noah-isme/gema-chat/internal/repository"
	"github.com/noah-isme/gema-chat/internal/router"
	"github.com/noah-isme/gema-chat/internal/service"
	"github.com/noah-isme/gema-chat/internal/store"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("chat gateway stopped with error")
	}
	logger.Info().Msg("server stopped")
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("app", cfg.AppName).
		Str("env", cfg.AppEnv).
		Logger()
}

func run(cfg config.Config, logger zerolog.Logger) error {
	backend, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer backend.close()

	observability.RegisterMetrics()

	catalog := service.NewCatalogService(repository.NewRoomRepository(backend.store), service.SystemClock(), logger)
	feed := service.NewFeedService(repository.NewChatRepository(backend.store), cfg.DeleteWindow, logger)
	presence := service.NewPresenceService(repository.NewTypingRepository(backend.store), service.PresenceOptions{
		IdleTimeout: cfg.TypingIdleTimeout,
		StaleAfter:  cfg.TypingStaleAfter,
	}, logger)

	deps := service.SessionDeps{
		Catalog:  catalog,
		Feed:     feed,
		Presence: presence,
		Clock:    service.SystemClock(),
		Logger:   logger,
	}
	sessions := func(viewer models.Identity) *service.ChatSession {
		return service.NewChatSession(deps, viewer)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: logger, JWTSecret: cfg.JWTSecret})
	router.Register(app, cfg, router.Dependencies{
		RoomHandler: handler.NewRoomHandler(catalog, validate, logger),
		ChatHandler: handler.NewChatHandler(sessions, validate, logger),
		StorePinger: backend.ping,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddress()).Str("store", cfg.StoreDriver).Msg("chat gateway listening")
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type backend struct {
	store   store.Store
	ping    handler.StorePinger
	closers []func() error
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i]()
	}
}

func openStore(cfg config.Config, logger zerolog.Logger) (*backend, error) {
	switch cfg.StoreDriver {
	case config.StoreRedis:
		client, err := database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		s, err := store.NewRedisStore(store.RedisOptions{Client: client, Prefix: cfg.RedisPrefix, Logger: logger})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &backend{
			store:   s,
			ping:    func(ctx context.Context) error { return client.Ping(ctx).Err() },
			closers: []func() error{s.Close},
		}, nil

	case config.StorePostgres, config.StoreSQLite:
		var (
			db  *gorm.DB
			err error
		)
		if cfg.StoreDriver == config.StorePostgres {
			db, err = database.ConnectPostgres(cfg.DatabaseURL)
		} else {
			db, err = database.ConnectSQLite(cfg.SQLitePath)
		}
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", cfg.StoreDriver, err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("open %s pool: %w", cfg.StoreDriver, err)
		}

		// SQLStore.Close only releases this pool, so the pool closer covers it.
		b := &backend{
			ping:    sqlDB.PingContext,
			closers: []func() error{sqlDB.Close},
		}

		var notifier store.Notifier
		if cfg.NATSURL != "" {
			conn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
			if err != nil {
				b.close()
				return nil, fmt.Errorf("connect nats: %w", err)
			}
			b.closers = append(b.closers, func() error { conn.Close(); return nil })
			natsNotifier, err := store.NewNATSNotifier(conn, cfg.NATSSubject, logger)
			if err != nil {
				b.close()
				return nil, err
			}
			notifier = natsNotifier
		}

		s, err := store.NewSQLStore(store.SQLOptions{DB: db, Notifier: notifier, Logger: logger})
		if err != nil {
			b.close()
			return nil, err
		}
		b.store = s
		return b, nil

	default:
		s := store.NewMemoryStore(store.MemoryOptions{Logger: logger})
		return &backend{
			store:   s,
			ping:    func(context.Context) error { return nil },
			closers: []func() error{s.Close},
		}, nil
	}
}
