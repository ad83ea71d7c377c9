package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet-core/internal/config"
	"github.com/congo-pay/wallet-core/internal/events"
	"github.com/congo-pay/wallet-core/internal/infra"
	"github.com/congo-pay/wallet-core/internal/logging"
	"github.com/congo-pay/wallet-core/internal/notification"
	"github.com/congo-pay/wallet-core/internal/routes"
	"github.com/congo-pay/wallet-core/internal/server"
	"github.com/congo-pay/wallet-core/internal/telemetry"
	"github.com/congo-pay/wallet-core/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.Error("wallet-core stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.AppName, cfg.OTLPEndpoint, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()

	var (
		db    *pgxpool.Pool
		store wallet.Store
	)
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName)
		if err != nil {
			return err
		}
		defer db.Close()
		if cfg.MigrateOnStart {
			if err := infra.Migrate(ctx, db, logger); err != nil {
				return err
			}
		}
		store = wallet.NewPostgresStore(db, cfg.LockTimeout)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store", "app_env", cfg.AppEnv)
		store = wallet.NewMemoryStore()
	}

	cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	if cache != nil {
		defer closeCache(cache, logger)
	} else {
		logger.Info("REDIS_URL not set, Idempotency-Key replay disabled")
	}

	wallets := wallet.NewService(store, logger, wallet.WithDefaults(cfg.DefaultCurrency, cfg.DefaultOwnerType))
	processor := events.NewProcessor(wallets, store, notification.NewLoggerNotifier(logger), logger)

	srv, err := server.New(routes.Deps{
		Cfg:     cfg,
		DB:      db,
		Cache:   cache,
		Logger:  logger,
		Wallets: wallets,
		Events:  processor,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server listening", "addr", cfg.Address())
		errCh <- srv.Listen()
	}()

	if cfg.AMQPURL != "" {
		broker, err := infra.DialAMQP(cfg.AMQPURL)
		if err != nil {
			return err
		}
		defer func() {
			if err := broker.Close(); err != nil {
				logger.Warn("close amqp", "error", err)
			}
		}()
		consumer := events.NewConsumer(broker.Channel, cfg.EventsQueue, processor, logger, events.WithPrefetch(cfg.EventsPrefetch))
		go func() {
			if err := consumer.Run(ctx); err != nil {
				errCh <- fmt.Errorf("event consumer: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func closeCache(cache *redis.Client, logger *slog.Logger) {
	if err := cache.Close(); err != nil {
		logger.Warn("close redis", "error", err)
	}
}
