// @title        Loyalty Points Ledger API
// @version      1.0
// @description  Users, balances and point transfers with optimistic concurrency.
// @BasePath     /api/v1
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/loyalty/points-ledger/internal/api"
	"github.com/loyalty/points-ledger/internal/api/handler"
	"github.com/loyalty/points-ledger/internal/core/ports"
	"github.com/loyalty/points-ledger/internal/core/service"
	"github.com/loyalty/points-ledger/internal/infrastructure/config"
	"github.com/loyalty/points-ledger/internal/infrastructure/db/memory"
	mongostore "github.com/loyalty/points-ledger/internal/infrastructure/db/mongo"
	"github.com/loyalty/points-ledger/internal/infrastructure/db/postgres"
	redisstore "github.com/loyalty/points-ledger/internal/infrastructure/db/redis"
	"github.com/loyalty/points-ledger/internal/infrastructure/queue"
	"github.com/loyalty/points-ledger/pkg/logger"
	"github.com/loyalty/points-ledger/pkg/wal"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "points-ledger: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.IsDevelopment(),
		Service: "points-ledger",
		Env:     cfg.Env,
	})

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	checks := map[string]handler.Pinger{"store": store}

	var idem ports.IdempotencyStore
	if cfg.RedisEnabled() {
		rdb, err := redisstore.Connect(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()

		cache := redisstore.NewIdempotencyStore(rdb, cfg.Redis.IdempotencyTTL)
		idem = cache
		checks["redis"] = cache
		log.Info().Str("addr", cfg.Redis.Addr).Msg("idempotency cache enabled")
	}

	ledger := service.NewLedgerService(store, idem, service.RetryPolicy{
		MaxAttempts: cfg.Ledger.MaxAttempts,
		BaseDelay:   cfg.Ledger.RetryBaseDelay,
		MaxDelay:    cfg.Ledger.RetryMaxDelay,
	}, log.With().Str("component", "ledger").Logger())

	// Workers outlive the signal context so queued transfers can drain.
	dispatcher := queue.NewDispatcher(cfg.Batch.Workers, ledger, log)
	dispatcher.Start(context.Background())

	e := api.NewRouter(api.Deps{
		Ledger: ledger,
		Queue:  dispatcher,
		Checks: checks,
		Log:    log,
	})

	srvErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("store", cfg.Store.Backend).Msg("http server listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-srvErr:
		if err != nil {
			dispatcher.Stop()
			dispatcher.Wait()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("batch queue not fully drained")
	}

	log.Info().Msg("stopped")
	return nil
}

// openStore builds the configured LedgerStore and a func releasing its resources.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (ports.LedgerStore, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return memory.NewStore(), func() {}, nil

	case config.BackendFile:
		if dir := filepath.Dir(cfg.Store.WALPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create wal dir: %w", err)
			}
		}
		w, err := wal.Open(cfg.Store.WALPath, wal.WithLogger(log.With().Str("component", "wal").Logger()))
		if err != nil {
			return nil, nil, err
		}
		store, err := memory.NewDurableStore(w)
		if err != nil {
			_ = w.Close()
			return nil, nil, fmt.Errorf("recover from wal: %w", err)
		}
		log.Info().Str("path", cfg.Store.WALPath).Msg("ledger recovered from wal")
		return store, func() { _ = store.Close() }, nil

	case config.BackendMongo:
		client, db, err := mongostore.Connect(ctx, mongostore.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
		if err != nil {
			return nil, nil, err
		}
		repo := mongostore.NewUserRepository(db)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		return repo, func() { _ = client.Disconnect(context.Background()) }, nil

	case config.BackendPostgres:
		db, err := postgres.Open(ctx, postgres.Config{DSN: cfg.Postgres.DSN})
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.RunMigrations(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return postgres.NewUserRepository(db), func() { _ = db.Close() }, nil
	}

	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}
