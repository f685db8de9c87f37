// Package app opens the backends selected by configuration. Both binaries
// share it; with the postgres store the CLI works on the service's data.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"qms/branch-queue/internal/config"
	"qms/branch-queue/internal/queue"
	"qms/branch-queue/internal/sequence"
	"qms/branch-queue/internal/store"
	"qms/branch-queue/internal/store/memory"
	"qms/branch-queue/internal/store/postgres"
	"qms/branch-queue/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Backend struct {
	Store     store.DocStore
	Sequencer queue.Sequencer
	closers   []func()
}

// Close releases the backends in reverse opening order.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backend, error) {
	b := &Backend{}
	var pool *pgxpool.Pool

	switch cfg.StoreDriver {
	case config.StoreMemory:
		b.Store = memory.New()
	case config.StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DB_DSN is required for the postgres store")
		}
		var err error
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		if err := postgres.Migrate(ctx, pool, migrations.FS); err != nil {
			b.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		pg := postgres.NewStore(pool, postgres.Options{Logger: logger})
		b.closers = append(b.closers, pg.Close)
		b.Store = pg
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	switch cfg.Numbering {
	case config.NumberingLatest:
		b.Sequencer = queue.NewLatestSequencer(b.Store)
	case config.NumberingPostgres:
		if pool == nil {
			b.Close()
			return nil, fmt.Errorf("TICKET_NUMBERING=postgres needs STORE_DRIVER=postgres")
		}
		seq := postgres.NewSequencer(pool)
		if err := queue.SeedFromTickets(ctx, b.Store, seq); err != nil {
			b.Close()
			return nil, fmt.Errorf("seed sequence: %w", err)
		}
		b.Sequencer = seq
	case config.NumberingRedis:
		client, err := sequence.NewRedisClient(ctx, sequence.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = client.Close() })
		seq := sequence.NewRedis(client, "")
		if err := queue.SeedFromTickets(ctx, b.Store, seq); err != nil {
			b.Close()
			return nil, fmt.Errorf("seed sequence: %w", err)
		}
		b.Sequencer = seq
	default:
		b.Close()
		return nil, fmt.Errorf("unknown TICKET_NUMBERING %q", cfg.Numbering)
	}

	logger.Info("backend ready", "store", cfg.StoreDriver, "numbering", cfg.Numbering)
	return b, nil
}
