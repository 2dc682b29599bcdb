package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nexus-link/durable/fallback"
	"github.com/nexus-link/durable/lock"
	"github.com/nexus-link/durable/store"
	"github.com/nexus-link/durable/store/mongo"
	"github.com/nexus-link/durable/store/postgres"
	"github.com/nexus-link/durable/store/redis"
)

// Backend bundles the stores an engine runs on.
type Backend struct {
	Store  store.Store
	Blobs  fallback.BlobStore
	Locker lock.Locker

	migrators []migrator
	closers   []func(context.Context) error
}

type migrator interface {
	Migrate(ctx context.Context) error
}

// Opener connects a Backend from configuration.
type Opener func(ctx context.Context, cfg *Config, logger *slog.Logger) (*Backend, error)

// NewBackend wraps ready stores. Migrate runs the store migrations and, if
// blobs has its own, those too.
func NewBackend(s store.Store, blobs fallback.BlobStore, locker lock.Locker) *Backend {
	b := &Backend{Store: s, Blobs: blobs, Locker: locker}
	b.migrators = append(b.migrators, s)
	if m, ok := blobs.(migrator); ok {
		b.migrators = append(b.migrators, m)
	}
	return b
}

// Migrate brings every backing schema up to date.
func (b *Backend) Migrate(ctx context.Context) error {
	for _, m := range b.migrators {
		if err := m.Migrate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases every connection opened for the backend.
func (b *Backend) Close(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i](ctx))
	}
	return errors.Join(errs...)
}

// OpenBackend connects Postgres as the primary store. Redis replaces the
// Postgres lock when configured, and MongoDB holds fallback summaries when
// configured.
func OpenBackend(ctx context.Context, cfg *Config, logger *slog.Logger) (*Backend, error) {
	if cfg.Postgres.DSN == "" {
		return nil, errors.New("postgres.dsn is required")
	}
	pg, err := postgres.New(ctx, cfg.Postgres.DSN, postgres.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	var (
		locker  lock.Locker = pg
		blobs   fallback.BlobStore
		closers = []func(context.Context) error{func(context.Context) error { return pg.Close() }}
	)

	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = pg.Close()
			return nil, fmt.Errorf("redis: ping: %w", err)
		}
		locker = redis.NewLocker(client, redis.WithLogger(logger))
		closers = append(closers, func(context.Context) error { return client.Close() })
	}

	if cfg.Mongo.URI != "" {
		ms, disconnect, err := mongo.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database, mongo.WithLogger(logger))
		if err != nil {
			for _, c := range closers {
				_ = c(ctx)
			}
			return nil, err
		}
		blobs = ms
		closers = append(closers, disconnect)
	} else {
		logger.Warn("no summary store configured, progress is lost while postgres is unavailable")
	}

	b := NewBackend(pg, blobs, locker)
	b.closers = closers
	return b, nil
}
