// Package app opens the configured stores for the server and the CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radiusdt/enhanced-attribution/internal/attribution"
	"github.com/radiusdt/enhanced-attribution/internal/config"
	"github.com/radiusdt/enhanced-attribution/internal/database"
	"github.com/radiusdt/enhanced-attribution/internal/httpserver"
	"github.com/radiusdt/enhanced-attribution/internal/metrics"
	"github.com/radiusdt/enhanced-attribution/internal/scheduler"
	"github.com/radiusdt/enhanced-attribution/internal/storage"
)

// Backends holds the opened stores and their connections.
type Backends struct {
	Rows    storage.RowStore
	Goals   storage.GoalStore
	Archive storage.RollupStore
	Locker  scheduler.Locker
	Checks  map[string]httpserver.HealthChecker

	postgres   *database.PostgresDB
	clickhouse *database.ClickHouseDB
	redis      *database.RedisDB
	logger     *zap.Logger
	loc        *time.Location
	clock      func() time.Time
}

// Open connects the row store and the rollup store selected in cfg. On
// error every connection opened so far is closed.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backends, error) {
	b := &Backends{
		Checks: make(map[string]httpserver.HealthChecker),
		logger: logger,
		loc:    cfg.Location(),
		clock:  time.Now,
	}
	fail := func(err error) (*Backends, error) {
		b.Close()
		return nil, err
	}
	var err error

	tables := storage.NewTables(cfg.RowStore.TablePrefix)

	switch cfg.RowStore.Backend {
	case config.BackendPostgres:
		b.postgres, err = database.NewPostgresDB(ctx, cfg.Database, cfg.RowStore.TablePrefix, logger)
		if err != nil {
			return fail(err)
		}
		store := storage.NewPostgresEventStore(b.postgres.Pool, tables)
		b.Rows, b.Goals = store, store
		b.Checks["postgres"] = b.postgres

	case config.BackendClickHouse:
		b.clickhouse, err = database.NewClickHouseDB(ctx, cfg.ClickHouse, logger)
		if err != nil {
			return fail(err)
		}
		store := storage.NewClickHouseEventStore(b.clickhouse.DB, tables)
		b.Rows, b.Goals = store, store
		b.Checks["clickhouse"] = b.clickhouse

	case config.BackendMemory:
		logger.Warn("using in-memory row store, reports will be empty")
		store := storage.NewInMemoryEventStore()
		b.Rows, b.Goals = store, store

	default:
		return fail(fmt.Errorf("unknown row store backend %q", cfg.RowStore.Backend))
	}

	switch cfg.Archive.Backend {
	case config.BackendRedis:
		b.redis, err = database.NewRedisDB(ctx, cfg.Redis, logger)
		if err != nil {
			return fail(err)
		}
		b.Archive = storage.NewRedisRollupStore(b.redis.Client, cfg.Archive.KeyPrefix, cfg.Archive.TTL)
		b.Locker = scheduler.NewRedisLocker(b.redis.Client, cfg.Archive.KeyPrefix+":")
		b.Checks["redis"] = b.redis

	case config.BackendMemory:
		logger.Warn("using in-memory rollup store, archives are lost on restart")
		b.Archive = storage.NewInMemoryRollupStore()
		b.Locker = scheduler.NewMemoryLocker()

	default:
		return fail(fmt.Errorf("unknown archive backend %q", cfg.Archive.Backend))
	}

	return b, nil
}

// Now returns the current time in the archive time zone. Relative dates
// such as today resolve against it both when archives are built and when
// they are read.
func (b *Backends) Now() time.Time {
	return b.clock().In(b.loc)
}

// Service returns the report service over the opened stores.
func (b *Backends) Service() *attribution.Service {
	return attribution.NewService(b.Rows, b.Goals, b.Archive).WithClock(b.Now)
}

// Builder returns a rollup builder over the opened stores.
func (b *Backends) Builder() *attribution.Builder {
	return attribution.NewBuilder(b.Rows, b.Archive)
}

// ReportDBStats publishes PostgreSQL pool stats every interval until ctx
// is done. It returns at once for other row stores.
func (b *Backends) ReportDBStats(ctx context.Context, m *metrics.Metrics, interval time.Duration) {
	if b.postgres == nil || m == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := b.postgres.Stats()
			m.UpdateDBStats(int(st.IdleConns()), int(st.AcquiredConns()), int(st.TotalConns()))
		}
	}
}

// Close closes every open connection.
func (b *Backends) Close() {
	if b.postgres != nil {
		b.postgres.Close()
	}
	if b.clickhouse != nil {
		if err := b.clickhouse.Close(); err != nil {
			b.logger.Warn("failed to close ClickHouse", zap.Error(err))
		}
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			b.logger.Warn("failed to close Redis", zap.Error(err))
		}
	}
}
