package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/radiusdt/enhanced-attribution/internal/config"
)

// ApplicationName tags row store sessions in pg_stat_activity.
const ApplicationName = "enhanced-attribution"

// PostgresDB is the pool behind the Postgres row store. The pool only reads
// the analytics tables, so every session is opened read-only.
type PostgresDB struct {
	Pool        *pgxpool.Pool
	TablePrefix string
	logger      *zap.Logger
}

// NewPostgresDB connects to the analytics database whose tables carry
// tablePrefix.
func NewPostgresDB(ctx context.Context, cfg config.DatabaseConfig, tablePrefix string, logger *zap.Logger) (*PostgresDB, error) {
	poolConfig, err := rowStorePoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("open row store pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping row store %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.DBName, err)
	}

	logger = logger.With(
		zap.String("rowstore", "postgres"),
		zap.String("database", cfg.DBName),
		zap.String("table_prefix", tablePrefix),
	)
	logger.Info("row store connected",
		zap.String("host", cfg.Host),
		zap.Int32("max_conns", poolConfig.MaxConns),
		zap.Int32("min_conns", poolConfig.MinConns),
	)

	return &PostgresDB{Pool: pool, TablePrefix: tablePrefix, logger: logger}, nil
}

func rowStorePoolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse row store dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 && int32(cfg.MinConns) <= pc.MaxConns {
		pc.MinConns = int32(cfg.MinConns)
	}
	pc.MaxConnLifetime = time.Hour
	pc.MaxConnIdleTime = 30 * time.Minute
	pc.HealthCheckPeriod = time.Minute

	rp := pc.ConnConfig.RuntimeParams
	rp["application_name"] = ApplicationName
	rp["default_transaction_read_only"] = "on"
	return pc, nil
}

// Close closes the pool.
func (db *PostgresDB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("row store pool closed")
	}
}

// Health pings the row store.
func (db *PostgresDB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Stats returns pool statistics for the db gauges.
func (db *PostgresDB) Stats() *pgxpool.Stat {
	return db.Pool.Stat()
}
