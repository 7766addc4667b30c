package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the attribution service and its
// operator CLI.
type Config struct {
	Server     ServerConfig
	RowStore   RowStoreConfig
	Database   DatabaseConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
	Archive    ArchiveConfig
	Scheduler  SchedulerConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

// Row store backends.
const (
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
	BackendRedis      = "redis"
	BackendMemory     = "memory"
)

// RowStoreConfig selects where raw conversion and visit logs are read from.
type RowStoreConfig struct {
	Backend     string
	TablePrefix string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// ClickHouseConfig configures the columnar row store.
type ClickHouseConfig struct {
	Addrs        []string
	Database     string
	User         string
	Password     string
	DialTimeout  time.Duration
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ArchiveConfig selects the rollup store.
type ArchiveConfig struct {
	Backend   string
	KeyPrefix string
	// TTL of archived records; 0 keeps them until rebuilt.
	TTL time.Duration
}

// SchedulerConfig drives periodic archive builds.
type SchedulerConfig struct {
	Cron     string
	Sites    []int64
	Periods  []string
	Segments []string
	LockTTL  time.Duration
	Timezone string
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// Load reads configuration from environment variables with sensible
// defaults. A .env file in the working directory is applied first; real
// environment variables take precedence over it.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOffline is Load for tools that do not serve the HTTP API; API key
// auth is switched off before validation.
func LoadOffline() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	cfg.Auth.Enabled = false
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("ATTRIBUTION_HTTP_ADDR", ":8080"),
			Env:             getEnv("ATTRIBUTION_ENV", "development"),
			ShutdownTimeout: getDurationEnv("ATTRIBUTION_SHUTDOWN_TIMEOUT", 30*time.Second),
			RequestTimeout:  getDurationEnv("ATTRIBUTION_REQUEST_TIMEOUT", 60*time.Second),
		},
		RowStore: RowStoreConfig{
			Backend:     getEnv("ATTRIBUTION_ROWSTORE", BackendPostgres),
			TablePrefix: getEnv("ATTRIBUTION_TABLE_PREFIX", "matomo_"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("ATTRIBUTION_DB_HOST", "localhost"),
			Port:     getIntEnv("ATTRIBUTION_DB_PORT", 5432),
			User:     getEnv("ATTRIBUTION_DB_USER", "matomo"),
			Password: getEnv("ATTRIBUTION_DB_PASSWORD", "matomo_secret"),
			DBName:   getEnv("ATTRIBUTION_DB_NAME", "matomo"),
			SSLMode:  getEnv("ATTRIBUTION_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("ATTRIBUTION_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("ATTRIBUTION_DB_MIN_CONNS", 5),
		},
		ClickHouse: ClickHouseConfig{
			Addrs:        getSliceEnv("ATTRIBUTION_CLICKHOUSE_ADDRS", []string{"localhost:9000"}),
			Database:     getEnv("ATTRIBUTION_CLICKHOUSE_DB", "matomo"),
			User:         getEnv("ATTRIBUTION_CLICKHOUSE_USER", "default"),
			Password:     getEnv("ATTRIBUTION_CLICKHOUSE_PASSWORD", ""),
			DialTimeout:  getDurationEnv("ATTRIBUTION_CLICKHOUSE_DIAL_TIMEOUT", 5*time.Second),
			MaxOpenConns: getIntEnv("ATTRIBUTION_CLICKHOUSE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getIntEnv("ATTRIBUTION_CLICKHOUSE_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("ATTRIBUTION_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("ATTRIBUTION_REDIS_PASSWORD", ""),
			DB:       getIntEnv("ATTRIBUTION_REDIS_DB", 0),
		},
		Archive: ArchiveConfig{
			Backend:   getEnv("ATTRIBUTION_ARCHIVE", BackendRedis),
			KeyPrefix: getEnv("ATTRIBUTION_ARCHIVE_PREFIX", "archive"),
			TTL:       getDurationEnv("ATTRIBUTION_ARCHIVE_TTL", 0),
		},
		Scheduler: SchedulerConfig{
			Cron:     getEnv("ATTRIBUTION_SCHEDULER_CRON", "@every 1h"),
			Sites:    getInt64SliceEnv("ATTRIBUTION_SCHEDULER_SITES", []int64{1}),
			Periods:  getSliceEnv("ATTRIBUTION_SCHEDULER_PERIODS", []string{"day", "week", "month"}),
			Segments: getSliceEnv("ATTRIBUTION_SCHEDULER_SEGMENTS", nil),
			LockTTL:  getDurationEnv("ATTRIBUTION_SCHEDULER_LOCK_TTL", 30*time.Minute),
			Timezone: getEnv("ATTRIBUTION_SCHEDULER_TZ", "UTC"),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("ATTRIBUTION_AUTH_ENABLED", true),
			MasterKey: getEnv("ATTRIBUTION_API_KEY_MASTER", ""),
			SkipPaths: getSliceEnv("ATTRIBUTION_AUTH_SKIP_PATHS", []string{"/health", "/metrics"}),
		},
		RateLimit: RateLimitConfig{
			Enabled: getBoolEnv("ATTRIBUTION_RATE_LIMIT_ENABLED", true),
			RPS:     getFloatEnv("ATTRIBUTION_RATE_LIMIT_RPS", 50),
			Burst:   getIntEnv("ATTRIBUTION_RATE_LIMIT_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("ATTRIBUTION_LOG_LEVEL", "info"),
			Format: getEnv("ATTRIBUTION_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("ATTRIBUTION_METRICS_ENABLED", true),
			Path:    getEnv("ATTRIBUTION_METRICS_PATH", "/metrics"),
		},
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	switch c.RowStore.Backend {
	case BackendPostgres, BackendClickHouse, BackendMemory:
	default:
		return fmt.Errorf("ATTRIBUTION_ROWSTORE must be one of postgres, clickhouse, memory; got %q", c.RowStore.Backend)
	}
	switch c.Archive.Backend {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("ATTRIBUTION_ARCHIVE must be one of redis, memory; got %q", c.Archive.Backend)
	}
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("ATTRIBUTION_API_KEY_MASTER is required when auth is enabled")
	}
	if strings.TrimSpace(c.Scheduler.Cron) == "" {
		return fmt.Errorf("ATTRIBUTION_SCHEDULER_CRON must not be empty")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("ATTRIBUTION_SCHEDULER_TZ: %w", err)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Location returns the scheduler time zone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}

// getInt64SliceEnv reads a comma separated id list. Unparsable entries
// make the whole variable fall back to def.
func getInt64SliceEnv(key string, def []int64) []int64 {
	parts := getSliceEnv(key, nil)
	if parts == nil {
		return def
	}
	result := make([]int64, 0, len(parts))
	for _, p := range parts {
		i, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return def
		}
		result = append(result, i)
	}
	return result
}
