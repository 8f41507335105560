package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

type Config struct {
	Port     string `env:"PORT, default=8080"`
	Env      string `env:"ENV, default=development"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	Store    StoreConfig
	Ledger   LedgerConfig
	Batch    BatchConfig
	Mongo    MongoConfig
	Postgres PostgresConfig
	Redis    RedisConfig
}

type StoreConfig struct {
	Backend string `env:"STORE_BACKEND, default=memory"`
	WALPath string `env:"WAL_PATH, default=data/ledger.wal"`
}

type LedgerConfig struct {
	MaxAttempts    int           `env:"LEDGER_MAX_ATTEMPTS, default=3"`
	RetryBaseDelay time.Duration `env:"LEDGER_RETRY_BASE_DELAY, default=5ms"`
	RetryMaxDelay  time.Duration `env:"LEDGER_RETRY_MAX_DELAY, default=100ms"`
}

type BatchConfig struct {
	Workers int `env:"BATCH_WORKERS, default=8"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB, default=loyalty"`
}

type PostgresConfig struct {
	DSN string `env:"POSTGRES_DSN"`
}

// RedisConfig is optional: an empty Addr disables the idempotency cache.
type RedisConfig struct {
	Addr           string        `env:"REDIS_ADDR"`
	Password       string        `env:"REDIS_PASSWORD"`
	DB             int           `env:"REDIS_DB, default=0"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL, default=24h"`
}

// Load reads configuration from environment variables using go-envconfig.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case BackendMemory, BackendMongo:
	case BackendFile:
		if c.Store.WALPath == "" {
			errs = append(errs, errors.New("WAL_PATH is required for the file backend"))
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend))
	}

	if c.Ledger.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("LEDGER_MAX_ATTEMPTS must be at least 1, got %d", c.Ledger.MaxAttempts))
	}
	if c.Ledger.RetryBaseDelay <= 0 {
		errs = append(errs, errors.New("LEDGER_RETRY_BASE_DELAY must be positive"))
	}
	if c.Ledger.RetryMaxDelay < c.Ledger.RetryBaseDelay {
		errs = append(errs, errors.New("LEDGER_RETRY_MAX_DELAY must not be below LEDGER_RETRY_BASE_DELAY"))
	}
	if c.Batch.Workers < 1 {
		errs = append(errs, fmt.Errorf("BATCH_WORKERS must be at least 1, got %d", c.Batch.Workers))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// IsDevelopment reports whether the service runs with developer-friendly output.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// RedisEnabled reports whether an idempotency cache is configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}
