// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New() builds a Config with defaults; Load layers file and env on top.
// - Validation errors wrap ErrInvalidConfig, loading errors wrap ErrLoadConfig.
package config

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Storage backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoder: json or console.
	LogFormat string `koanf:"log_format"`

	// LogFile, when set, also writes logs to a rotated file.
	LogFile string `koanf:"log_file"`

	// Addr configures the HTTP listen address, e.g. ":8000".
	Addr string `koanf:"addr"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// Store selects the storage backend: memory or postgres.
	Store string `koanf:"store"`

	// DatabaseURL is the postgres connection string, required when Store is postgres.
	DatabaseURL string `koanf:"database_url"`

	// DBMaxConns caps the pgx pool size.
	DBMaxConns int32 `koanf:"db_max_conns"`

	// MigrateOnStart applies embedded schema migrations at boot.
	MigrateOnStart bool `koanf:"migrate_on_start"`

	// MaxBatchSize caps the number of events accepted per POST /logs/batch.
	MaxBatchSize int `koanf:"max_batch_size"`

	// DefaultRankingLimit is used when GET /ranking has no limit.
	DefaultRankingLimit int `koanf:"default_ranking_limit"`

	// MaxRankingLimit caps GET /ranking?limit.
	MaxRankingLimit int `koanf:"max_ranking_limit"`

	// DedupeSize sets the size of the batch-retry dedupe window. Zero disables it.
	DedupeSize int `koanf:"dedupe_size"`

	// BcryptCost is the work factor for password hashes.
	BcryptCost int `koanf:"bcrypt_cost"`

	// AllowedOrigins feeds the CORS middleware.
	AllowedOrigins []string `koanf:"allowed_origins"`

	// RankingRatePerSecond and RankingBurst limit POST /ranking per client IP. Zero disables.
	RankingRatePerSecond float64 `koanf:"ranking_rate_per_second"`
	RankingBurst         int     `koanf:"ranking_burst"`

	// TrustProxyHeaders takes client addresses from X-Forwarded-For and
	// X-Real-IP. Leave it off unless a proxy in front of the server sets them.
	TrustProxyHeaders bool `koanf:"trust_proxy_headers"`

	// TracingEndpoint is an OTLP/HTTP collector host:port. Empty disables tracing.
	TracingEndpoint string `koanf:"tracing_endpoint"`

	// ServiceName and Environment tag traces.
	ServiceName string `koanf:"service_name"`
	Environment string `koanf:"environment"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "json",
		Addr:                 ":8000",
		ShutdownTimeout:      10 * time.Second,
		Store:                StoreMemory,
		DBMaxConns:           10,
		MigrateOnStart:       true,
		MaxBatchSize:         1000,
		DefaultRankingLimit:  10,
		MaxRankingLimit:      100,
		DedupeSize:           100_000,
		BcryptCost:           bcrypt.DefaultCost,
		AllowedOrigins:       []string{"*"},
		RankingRatePerSecond: 5,
		RankingBurst:         10,
		ServiceName:          "parry",
		Environment:          "development",
	}
}
