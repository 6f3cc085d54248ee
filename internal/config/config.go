// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Backend names.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendAsynq    = "asynq"
	BackendGCS      = "gcs"
	BackendLog      = "log"
	BackendRedis    = "redis"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Pipeline PipelineConfig
	Queue    QueueConfig
	Storage  StorageConfig
	Notify   NotifyConfig
	Sweep    SweepConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Backend is postgres or memory (default: postgres)
	Backend string `env:"DATABASE_BACKEND" default:"postgres"`

	// URL is the PostgreSQL connection string, required for the postgres backend.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// Migrate applies the schema on startup (default: true)
	Migrate bool `env:"DB_MIGRATE" default:"true"`
}

// PipelineConfig holds batch processing settings.
type PipelineConfig struct {
	// Workers is the number of batches processed concurrently (default: 8)
	Workers int `env:"PIPELINE_WORKERS" default:"8"`

	// RowConcurrency is the number of rows of one batch validated concurrently (default: 8)
	RowConcurrency int `env:"PIPELINE_ROW_CONCURRENCY" default:"8"`

	// QueueSize is the capacity of the in-process dispatch queue (default: 256)
	QueueSize int `env:"PIPELINE_QUEUE_SIZE" default:"256"`

	// MaxAttempts bounds retries of a step on infrastructure errors (default: 5)
	MaxAttempts int `env:"PIPELINE_MAX_ATTEMPTS" default:"5"`

	// BaseBackoff is the first retry delay, doubled per attempt (default: 1s)
	BaseBackoff time.Duration `env:"PIPELINE_BASE_BACKOFF" default:"1s"`

	// MaxBackoff caps the retry delay (default: 1m)
	MaxBackoff time.Duration `env:"PIPELINE_MAX_BACKOFF" default:"1m"`

	// StepTimeout bounds one attempt of one step (default: 5m)
	StepTimeout time.Duration `env:"PIPELINE_STEP_TIMEOUT" default:"5m"`

	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"PIPELINE_MAX_FILE_SIZE" envAlt:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`

	// CanonicalCurrency is the currency of committed amounts (default: EUR)
	CanonicalCurrency string `env:"PIPELINE_CANONICAL_CURRENCY" default:"EUR"`
}

// QueueConfig holds dispatch settings.
type QueueConfig struct {
	// Backend is local (in-process) or asynq (default: local)
	Backend string `env:"QUEUE_BACKEND" default:"local"`

	// RedisAddr is the Redis address for asynq, locks and notifications (default: localhost:6379)
	RedisAddr string `env:"REDIS_ADDR" envAlt:"REDIS_ADDRESS" default:"localhost:6379"`

	// RedisPassword is the Redis password
	RedisPassword string `env:"REDIS_PASSWORD"`

	// RedisDB is the Redis database number (default: 0)
	RedisDB int `env:"REDIS_DB" default:"0"`

	// Name is the asynq queue name (default: ingest)
	Name string `env:"QUEUE_NAME" default:"ingest"`

	// MaxRetry is how often asynq retries a locked or crashed batch task (default: 10)
	MaxRetry int `env:"QUEUE_MAX_RETRY" default:"10"`

	// LockTTL is the lifetime of a batch lock, refreshed while the batch runs (default: 2m)
	LockTTL time.Duration `env:"QUEUE_LOCK_TTL" default:"2m"`
}

// StorageConfig holds blob storage settings.
type StorageConfig struct {
	// Backend is local or gcs (default: local)
	Backend string `env:"STORAGE_BACKEND" default:"local"`

	// Dir is the upload directory of the local backend (default: ./uploads)
	Dir string `env:"STORAGE_DIR" default:"./uploads"`

	// GCSBucket is the bucket of the gcs backend
	GCSBucket string `env:"GCS_BUCKET"`

	// GCSCredentialsJSON overrides application default credentials
	GCSCredentialsJSON string `env:"GCS_CREDENTIALS_JSON"`
}

// NotifyConfig holds batch event delivery settings.
type NotifyConfig struct {
	// Backend is log or redis (default: log)
	Backend string `env:"NOTIFY_BACKEND" default:"log"`

	// Channel is the Redis channel events are published on (default: salesingest:batches)
	Channel string `env:"NOTIFY_CHANNEL" default:"salesingest:batches"`
}

// SweepConfig holds stale batch sweeper settings.
type SweepConfig struct {
	// Schedule is the cron spec of the sweeper (default: @every 1m)
	Schedule string `env:"SWEEP_SCHEDULE" default:"@every 1m"`

	// StaleAfter is how long a batch may stay pending or staged (default: 15m)
	StaleAfter time.Duration `env:"SWEEP_STALE_AFTER" default:"15m"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for upload endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables API key authentication (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`

	// File also writes logs to a rotated file when set
	File string `env:"LOG_FILE"`

	// FileMaxSizeMB is the size at which the log file is rotated (default: 100)
	FileMaxSizeMB int `env:"LOG_FILE_MAX_SIZE_MB" default:"100"`

	// FileMaxBackups is the number of rotated files kept (default: 5)
	FileMaxBackups int `env:"LOG_FILE_MAX_BACKUPS" default:"5"`

	// FileMaxAgeDays is how long rotated files are kept (default: 28)
	FileMaxAgeDays int `env:"LOG_FILE_MAX_AGE_DAYS" default:"28"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
