package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		// Get tags
		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		// Apply default if not set
		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		// Set the field value
		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			// Split comma-separated values, trim whitespace
			parts := strings.Split(value, ",")
			result := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					result = append(result, p)
				}
			}
			field.Set(reflect.ValueOf(result))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	switch c.Database.Backend {
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, "DATABASE_URL is required for the postgres backend")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.Database.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Sprintf("DATABASE_BACKEND (%q) must be one of: postgres, memory", c.Database.Backend))
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Pipeline validation
	if c.Pipeline.Workers <= 0 {
		errs = append(errs, "PIPELINE_WORKERS must be positive")
	}
	if c.Pipeline.RowConcurrency <= 0 {
		errs = append(errs, "PIPELINE_ROW_CONCURRENCY must be positive")
	}
	if c.Pipeline.QueueSize <= 0 {
		errs = append(errs, "PIPELINE_QUEUE_SIZE must be positive")
	}
	if c.Pipeline.MaxAttempts <= 0 {
		errs = append(errs, "PIPELINE_MAX_ATTEMPTS must be positive")
	}
	if c.Pipeline.BaseBackoff <= 0 || c.Pipeline.MaxBackoff < c.Pipeline.BaseBackoff {
		errs = append(errs, "PIPELINE_BASE_BACKOFF must be positive and not exceed PIPELINE_MAX_BACKOFF")
	}
	if c.Pipeline.StepTimeout <= 0 {
		errs = append(errs, "PIPELINE_STEP_TIMEOUT must be positive")
	}
	if c.Pipeline.MaxFileSize <= 0 {
		errs = append(errs, "PIPELINE_MAX_FILE_SIZE must be positive")
	}
	if len(c.Pipeline.CanonicalCurrency) != 3 {
		errs = append(errs, fmt.Sprintf("PIPELINE_CANONICAL_CURRENCY (%q) must be an ISO 4217 code", c.Pipeline.CanonicalCurrency))
	}

	// Queue validation
	switch c.Queue.Backend {
	case BackendLocal:
	case BackendAsynq:
		if c.Queue.RedisAddr == "" {
			errs = append(errs, "REDIS_ADDR is required for the asynq queue backend")
		}
		if c.Queue.LockTTL <= 0 {
			errs = append(errs, "QUEUE_LOCK_TTL must be positive")
		}
		if c.Database.Backend == BackendMemory {
			errs = append(errs, "QUEUE_BACKEND=asynq needs a shared database; DATABASE_BACKEND=memory is process-local")
		}
	default:
		errs = append(errs, fmt.Sprintf("QUEUE_BACKEND (%q) must be one of: local, asynq", c.Queue.Backend))
	}

	// Storage validation
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.Dir == "" {
			errs = append(errs, "STORAGE_DIR is required for the local storage backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			errs = append(errs, "GCS_BUCKET is required for the gcs storage backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORAGE_BACKEND (%q) must be one of: local, gcs", c.Storage.Backend))
	}

	// Notify validation
	switch c.Notify.Backend {
	case BackendLog:
	case BackendRedis:
		if c.Notify.Channel == "" {
			errs = append(errs, "NOTIFY_CHANNEL is required for the redis notify backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("NOTIFY_BACKEND (%q) must be one of: log, redis", c.Notify.Backend))
	}

	// Sweep validation
	if c.Sweep.Schedule == "" {
		errs = append(errs, "SWEEP_SCHEDULE must not be empty")
	}
	if c.Sweep.StaleAfter <= 0 {
		errs = append(errs, "SWEEP_STALE_AFTER must be positive")
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.UploadLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_UPLOAD must be positive when rate limiting is enabled")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}
	if c.Logging.File != "" && c.Logging.FileMaxSizeMB <= 0 {
		errs = append(errs, "LOG_FILE_MAX_SIZE_MB must be positive when LOG_FILE is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs, passwords and keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {Backend: %q, URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.Backend, c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Pipeline: {Workers: %d, RowConcurrency: %d, MaxAttempts: %d, MaxFileSize: %d, Currency: %q}, ",
		c.Pipeline.Workers, c.Pipeline.RowConcurrency, c.Pipeline.MaxAttempts, c.Pipeline.MaxFileSize, c.Pipeline.CanonicalCurrency)
	fmt.Fprintf(&b, "Queue: {Backend: %q, RedisAddr: %q, RedisPassword: [MASKED], Name: %q}, ",
		c.Queue.Backend, c.Queue.RedisAddr, c.Queue.Name)
	fmt.Fprintf(&b, "Storage: {Backend: %q, Dir: %q, GCSBucket: %q}, ",
		c.Storage.Backend, c.Storage.Dir, c.Storage.GCSBucket)
	fmt.Fprintf(&b, "Notify: {Backend: %q}, ", c.Notify.Backend)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Security: {RequireAPIKey: %v, APIKeys: %d configured}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q, File: %q}",
		c.Logging.Level, c.Logging.Format, c.Logging.File)
	b.WriteString("}")
	return b.String()
}
