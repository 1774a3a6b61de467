package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the collection engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8470"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// SourcesFile is the YAML registry of sources, schemas and extraction profiles.
	SourcesFile string `yaml:"sources_file" env:"SOURCES_FILE" env-default:"sources.yaml"`

	// MigrationsPath is the directory holding SQL migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	Auth           AuthConfig           `yaml:"auth"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	BlobStore      BlobStoreConfig      `yaml:"blob_store"`
	Extraction     ExtractionConfig     `yaml:"extraction"`
	Ingestion      IngestionConfig      `yaml:"ingestion"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Events         EventsConfig         `yaml:"events"`
	Pull           PullConfig           `yaml:"pull"`
}

// AuthConfig holds producer authentication settings.
type AuthConfig struct {
	// Enabled controls whether ingest endpoints require a bearer token.
	Enabled bool `yaml:"enabled" env:"AUTH_ENABLED" env-default:"false"`

	// JWKSURL, when set, verifies RS256 tokens against the published key set.
	JWKSURL string `yaml:"jwks_url" env:"AUTH_JWKS_URL" env-default:""`

	// Issuer, when set, must match the token's iss claim.
	Issuer string `yaml:"issuer" env:"AUTH_ISSUER" env-default:""`

	// SharedSecret verifies HS256 tokens when no JWKS URL is configured.
	SharedSecret string `yaml:"-" env:"AUTH_SHARED_SECRET"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"farmerpower"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"collection"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis connection settings used by the event publisher.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// BlobStore modes.
const (
	BlobModeGCS    = "gcs"
	BlobModeLocal  = "local"
	BlobModeMemory = "memory"
)

// BlobStoreConfig selects the immutable raw-payload store.
type BlobStoreConfig struct {
	Mode         string `yaml:"mode" env:"BLOB_MODE" env-default:"local"`
	Bucket       string `yaml:"bucket" env:"BLOB_BUCKET" env-default:""`
	LocalDir     string `yaml:"local_dir" env:"BLOB_LOCAL_DIR" env-default:"data/raw"`
	EmulatorHost string `yaml:"emulator_host" env:"STORAGE_EMULATOR_HOST" env-default:""`
}

// Extraction providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderNone      = "none"
)

// ExtractionConfig configures the semantic extraction capability.
type ExtractionConfig struct {
	Provider    string        `yaml:"provider" env:"EXTRACTION_PROVIDER" env-default:"none"`
	Endpoint    string        `yaml:"endpoint" env:"EXTRACTION_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model       string        `yaml:"model" env:"EXTRACTION_MODEL" env-default:""`
	APIKey      string        `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Timeout     time.Duration `yaml:"timeout" env:"EXTRACTION_TIMEOUT" env-default:"20s"`
	Temperature float64       `yaml:"temperature" env:"EXTRACTION_TEMPERATURE" env-default:"0"`
	MaxTokens   int           `yaml:"max_tokens" env:"EXTRACTION_MAX_TOKENS" env-default:"1024"`

	// Circuit breaker: after BreakerThreshold consecutive failures the
	// extractor short-circuits to the fallback result for BreakerReset.
	BreakerThreshold int           `yaml:"breaker_threshold" env:"EXTRACTION_BREAKER_THRESHOLD" env-default:"5"`
	BreakerReset     time.Duration `yaml:"breaker_reset" env:"EXTRACTION_BREAKER_RESET" env-default:"30s"`
}

// IngestionConfig holds write-path and read-path limits.
type IngestionConfig struct {
	MaxPayloadBytes   int64         `yaml:"max_payload_bytes" env:"INGEST_MAX_PAYLOAD_BYTES" env-default:"1048576"`
	IndexRetries      int           `yaml:"index_retries" env:"INGEST_INDEX_RETRIES" env-default:"3"`
	IndexRetryDelay   time.Duration `yaml:"index_retry_delay" env:"INGEST_INDEX_RETRY_DELAY" env-default:"100ms"`
	IndexRetryMaxWait time.Duration `yaml:"index_retry_max_wait" env:"INGEST_INDEX_RETRY_MAX_WAIT" env-default:"2s"`
	DefaultPageSize   int           `yaml:"default_page_size" env:"INGEST_DEFAULT_PAGE_SIZE" env-default:"20"`
	MaxPageSize       int           `yaml:"max_page_size" env:"INGEST_MAX_PAGE_SIZE" env-default:"100"`
	// IdempotencyLease is how long an unfinished key claim blocks retries
	// before a retry may take it over.
	IdempotencyLease time.Duration `yaml:"idempotency_lease" env:"INGEST_IDEMPOTENCY_LEASE" env-default:"5m"`
}

// ReconciliationConfig controls the background index repair loop.
type ReconciliationConfig struct {
	Interval  time.Duration `yaml:"interval" env:"RECONCILE_INTERVAL" env-default:"30s"`
	BatchSize int           `yaml:"batch_size" env:"RECONCILE_BATCH_SIZE" env-default:"50"`
}

// Event publisher modes.
const (
	EventsModeRedis = "redis"
	EventsModeLog   = "log"
)

// EventsConfig configures "document stored" event delivery.
type EventsConfig struct {
	Mode   string `yaml:"mode" env:"EVENTS_MODE" env-default:"log"`
	Stream string `yaml:"stream" env:"EVENTS_STREAM" env-default:"collection:document-stored"`
	MaxLen int64  `yaml:"max_len" env:"EVENTS_MAX_LEN" env-default:"100000"`
}

// PullConfig configures the scheduler that polls pull-mode sources.
type PullConfig struct {
	Enabled           bool          `yaml:"enabled" env:"PULL_ENABLED" env-default:"false"`
	Tick              time.Duration `yaml:"tick" env:"PULL_TICK" env-default:"30s"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"PULL_RPS" env-default:"2"`
	MaxAttempts       int           `yaml:"max_attempts" env:"PULL_MAX_ATTEMPTS" env-default:"3"`
	RequestTimeout    time.Duration `yaml:"request_timeout" env:"PULL_REQUEST_TIMEOUT" env-default:"30s"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// A missing config.yaml is not an error; env vars and defaults apply.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.ResolveDockerHosts()

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// Validate checks cross-field requirements that struct tags cannot express.
func (c *Config) Validate() error {
	switch c.BlobStore.Mode {
	case BlobModeGCS:
		if c.BlobStore.Bucket == "" {
			return fmt.Errorf("blob_store.bucket is required when mode is %q", BlobModeGCS)
		}
	case BlobModeLocal:
		if c.BlobStore.LocalDir == "" {
			return fmt.Errorf("blob_store.local_dir is required when mode is %q", BlobModeLocal)
		}
	case BlobModeMemory:
	default:
		return fmt.Errorf("unknown blob_store.mode %q", c.BlobStore.Mode)
	}

	switch c.Extraction.Provider {
	case ProviderOpenAI, ProviderAnthropic:
		if c.Extraction.Model == "" {
			return fmt.Errorf("extraction.model is required for provider %q", c.Extraction.Provider)
		}
	case ProviderNone:
	default:
		return fmt.Errorf("unknown extraction.provider %q", c.Extraction.Provider)
	}
	if c.Extraction.Timeout <= 0 {
		return fmt.Errorf("extraction.timeout must be positive")
	}

	switch c.Events.Mode {
	case EventsModeRedis:
		if c.Redis.Host == "" {
			return fmt.Errorf("redis.host is required when events.mode is %q", EventsModeRedis)
		}
	case EventsModeLog:
	default:
		return fmt.Errorf("unknown events.mode %q", c.Events.Mode)
	}

	if c.Ingestion.DefaultPageSize <= 0 || c.Ingestion.MaxPageSize < c.Ingestion.DefaultPageSize {
		return fmt.Errorf("ingestion page sizes must satisfy 0 < default_page_size <= max_page_size")
	}
	if c.Ingestion.IndexRetries < 0 {
		return fmt.Errorf("ingestion.index_retries must not be negative")
	}
	if c.Pull.Enabled && c.Pull.MaxAttempts < 1 {
		return fmt.Errorf("pull.max_attempts must be at least 1")
	}

	if c.Auth.Enabled && c.Auth.JWKSURL == "" && c.Auth.SharedSecret == "" {
		return fmt.Errorf("auth is enabled but neither auth.jwks_url nor AUTH_SHARED_SECRET is set")
	}

	return nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist and be readable.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	// Both must be provided together or both empty
	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the database connection string in URL form, as required by
// golang-migrate.
func (c *DatabaseConfig) URL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}
