package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"pulpit"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"pulpit"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	ExtractionURL string `envconfig:"EXTRACTION_URL" default:"http://extraction:8000"`
	NSQLookupd    string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost      string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP      string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	PipelinesPath string `envconfig:"PIPELINES_PATH" default:"configs/pipelines.yaml"`
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY"`

	// Lock policy. Expiry is evaluated at read time (see features/lock);
	// LockStrict disables the in-memory fallback when the durable store
	// is unreachable.
	LockTimeoutMinutes int  `envconfig:"LOCK_TIMEOUT_MINUTES" default:"120"`
	LockStrict         bool `envconfig:"LOCK_STRICT" default:"false"`

	// Processing policy.
	MaxAttempts             int `envconfig:"MAX_ATTEMPTS" default:"3"`
	MinBoundaryMinutes      int `envconfig:"MIN_BOUNDARY_MINUTES" default:"20"`
	ChunkWindow             int `envconfig:"CHUNK_WINDOW" default:"500"`
	ChunkOverlap            int `envconfig:"CHUNK_OVERLAP" default:"100"`
	ItemDelaySeconds        int `envconfig:"ITEM_DELAY_SECONDS" default:"2"`
	RateLimitBackoffSeconds int `envconfig:"RATE_LIMIT_BACKOFF_SECONDS" default:"30"`
	RetryBackoffSeconds     int `envconfig:"RETRY_BACKOFF_SECONDS" default:"5"`

	// Scan policy.
	ScanMaxPages       int `envconfig:"SCAN_MAX_PAGES" default:"10"`
	PageTimeoutSeconds int `envconfig:"PAGE_TIMEOUT_SECONDS" default:"20"`

	// Maintenance policy.
	OrphanAgeMinutes int `envconfig:"ORPHAN_AGE_MINUTES" default:"120"`

	// Server
	ServerPort int `envconfig:"SERVER_PORT" default:"8081"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root.
	// Ignore errors, as env vars might be set in the shell.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: MAX_ATTEMPTS must be at least 1", ErrMissingRequired)
	}
	if c.ChunkWindow > 0 && c.ChunkOverlap >= c.ChunkWindow {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be smaller than CHUNK_WINDOW", ErrMissingRequired)
	}
	return nil
}
