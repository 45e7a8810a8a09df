// Package config loads orderdesk runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"

	ObjectStoreSupabase = "supabase"
	ObjectStoreGCS      = "gcs"
	ObjectStoreMemory   = "memory"
)

// Config is the process configuration.
type Config struct {
	Env       string `env:"ORDERDESK_ENV,default=development"`
	HTTPAddr  string `env:"HTTP_ADDR,default=:8080"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	StoreBackend string `env:"STORE_BACKEND,default=postgres"`
	DatabaseURL  string `env:"DATABASE_URL"`

	SupabaseURL        string `env:"SUPABASE_URL"`
	SupabaseServiceKey string `env:"SUPABASE_SERVICE_KEY"`
	SupabaseJWTSecret  string `env:"SUPABASE_JWT_SECRET"`

	ObjectStore    string        `env:"OBJECT_STORE,default=supabase"`
	UploadBucket   string        `env:"UPLOAD_BUCKET,default=Plagdocs"`
	ReportBucket   string        `env:"REPORT_BUCKET,default=Plagreports"`
	GCSBucket      string        `env:"GCS_BUCKET"`
	GCSCredentials string        `env:"GCS_CREDENTIALS_FILE"`
	SignedURLTTL   time.Duration `env:"SIGNED_URL_TTL,default=15m"`
	MaxUploadBytes int64         `env:"MAX_UPLOAD_BYTES,default=26214400"`

	PricingFile      string `env:"PRICING_FILE"`
	PageEstimatorURL string `env:"PAGE_ESTIMATOR_URL"`
	PageEstimatorKey string `env:"PAGE_ESTIMATOR_KEY"`

	RedisURL        string        `env:"REDIS_URL"`
	SweepSchedule   string        `env:"SWEEP_SCHEDULE,default=@every 5m"`
	SweepStaleAfter time.Duration `env:"SWEEP_STALE_AFTER,default=15m"`

	PubSubProjectID string `env:"PUBSUB_PROJECT_ID"`
	PubSubTopic     string `env:"PUBSUB_TOPIC,default=order-events"`
	RealtimeBridge  bool   `env:"REALTIME_BRIDGE,default=false"`

	RateLimitRPS   int    `env:"RATE_LIMIT_RPS,default=10"`
	RateLimitBurst int    `env:"RATE_LIMIT_BURST,default=20"`
	CORSOrigins    string `env:"CORS_ORIGINS,default=*"`
}

// Load reads an optional .env file and decodes the environment.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills defaults envdecode leaves unset when no variable matched at all.
func (c *Config) applyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.StoreBackend == "" {
		c.StoreBackend = BackendPostgres
	}
	if c.ObjectStore == "" {
		c.ObjectStore = ObjectStoreSupabase
	}
	if c.UploadBucket == "" {
		c.UploadBucket = "Plagdocs"
	}
	if c.ReportBucket == "" {
		c.ReportBucket = "Plagreports"
	}
	if c.SignedURLTTL == 0 {
		c.SignedURLTTL = 15 * time.Minute
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = 25 << 20
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = "@every 5m"
	}
	if c.SweepStaleAfter == 0 {
		c.SweepStaleAfter = 15 * time.Minute
	}
	if c.PubSubTopic == "" {
		c.PubSubTopic = "order-events"
	}
	if c.RateLimitRPS == 0 {
		c.RateLimitRPS = 10
	}
	if c.RateLimitBurst == 0 {
		c.RateLimitBurst = 20
	}
	if c.CORSOrigins == "" {
		c.CORSOrigins = "*"
	}
}

// Validate checks backend-specific requirements.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.ObjectStore {
	case ObjectStoreSupabase:
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required for the supabase object store")
		}
	case ObjectStoreGCS:
		if c.GCSBucket == "" {
			return fmt.Errorf("GCS_BUCKET is required for the gcs object store")
		}
	case ObjectStoreMemory:
	default:
		return fmt.Errorf("unknown OBJECT_STORE %q", c.ObjectStore)
	}

	if c.RealtimeBridge && (c.SupabaseURL == "" || c.SupabaseServiceKey == "") {
		return fmt.Errorf("REALTIME_BRIDGE requires SUPABASE_URL and SUPABASE_SERVICE_KEY")
	}
	if c.SweepStaleAfter < time.Minute {
		return fmt.Errorf("SWEEP_STALE_AFTER must be at least 1m")
	}
	return nil
}

// RequireJWTSecret fails when the API cannot verify identity tokens.
func (c *Config) RequireJWTSecret() error {
	if c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required to serve the API")
	}
	return nil
}

// Origins returns the configured CORS origins.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// IsProduction reports whether the process runs in production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}
