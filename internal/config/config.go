package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

const envPrefix = "safeback"

// Config holds the application configuration.
type Config struct {
	ServerPort   int    `envconfig:"PORT" default:"8080"`
	DatabasePath string `split_words:"true" default:"./safeback.db"`

	// JWTSecret verifies bearer tokens presented by the admin UI.
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
	// MaintenanceSecret authenticates the scheduler trigger and scheduler-path captures.
	// Leaving it empty disables those entry points.
	MaintenanceSecret string `split_words:"true"`

	AllowedOrigins []string `split_words:"true" default:"http://localhost:3000"`

	// StorageBackend selects where externalized snapshot payloads live: "local" or "s3".
	StorageBackend string `split_words:"true" default:"local"`
	BackupPath     string `split_words:"true" default:"./snapshots"`
	S3Bucket       string `envconfig:"S3_BUCKET"`
	S3Region       string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Prefix       string `envconfig:"S3_PREFIX" default:"safeback/"`
	S3Endpoint     string `envconfig:"S3_ENDPOINT"`
	S3AccessKey    string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey    string `envconfig:"S3_SECRET_KEY"`

	// LockBackend selects the workspace advisory lock: "sql", "redis" or "memory".
	LockBackend string        `split_words:"true" default:"sql"`
	LockMaxHold time.Duration `split_words:"true" default:"30m"`
	RedisURL    string        `envconfig:"REDIS_URL" default:"redis://127.0.0.1:6379/0"`

	ConfirmationTTL    time.Duration `split_words:"true" default:"600s"`
	DefaultRetainCount int           `split_words:"true" default:"7"`

	SchedulerEnabled     bool          `split_words:"true" default:"true"`
	SchedulerInterval    time.Duration `split_words:"true" default:"1m"`
	SchedulerConcurrency int           `split_words:"true" default:"4"`

	LogLevel string `split_words:"true" default:"info"`
	LogJSON  bool   `envconfig:"LOG_JSON"`
	LogFile  string `split_words:"true"`
}

// Load loads configuration from environment variables (and an optional .env file).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		_ = envconfig.Usage(envPrefix, &cfg)
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("SAFEBACK_JWT_SECRET must not be empty")
	}

	switch c.StorageBackend {
	case "local":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("SAFEBACK_S3_BUCKET is required when storage backend is s3")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}

	switch c.LockBackend {
	case "sql", "redis", "memory":
	default:
		return fmt.Errorf("unknown lock backend %q", c.LockBackend)
	}

	if c.DefaultRetainCount < 1 {
		return fmt.Errorf("default retain count must be at least 1, got %d", c.DefaultRetainCount)
	}
	if c.ConfirmationTTL <= 0 {
		return fmt.Errorf("confirmation TTL must be positive")
	}
	if c.SchedulerConcurrency < 1 {
		c.SchedulerConcurrency = 1
	}
	return nil
}
