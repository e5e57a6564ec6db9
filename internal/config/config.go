package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	RetrievalModePipeline = "pipeline"
	RetrievalModeBackend  = "backend"

	SessionBackendPostgres = "postgres"
	SessionBackendSQLite   = "sqlite"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"1"`

	OpenAIAPIKey        string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string        `envconfig:"OPENAI_BASE_URL"`
	ChatModel           string        `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`
	EmbeddingModel      string        `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions int           `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	Temperature         float32       `envconfig:"TEMPERATURE" default:"0.2"`
	RequestTimeout      time.Duration `envconfig:"REQUEST_TIMEOUT" default:"45s"`

	RetrievalMode string `envconfig:"RETRIEVAL_MODE" default:"pipeline"`

	ProfilePath         string        `envconfig:"PROFILE_PATH"`
	ProfileS3Key        string        `envconfig:"PROFILE_S3_KEY"`
	ProfilePollInterval time.Duration `envconfig:"PROFILE_POLL_INTERVAL" default:"1m"`

	S3Endpoint     string `envconfig:"S3_ENDPOINT"`
	S3AccessKey    string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey    string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket       string `envconfig:"S3_BUCKET" default:"supportdesk-config"`
	S3Region       string `envconfig:"S3_REGION" default:"us-east-1"`
	S3UsePathStyle bool   `envconfig:"S3_USE_PATH_STYLE" default:"true"`

	SessionBackend string `envconfig:"SESSION_BACKEND" default:"postgres"`
	SQLitePath     string `envconfig:"SQLITE_PATH" default:"supportdesk-sessions.db"`

	RateLimitRPS     float64 `envconfig:"RATE_LIMIT_RPS" default:"5"`
	RateLimitBurst   int     `envconfig:"RATE_LIMIT_BURST" default:"10"`
	RateLimitClients int     `envconfig:"RATE_LIMIT_CLIENTS" default:"10000"`

	AdminToken string `envconfig:"ADMIN_TOKEN"`
	SentryDSN  string `envconfig:"SENTRY_DSN"`

	RenormalizeInterval time.Duration `envconfig:"RENORMALIZE_INTERVAL" default:"5m"`
	RenormalizeBatch    int           `envconfig:"RENORMALIZE_BATCH" default:"200"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("SUPPORTDESK", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate checks enumerated settings that envconfig cannot express.
func (c *Config) Validate() error {
	switch c.RetrievalMode {
	case RetrievalModePipeline, RetrievalModeBackend:
	default:
		return fmt.Errorf("invalid RETRIEVAL_MODE %q: expected %q or %q", c.RetrievalMode, RetrievalModePipeline, RetrievalModeBackend)
	}
	switch c.SessionBackend {
	case SessionBackendPostgres, SessionBackendSQLite:
	default:
		return fmt.Errorf("invalid SESSION_BACKEND %q: expected %q or %q", c.SessionBackend, SessionBackendPostgres, SessionBackendSQLite)
	}
	if c.ProfilePath != "" && c.ProfileS3Key != "" {
		return fmt.Errorf("PROFILE_PATH and PROFILE_S3_KEY are mutually exclusive")
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be positive")
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Bucket != "" && (c.S3Endpoint != "" || c.S3AccessKey != "")
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasAdmin() bool {
	return c.AdminToken != ""
}
