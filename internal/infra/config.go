package infra

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/teeline/settlement/internal/pipeline"
	"github.com/teeline/settlement/internal/policy"
	"github.com/teeline/settlement/internal/provider"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	StoreDriver   string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL   string `env:"DATABASE_URL"`
	PGHost        string `env:"PGHOST" envDefault:"localhost"`
	PGPort        int    `env:"PGPORT" envDefault:"5435"`
	PGUser        string `env:"PGUSER" envDefault:"teeline"`
	PGPassword    string `env:"PGPASSWORD" envDefault:"teeline"`
	PGDatabase    string `env:"PGDATABASE" envDefault:"settlement"`
	RunMigrations bool   `env:"RUN_MIGRATIONS" envDefault:"true"`

	// Redis
	RedisURL     string `env:"REDIS_URL" envDefault:"redis://localhost:6380"`
	RedisEnabled bool   `env:"REDIS_ENABLED" envDefault:"false"`

	// JWT
	JWTSecret         string `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTOperatorExpiry string `env:"JWT_OPERATOR_EXPIRY" envDefault:"8h"`

	// Server
	APIPort  int    `env:"API_PORT" envDefault:"3100"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Kafka
	KafkaBrokers string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled bool   `env:"KAFKA_ENABLED" envDefault:"false"`

	// Outbox relay
	OutboxTopicPrefix  string        `env:"OUTBOX_TOPIC_PREFIX" envDefault:"teeline"`
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`

	// CORS
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`

	// Live score feed
	FeedBaseURL          string        `env:"FEED_BASE_URL" envDefault:"http://localhost:4010"`
	FeedAPIKey           string        `env:"FEED_API_KEY"`
	FeedRatePerSecond    float64       `env:"FEED_RATE_PER_SECOND" envDefault:"5"`
	FeedBurst            int           `env:"FEED_BURST" envDefault:"5"`
	FeedTimeout          time.Duration `env:"FEED_TIMEOUT" envDefault:"10s"`
	FeedMaxRetries       int           `env:"FEED_MAX_RETRIES" envDefault:"3"`
	FeedRetryWait        time.Duration `env:"FEED_RETRY_WAIT" envDefault:"500ms"`
	FeedBreakerThreshold int           `env:"FEED_BREAKER_THRESHOLD" envDefault:"5"`
	FeedBreakerCooldown  time.Duration `env:"FEED_BREAKER_COOLDOWN" envDefault:"1m"`

	// Pipeline
	PipelineAutoStart           bool          `env:"PIPELINE_AUTO_START" envDefault:"true"`
	PipelineMinCompletionPct    float64       `env:"PIPELINE_MIN_COMPLETION_PCT" envDefault:"0.8"`
	PipelineLookback            time.Duration `env:"PIPELINE_LOOKBACK" envDefault:"48h"`
	PipelineInterval            time.Duration `env:"PIPELINE_INTERVAL" envDefault:"5m"`
	PipelineMaxConcurrentRounds int           `env:"PIPELINE_MAX_CONCURRENT_ROUNDS" envDefault:"4"`
	PipelineRoundTimeout        time.Duration `env:"PIPELINE_ROUND_TIMEOUT" envDefault:"2m"`
	PipelineRunTimeout          time.Duration `env:"PIPELINE_RUN_TIMEOUT" envDefault:"10m"`
	PipelinePushPolicy          string        `env:"PIPELINE_PUSH_POLICY" envDefault:"reduce_legs"`

	// Manual trigger throttling per operator
	ManualTriggerLimit  int           `env:"MANUAL_TRIGGER_LIMIT" envDefault:"10"`
	ManualTriggerWindow time.Duration `env:"MANUAL_TRIGGER_WINDOW" envDefault:"1m"`
}

// LoadConfig loads .env when present, then parses environment variables into a Config.
// Variables already set in the environment win over .env entries.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for insecure or unusable configuration.
// Set ALLOW_INSECURE_DEFAULTS=true to bypass the secret checks (local dev only).
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StorePostgres, StoreMemory, c.StoreDriver)
	}
	if _, err := time.ParseDuration(c.JWTOperatorExpiry); err != nil {
		return fmt.Errorf("JWT_OPERATOR_EXPIRY: %w", err)
	}
	if err := c.PipelineConfig().Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if c.AllowInsecureDefaults {
		return nil
	}
	if c.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
	}
	return nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}

// OperatorTokenExpiry returns the parsed JWT expiry. Call Validate first.
func (c *Config) OperatorTokenExpiry() time.Duration {
	d, _ := time.ParseDuration(c.JWTOperatorExpiry)
	return d
}

// PipelineConfig returns the orchestrator tunables.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		MinCompletionPct:    c.PipelineMinCompletionPct,
		Lookback:            c.PipelineLookback,
		Interval:            c.PipelineInterval,
		MaxConcurrentRounds: c.PipelineMaxConcurrentRounds,
		RoundTimeout:        c.PipelineRoundTimeout,
		RunTimeout:          c.PipelineRunTimeout,
		PushPolicy:          policy.PushPolicy(c.PipelinePushPolicy),
	}
}

// LiveScoreConfig returns the feed client settings.
func (c *Config) LiveScoreConfig() provider.LiveScoreConfig {
	return provider.LiveScoreConfig{
		BaseURL:       c.FeedBaseURL,
		APIKey:        c.FeedAPIKey,
		RatePerSecond: c.FeedRatePerSecond,
		Burst:         c.FeedBurst,
		Timeout:       c.FeedTimeout,
		MaxRetries:    c.FeedMaxRetries,
		RetryWait:     c.FeedRetryWait,
	}
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
