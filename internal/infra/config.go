package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	PGHost      string `env:"PGHOST" envDefault:"localhost"`
	PGPort      int    `env:"PGPORT" envDefault:"5432"`
	PGUser      string `env:"PGUSER" envDefault:"sportsbook"`
	PGPassword  string `env:"PGPASSWORD" envDefault:"sportsbook"`
	PGDatabase  string `env:"PGDATABASE" envDefault:"sportsbook"`
	PGMaxConns  int32  `env:"PG_MAX_CONNS" envDefault:"20"`

	// Redis (asynq task queue)
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// JWT
	JWTSecret       string `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTPlayerExpiry string `env:"JWT_PLAYER_EXPIRY" envDefault:"24h"`
	JWTAdminExpiry  string `env:"JWT_ADMIN_EXPIRY" envDefault:"8h"`

	// Server ports
	APIPort     int `env:"API_PORT" envDefault:"3100"`
	MetricsPort int `env:"METRICS_PORT" envDefault:"9100"`

	// Kafka
	KafkaBrokers     string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled     bool   `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaTopicPrefix string `env:"KAFKA_TOPIC_PREFIX" envDefault:"sportsbook"`

	// Outbox relay
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`

	// CORS
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`

	// Payments
	StripeSecretKey      string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret  string `env:"STRIPE_WEBHOOK_SECRET"`
	StripeReturnURL      string `env:"STRIPE_RETURN_URL" envDefault:"http://localhost:3000/payment/return?session_id={CHECKOUT_SESSION_ID}"`
	PaymentBypassEnabled bool   `env:"PAYMENT_BYPASS_ENABLED" envDefault:"false"`
	CheckoutRateLimit    int    `env:"CHECKOUT_RATE_LIMIT" envDefault:"10"`

	// Betting limits in chips; zero disables a bound.
	BetMinStake float64 `env:"BET_MIN_STAKE" envDefault:"1"`
	BetMaxStake float64 `env:"BET_MAX_STAKE" envDefault:"1000"`

	// Odds feed
	OddsAPIKey       string   `env:"ODDS_API_KEY"`
	OddsAPIBaseURL   string   `env:"ODDS_API_BASE_URL" envDefault:"https://api.the-odds-api.com"`
	OddsAPISports    []string `env:"ODDS_API_SPORTS" envSeparator:"," envDefault:"soccer_epl"`
	OddsSyncSchedule string   `env:"ODDS_SYNC_SCHEDULE" envDefault:"@every 10m"`

	// Worker
	WorkerConcurrency int `env:"WORKER_CONCURRENCY" envDefault:"5"`
}

// LoadConfig reads an optional .env file and parses environment variables
// into a Config struct. Variables already set in the environment win.
func LoadConfig() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for insecure configuration that must not run in production.
// Set ALLOW_INSECURE_DEFAULTS=true to bypass (local dev only).
func (c *Config) Validate() error {
	if c.CheckoutRateLimit <= 0 {
		return fmt.Errorf("CHECKOUT_RATE_LIMIT must be positive, got %d", c.CheckoutRateLimit)
	}
	if c.BetMinStake < 0 || c.BetMaxStake < 0 || (c.BetMaxStake > 0 && c.BetMinStake > c.BetMaxStake) {
		return fmt.Errorf("BET_MIN_STAKE %v and BET_MAX_STAKE %v are not a valid range", c.BetMinStake, c.BetMaxStake)
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.WorkerConcurrency)
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
	if c.PaymentBypassEnabled {
		return fmt.Errorf("PAYMENT_BYPASS_ENABLED requires ALLOW_INSECURE_DEFAULTS=true")
	}
	if c.StripeSecretKey != "" && c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
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

// KafkaBrokerList splits KAFKA_BROKERS into addresses.
func (c *Config) KafkaBrokerList() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
