package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	AppMode        string `env:"APP_MODE" envDefault:"dev"`
	Port           string `env:"PORT" envDefault:"3000"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`
	PolicyFile     string `env:"POLICY_FILE"`
	RateLimit      int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"100"`

	// Database and JWT are read with the DEV_ or PROD_ prefix.
	Database DatabaseConfig
	JWT      JWTConfig
	Cookie   CookieConfig

	Policy    PolicyConfig
	Scheduler SchedulerConfig
	Outbox    OutboxConfig
	Payment   PaymentConfig
	SMS       SMSConfig
	SMTP      SMTPConfig
	Redis     RedisConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string `env:"DB_DRIVER" envDefault:"mysql"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"3306"`
	User     string `env:"DB_USER" envDefault:"root"`
	Password string `env:"DB_PASS"`
	DBName   string `env:"DB_NAME" envDefault:"chama"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	// Path is the sqlite file (or :memory:) when Driver is sqlite.
	Path string `env:"DB_PATH" envDefault:"chama.db"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret           string `env:"JWT_SECRET" envDefault:"default_secret"`
	RefreshSecret    string `env:"JWT_REFRESH_SECRET" envDefault:"default_refresh_secret"`
	AccessTokenMins  int    `env:"ACCESS_TOKEN_MINUTES" envDefault:"15"`
	RefreshTokenDays int    `env:"REFRESH_TOKEN_DAYS" envDefault:"7"`
}

// AccessTTL is the access token lifetime.
func (j JWTConfig) AccessTTL() time.Duration {
	return time.Duration(j.AccessTokenMins) * time.Minute
}

// RefreshTTL is the refresh token lifetime.
func (j JWTConfig) RefreshTTL() time.Duration {
	return time.Duration(j.RefreshTokenDays) * 24 * time.Hour
}

// CookieConfig holds auth cookie settings
type CookieConfig struct {
	Secure   bool   `env:"COOKIE_SECURE" envDefault:"false"`
	SameSite string `env:"COOKIE_SAMESITE" envDefault:"Lax"`
	Domain   string `env:"COOKIE_DOMAIN"`
}

// SchedulerConfig holds cron expressions for the periodic checks
type SchedulerConfig struct {
	Enabled         bool   `env:"SCHEDULER_ENABLED" envDefault:"true"`
	LatePenaltyCron string `env:"CRON_LATE_PENALTY" envDefault:"*/15 * * * *"`
	OverdueCron     string `env:"CRON_OVERDUE" envDefault:"0 * * * *"`
	RemindersCron   string `env:"CRON_REMINDERS" envDefault:"0 8 * * *"`
	OutboxCron      string `env:"CRON_OUTBOX_SWEEP" envDefault:"* * * * *"`
	TokenCleanup    string `env:"CRON_TOKEN_CLEANUP" envDefault:"30 3 * * *"`
}

// OutboxConfig controls collaborator delivery retries
type OutboxConfig struct {
	MaxAttempts  int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"8"`
	BaseBackoff  time.Duration `env:"OUTBOX_BASE_BACKOFF" envDefault:"5s"`
	MaxBackoff   time.Duration `env:"OUTBOX_MAX_BACKOFF" envDefault:"30m"`
	BatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"50"`
	PollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"10s"`
	StaleAfter   time.Duration `env:"OUTBOX_STALE_AFTER" envDefault:"5m"`
}

// PaymentConfig selects and configures the payment collaborator
type PaymentConfig struct {
	Provider       string        `env:"PAYMENT_PROVIDER" envDefault:"sandbox"`
	BaseURL        string        `env:"MPESA_BASE_URL" envDefault:"https://sandbox.safaricom.co.ke"`
	ConsumerKey    string        `env:"MPESA_CONSUMER_KEY"`
	ConsumerSecret string        `env:"MPESA_CONSUMER_SECRET"`
	ShortCode      string        `env:"MPESA_SHORTCODE"`
	InitiatorName  string        `env:"MPESA_INITIATOR_NAME"`
	Credential     string        `env:"MPESA_SECURITY_CREDENTIAL"`
	ResultURL      string        `env:"MPESA_RESULT_URL"`
	TimeoutURL     string        `env:"MPESA_TIMEOUT_URL"`
	Timeout        time.Duration `env:"PAYMENT_TIMEOUT" envDefault:"15s"`
	CallbackToken  string        `env:"PAYMENT_CALLBACK_TOKEN"`
	// SandboxOutcome is the status the sandbox reports: CONFIRMED or PENDING.
	SandboxOutcome string `env:"SANDBOX_OUTCOME" envDefault:"CONFIRMED"`
}

// SMSConfig configures the SMS gateway channel. Empty URL disables it.
type SMSConfig struct {
	GatewayURL string        `env:"SMS_GATEWAY_URL"`
	APIKey     string        `env:"SMS_API_KEY"`
	SenderID   string        `env:"SMS_SENDER_ID" envDefault:"CHAMA"`
	Timeout    time.Duration `env:"SMS_TIMEOUT" envDefault:"10s"`
}

// SMTPConfig configures the email channel. Empty host disables it.
type SMTPConfig struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT" envDefault:"587"`
	User     string `env:"SMTP_USER"`
	Password string `env:"SMTP_PASS"`
	From     string `env:"SMTP_FROM" envDefault:"Chama <no-reply@chama.local>"`
}

// RedisConfig configures the idempotency store. Empty Addr selects the
// in-memory store.
type RedisConfig struct {
	Addr           string        `env:"REDIS_ADDR"`
	Password       string        `env:"REDIS_PASSWORD"`
	DB             int           `env:"REDIS_DB" envDefault:"0"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
}

// Global config instance
var AppConfig *Config

// Load reads configuration from .env file and environment variables
func Load() (*Config, error) {
	// Load .env file (ignore error if file doesn't exist in production)
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}
	return Parse()
}

// Parse builds the configuration from the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.AppMode = strings.TrimSpace(cfg.AppMode)
	if cfg.AppMode != "dev" && cfg.AppMode != "prod" {
		return nil, fmt.Errorf("invalid APP_MODE: '%s' (must be 'dev' or 'prod')", cfg.AppMode)
	}

	prefix := "DEV_"
	if cfg.IsProd() {
		prefix = "PROD_"
	}
	cfg.Database = DatabaseConfig{}
	cfg.JWT = JWTConfig{}
	opts := env.Options{Prefix: prefix}
	if err := env.ParseWithOptions(&cfg.Database, opts); err != nil {
		return nil, fmt.Errorf("parse %sDB_*: %w", prefix, err)
	}
	if err := env.ParseWithOptions(&cfg.JWT, opts); err != nil {
		return nil, fmt.Errorf("parse %sJWT_*: %w", prefix, err)
	}

	if cfg.PolicyFile != "" {
		if err := cfg.Policy.MergeFile(cfg.PolicyFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}

	AppConfig = cfg
	return cfg, nil
}

// IsDev returns true if running in development mode
func (c *Config) IsDev() bool {
	return c.AppMode == "dev"
}

// IsProd returns true if running in production mode
func (c *Config) IsProd() bool {
	return c.AppMode == "prod"
}

// GetAllowedOrigins returns allowed origins for CORS
func (c *Config) GetAllowedOrigins() string {
	if c.AllowedOrigins == "" {
		if c.IsDev() {
			return "*"
		}
		return "https://chama.local"
	}
	return c.AllowedOrigins
}
