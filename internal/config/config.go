// Package config defines the immutable configuration for the alert delivery
// pipeline. Configuration is loaded once at process start and never modified;
// components receive only the subsets they require. Values come from the OS
// environment, optionally seeded from a dotenv file. Any invalid value causes
// the process to fail fast at startup.
package config

import (
	"fmt"
	"time"

	"chainalert/internal/types"
)

// SecretString aliases types.SecretString, the redacted secret type used for
// credentials in configuration.
type SecretString = types.SecretString

// Config is the top-level configuration for the alert processor.
type Config struct {
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	IsTestMode bool   `envconfig:"IS_TEST_MODE" default:"false"`

	Pipeline PipelineConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Stream   StreamConfig
	Telegram TelegramConfig
	Discord  DiscordConfig
}

// PipelineConfig holds the driver, retry, rate-limit, dedup, and dead-letter
// tuning knobs. Environment variable names are kept compatible with the
// original deployment.
type PipelineConfig struct {
	CheckInterval  time.Duration `envconfig:"ALERT_CHECK_INTERVAL" default:"1s"`
	BatchSize      int           `envconfig:"ALERT_BATCH_SIZE" default:"10" validate:"min=1"`
	MaxRetries     int           `envconfig:"ALERT_MAX_RETRIES" default:"3" validate:"min=0"`
	RetryBaseDelay time.Duration `envconfig:"ALERT_RETRY_BASE_DELAY" default:"2s"`
	RetryMaxDelay  time.Duration `envconfig:"ALERT_RETRY_MAX_DELAY" default:"60s"`

	TelegramRateLimit int `envconfig:"TELEGRAM_RATE_LIMIT" default:"20" validate:"min=1"`
	DiscordRateLimit  int `envconfig:"DISCORD_RATE_LIMIT" default:"30" validate:"min=1"`
	DefaultRateLimit  int `envconfig:"ALERT_DEFAULT_RATE_LIMIT" default:"30" validate:"min=1"`

	DedupTTL time.Duration `envconfig:"ALERT_DEDUP_TTL" default:"300s"`

	// DLQThreshold is compared against the total attempt count of an
	// exhausted delivery (attempts >= threshold triggers quarantine). Build
	// rejects values above MaxRetries+1: such a threshold could never fire
	// and exhausted envelopes would be silently dropped.
	DLQThreshold int `envconfig:"ALERT_DLQ_THRESHOLD" default:"4" validate:"min=1"`
}

// RateLimitFor returns the per-minute admission limit for a destination.
func (p PipelineConfig) RateLimitFor(destination string) int {
	switch destination {
	case "telegram":
		return p.TelegramRateLimit
	case "discord":
		return p.DiscordRateLimit
	default:
		return p.DefaultRateLimit
	}
}

// RedisConfig holds connection settings for the shared queue store.
type RedisConfig struct {
	Host     string       `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int          `envconfig:"REDIS_PORT" default:"6379"`
	Password SecretString `envconfig:"REDIS_PASSWORD"`
	DB       int          `envconfig:"REDIS_DB" default:"0"`

	DialTimeout time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"10s"`
}

// Addr returns the host:port address for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// DatabaseConfig holds the durable history store connection settings.
type DatabaseConfig struct {
	URL      SecretString  `envconfig:"DATABASE_URL"`
	MaxConns int           `envconfig:"DB_MAX_CONNS" default:"4" validate:"min=1"`
	Timeout  time.Duration `envconfig:"DB_TIMEOUT" default:"5s"`
}

// Enabled reports whether a history database has been configured. History is
// best-effort: an absent DATABASE_URL disables the audit table, not the
// pipeline.
func (d DatabaseConfig) Enabled() bool { return d.URL.Unmask() != "" }

// StreamConfig controls the capped observability stream.
type StreamConfig struct {
	PublishStatus bool   `envconfig:"ALERT_PUBLISH_STATUS" default:"true"`
	Name          string `envconfig:"ALERT_DELIVERY_STREAM" default:"chainalert:alert_delivery"`
	MaxLen        int64  `envconfig:"ALERT_STREAM_MAXLEN" default:"1000" validate:"min=1"`
}

// TelegramConfig holds credentials for the Telegram destination.
type TelegramConfig struct {
	BotToken SecretString  `envconfig:"TELEGRAM_BOT_TOKEN"`
	ChatID   string        `envconfig:"TELEGRAM_CHAT_ID"`
	Timeout  time.Duration `envconfig:"TELEGRAM_TIMEOUT" default:"10s"`
}

// Enabled reports whether the Telegram sender can be constructed.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken.Unmask() != "" && t.ChatID != ""
}

// DiscordConfig holds credentials for the Discord destination.
type DiscordConfig struct {
	WebhookURL SecretString  `envconfig:"DISCORD_WEBHOOK_URL"`
	Timeout    time.Duration `envconfig:"DISCORD_TIMEOUT" default:"10s"`
}

// Enabled reports whether the Discord sender can be constructed.
func (d DiscordConfig) Enabled() bool { return d.WebhookURL.Unmask() != "" }
