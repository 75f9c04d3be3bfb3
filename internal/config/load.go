package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Load builds the Config from the process environment, optionally seeded from
// a .env file (missing file is not an error). It validates struct tags and
// cross-field invariants and returns an error on the first violation.
func Load(dotenvPath string) (*Config, error) {
	if dotenvPath != "" {
		// Best-effort: local development convenience only.
		_ = godotenv.Load(dotenvPath)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: process environment: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate applies struct-tag validation plus the cross-field invariants the
// tags cannot express.
func validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("config: invalid value: %w", err)
	}

	p := cfg.Pipeline
	if p.RetryBaseDelay <= 0 {
		return fmt.Errorf("config: ALERT_RETRY_BASE_DELAY must be positive, got %s", p.RetryBaseDelay)
	}
	if p.RetryMaxDelay < p.RetryBaseDelay {
		return fmt.Errorf("config: ALERT_RETRY_MAX_DELAY %s is below ALERT_RETRY_BASE_DELAY %s",
			p.RetryMaxDelay, p.RetryBaseDelay)
	}
	if p.CheckInterval <= 0 {
		return fmt.Errorf("config: ALERT_CHECK_INTERVAL must be positive, got %s", p.CheckInterval)
	}
	if p.DedupTTL <= 0 {
		return fmt.Errorf("config: ALERT_DEDUP_TTL must be positive, got %s", p.DedupTTL)
	}

	// A threshold above MaxRetries+1 can never be reached by an exhausted
	// attempt sequence, which would silently drop envelopes instead of
	// quarantining them. Reject the configuration outright.
	if p.DLQThreshold > p.MaxRetries+1 {
		return fmt.Errorf(
			"config: ALERT_DLQ_THRESHOLD %d exceeds ALERT_MAX_RETRIES+1 (%d); exhausted alerts would never be dead-lettered",
			p.DLQThreshold, p.MaxRetries+1)
	}

	return nil
}
