package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chainalert/internal/config"
	"chainalert/internal/types"
)

// DiscordSenderConfig holds the settings for constructing a DiscordSender.
type DiscordSenderConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

// DiscordSender delivers alerts through a Discord webhook.
type DiscordSender struct {
	cfg    DiscordSenderConfig
	poster *httpPoster
	logger types.Logger
}

// NewDiscordSender constructs the Discord destination sender.
func NewDiscordSender(dc config.DiscordConfig, logger types.Logger) *DiscordSender {
	return NewDiscordSenderWithConfig(DiscordSenderConfig{
		WebhookURL: dc.WebhookURL.Unmask(),
		Timeout:    dc.Timeout,
	}, logger)
}

// NewDiscordSenderWithConfig constructs a sender from explicit settings,
// used by tests to point at an httptest server.
func NewDiscordSenderWithConfig(cfg DiscordSenderConfig, logger types.Logger) *DiscordSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &DiscordSender{
		cfg:    cfg,
		poster: newHTTPPoster("discord", cfg.Timeout),
		logger: logger.With("sender", "discord"),
	}
}

// Name returns the destination name.
func (s *DiscordSender) Name() string { return "discord" }

// Send posts the rendered alert to the webhook. Discord replies 204 on
// success.
func (s *DiscordSender) Send(ctx context.Context, env types.AlertEnvelope) (bool, error) {
	payload, err := json.Marshal(map[string]string{
		"content": renderText(env),
	})
	if err != nil {
		return false, fmt.Errorf("discord: marshal payload: %w", err)
	}

	status, body, err := s.poster.postJSON(ctx, s.cfg.WebhookURL, payload)
	if err != nil {
		if status > 0 {
			s.logger.Warn("discord rejected alert", "status", status, "body", body)
			return false, nil
		}
		return false, fmt.Errorf("discord: %w", err)
	}
	return true, nil
}

var _ Sender = (*DiscordSender)(nil)
