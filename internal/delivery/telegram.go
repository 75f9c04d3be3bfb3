package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chainalert/internal/config"
	"chainalert/internal/types"
)

// telegramAPIBase is overridable in tests via TelegramSenderConfig.BaseURL.
const telegramAPIBase = "https://api.telegram.org"

// TelegramSenderConfig holds the settings for constructing a TelegramSender.
type TelegramSenderConfig struct {
	BotToken string
	ChatID   string
	BaseURL  string
	Timeout  time.Duration
}

// TelegramSender delivers alerts through the Telegram Bot API sendMessage
// endpoint.
type TelegramSender struct {
	cfg    TelegramSenderConfig
	poster *httpPoster
	logger types.Logger
}

// NewTelegramSender constructs the Telegram destination sender.
func NewTelegramSender(tc config.TelegramConfig, logger types.Logger) *TelegramSender {
	return NewTelegramSenderWithConfig(TelegramSenderConfig{
		BotToken: tc.BotToken.Unmask(),
		ChatID:   tc.ChatID,
		Timeout:  tc.Timeout,
	}, logger)
}

// NewTelegramSenderWithConfig constructs a sender from explicit settings,
// used by tests to point at an httptest server.
func NewTelegramSenderWithConfig(cfg TelegramSenderConfig, logger types.Logger) *TelegramSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = telegramAPIBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &TelegramSender{
		cfg:    cfg,
		poster: newHTTPPoster("telegram", cfg.Timeout),
		logger: logger.With("sender", "telegram"),
	}
}

// Name returns the destination name.
func (s *TelegramSender) Name() string { return "telegram" }

// Send posts the rendered alert to the configured chat. A non-2xx response is
// an explicit delivery failure; transport errors are returned as-is.
func (s *TelegramSender) Send(ctx context.Context, env types.AlertEnvelope) (bool, error) {
	payload, err := json.Marshal(map[string]string{
		"chat_id": s.cfg.ChatID,
		"text":    renderText(env),
	})
	if err != nil {
		return false, fmt.Errorf("telegram: marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.cfg.BaseURL, s.cfg.BotToken)
	status, body, err := s.poster.postJSON(ctx, url, payload)
	if err != nil {
		if status > 0 {
			s.logger.Warn("telegram rejected alert", "status", status, "body", body)
			return false, nil
		}
		return false, fmt.Errorf("telegram: %w", err)
	}
	return true, nil
}

var _ Sender = (*TelegramSender)(nil)
