package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainalert/internal/types"
)

func TestRenderText(t *testing.T) {
	env := types.AlertEnvelope{
		AlertType:   "honeypot",
		Title:       "Honeypot detected",
		Severity:    types.SeverityCritical,
		Chain:       "bsc",
		Address:     "0xdeadbeef",
		Description: "Token cannot be sold after purchase.",
	}
	text := renderText(env)

	assert.Contains(t, text, "Honeypot detected")
	assert.Contains(t, text, "Type: honeypot")
	assert.Contains(t, text, "Chain: bsc")
	assert.Contains(t, text, "Address: 0xdeadbeef")
	assert.Contains(t, text, "Token cannot be sold after purchase.")
}

func TestRenderText_PlainTextAlert(t *testing.T) {
	env := types.ParseEnvelope("disk almost full on node-3")
	text := renderText(env)

	assert.Contains(t, text, "Alert")
	assert.Contains(t, text, "disk almost full on node-3")
	assert.NotContains(t, text, "Type:", "general alerts carry no type line")
}

func TestTelegramSender_Send(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSenderWithConfig(TelegramSenderConfig{
		BotToken: "token123",
		ChatID:   "-100200300",
		BaseURL:  srv.URL,
	}, nopLogger{})

	ok, err := s.Send(context.Background(), types.AlertEnvelope{Title: "Pump detected", Severity: types.SeverityHigh})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/bottoken123/sendMessage", gotPath)
	assert.Equal(t, "-100200300", gotBody["chat_id"])
	assert.True(t, strings.Contains(gotBody["text"], "Pump detected"))
}

func TestTelegramSender_RejectionIsExplicitFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewTelegramSenderWithConfig(TelegramSenderConfig{
		BotToken: "t", ChatID: "c", BaseURL: srv.URL,
	}, nopLogger{})

	ok, err := s.Send(context.Background(), types.AlertEnvelope{})
	assert.False(t, ok)
	assert.NoError(t, err, "an HTTP rejection is a failure return, not a transport error")
}

func TestTelegramSender_TransportErrorIsReturned(t *testing.T) {
	s := NewTelegramSenderWithConfig(TelegramSenderConfig{
		BotToken: "t", ChatID: "c", BaseURL: "http://127.0.0.1:1",
	}, nopLogger{})

	ok, err := s.Send(context.Background(), types.AlertEnvelope{})
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestDiscordSender_Send(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSenderWithConfig(DiscordSenderConfig{WebhookURL: srv.URL}, nopLogger{})

	ok, err := s.Send(context.Background(), types.AlertEnvelope{Title: "Depeg warning", Severity: types.SeverityCritical})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, gotBody["content"], "Depeg warning")
}

func TestStubSender_AlwaysSucceeds(t *testing.T) {
	s := NewStubSender("telegram", nopLogger{})
	ok, err := s.Send(context.Background(), types.AlertEnvelope{Title: "x"})
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, "telegram", s.Name())
}

func TestStats_Snapshot(t *testing.T) {
	s := NewStats()
	s.Processed.Add(10)
	s.Sent.Add(7)
	s.Failed.Add(3)

	snap := s.Snapshot()
	assert.Equal(t, int64(10), snap.Processed)
	assert.InDelta(t, 70.0, snap.SuccessRate, 0.01)
	assert.GreaterOrEqual(t, snap.UptimeSec, 1.0)
}
