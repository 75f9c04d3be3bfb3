package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainalert/internal/types"
)

func TestLaneKeys(t *testing.T) {
	assert.Equal(t, "alerts.telegram", NormalLane("telegram"))
	assert.Equal(t, "alerts.telegram.critical", CriticalLane("telegram"))
	assert.Equal(t, "alerts.discord.dlq", DeadLetterLane("discord"))
}

func TestDeadLetterEntry_WireShape(t *testing.T) {
	failedAt := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	entry := types.DeadLetterEntry{
		OriginalAlert: map[string]any{"alert_type": "honeypot", "title": "Honeypot detected"},
		Error:         "connection refused",
		FailedAt:      failedAt,
		Channel:       "telegram",
	}

	data, err := json.Marshal(entry)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	// Field names are part of the bus contract consumed by replay tooling.
	assert.Contains(t, decoded, "original_alert")
	assert.Contains(t, decoded, "error")
	assert.Contains(t, decoded, "failed_at")
	assert.Contains(t, decoded, "channel")
	assert.Equal(t, "telegram", decoded["channel"])
}

func TestSeverityLaneRouting(t *testing.T) {
	tests := []struct {
		severity types.Severity
		urgent   bool
	}{
		{types.SeverityCritical, true},
		{types.SeverityHigh, true},
		{types.SeverityMedium, false},
		{types.SeverityLow, false},
		{types.Severity(""), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.urgent, tt.severity.Urgent(), "severity %q", tt.severity)
	}
}
