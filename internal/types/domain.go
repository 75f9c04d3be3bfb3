// Package types defines the domain entities shared across the alert delivery
// pipeline: the alert envelope consumed from the lanes, the audit and
// observability records produced per terminal outcome, and the small
// cross-cutting interfaces (Logger, Clock) the rest of the codebase depends on.
package types

import (
	"encoding/json"
	"time"
)

// Severity classifies an alert's urgency. Producers write CRITICAL and HIGH
// alerts to the priority lane; everything else goes to the normal lane.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Urgent reports whether alerts of this severity belong on the priority lane.
func (s Severity) Urgent() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// AlertEnvelope is the unit of work flowing through the pipeline. The
// classification fields (AlertType, Title, Severity, Chain, Address) are
// optional and used only for fingerprinting and audit history; delivery never
// requires them. Payload holds the full decoded wire object and Raw the exact
// wire text, so a rate-limited envelope can be re-enqueued byte-for-byte.
type AlertEnvelope struct {
	ID          string
	AlertType   string
	Title       string
	Description string
	Severity    Severity
	Chain       string
	Address     string

	Payload map[string]any
	Raw     string
}

// ParseEnvelope decodes a lane item. Items are normally JSON objects; anything
// that fails to decode is wrapped as a plain-text general alert rather than
// rejected, matching the producer contract that payloads may be free text.
func ParseEnvelope(raw string) AlertEnvelope {
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || payload == nil {
		return AlertEnvelope{
			AlertType:   "general",
			Title:       "Alert",
			Description: raw,
			Severity:    SeverityMedium,
			Payload:     map[string]any{"description": raw},
			Raw:         raw,
		}
	}

	env := AlertEnvelope{
		ID:          stringField(payload, "id"),
		AlertType:   stringField(payload, "alert_type"),
		Title:       stringField(payload, "title"),
		Description: stringField(payload, "description"),
		Severity:    Severity(stringField(payload, "severity")),
		Chain:       stringField(payload, "chain"),
		Address:     stringField(payload, "address"),
		Payload:     payload,
		Raw:         raw,
	}
	return env
}

// Encode serializes the envelope for enqueueing. The Payload map wins when
// present so producer-supplied fields survive round trips; otherwise the wire
// object is built from the classification fields.
func (e AlertEnvelope) Encode() (string, error) {
	obj := e.Payload
	if obj == nil {
		obj = map[string]any{}
		if e.ID != "" {
			obj["id"] = e.ID
		}
		if e.AlertType != "" {
			obj["alert_type"] = e.AlertType
		}
		if e.Title != "" {
			obj["title"] = e.Title
		}
		if e.Description != "" {
			obj["description"] = e.Description
		}
		if e.Severity != "" {
			obj["severity"] = string(e.Severity)
		}
		if e.Chain != "" {
			obj["chain"] = e.Chain
		}
		if e.Address != "" {
			obj["address"] = e.Address
		}
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// DeadLetterEntry is the record appended to a destination's quarantine lane
// when an envelope exhausts its retry budget. The JSON field names are part of
// the bus contract consumed by the replay tooling.
type DeadLetterEntry struct {
	OriginalAlert map[string]any `json:"original_alert"`
	Error         string         `json:"error"`
	FailedAt      time.Time      `json:"failed_at"`
	Channel       string         `json:"channel"`
}

// DeliveryStatus is the terminal outcome of an attempt sequence as persisted
// to the audit table and the observability stream.
type DeliveryStatus string

const (
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// HistoryRecord is one append-only audit row in the alert_history table.
// Exactly one row is written per terminal attempt sequence, never per retry.
type HistoryRecord struct {
	Timestamp        time.Time
	Channel          string
	AlertType        string
	Severity         Severity
	Title            string
	Description      string
	Fingerprint      string
	DeliveryStatus   DeliveryStatus
	RetryCount       int
	ErrorMessage     string
	ProcessingTimeMS float64
}

// DeliveryStatusEvent mirrors a subset of HistoryRecord onto the capped
// observability stream for real-time dashboard consumption.
type DeliveryStatusEvent struct {
	Source           string
	Channel          string
	AlertType        string
	Severity         Severity
	Fingerprint      string
	Status           DeliveryStatus
	Error            string
	ProcessingTimeMS float64
	Timestamp        time.Time
}

// Fields flattens the event into the string map shape expected by the stream
// store. Empty error strings are omitted.
func (e DeliveryStatusEvent) Fields() map[string]any {
	fields := map[string]any{
		"source":             e.Source,
		"type":               "delivery_status",
		"channel":            e.Channel,
		"alert_type":         e.AlertType,
		"severity":           string(e.Severity),
		"alert_hash":         e.Fingerprint,
		"status":             string(e.Status),
		"processing_time_ms": formatMillis(e.ProcessingTimeMS),
		"timestamp":          e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if e.Error != "" {
		fields["error"] = truncate(e.Error, 200)
	}
	return fields
}
