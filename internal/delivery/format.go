package delivery

import (
	"fmt"
	"strings"

	"chainalert/internal/types"
)

// severityGlyph maps severities to the markers used in rendered messages.
var severityGlyph = map[types.Severity]string{
	types.SeverityCritical: "🔴",
	types.SeverityHigh:     "🟠",
	types.SeverityMedium:   "🟡",
	types.SeverityLow:      "🟢",
}

// renderText composes the destination-agnostic text body for an alert. The
// per-destination senders wrap this in their own transport payloads.
func renderText(env types.AlertEnvelope) string {
	var b strings.Builder

	glyph, ok := severityGlyph[env.Severity]
	if !ok {
		glyph = "⚪"
	}

	title := env.Title
	if title == "" {
		title = "Alert"
	}
	fmt.Fprintf(&b, "%s %s\n", glyph, title)

	if env.AlertType != "" && env.AlertType != "general" {
		fmt.Fprintf(&b, "Type: %s\n", env.AlertType)
	}
	if env.Severity != "" {
		fmt.Fprintf(&b, "Severity: %s\n", env.Severity)
	}
	if env.Chain != "" {
		fmt.Fprintf(&b, "Chain: %s\n", env.Chain)
	}
	if env.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", env.Address)
	}
	if env.Description != "" {
		fmt.Fprintf(&b, "\n%s", env.Description)
	}

	return strings.TrimRight(b.String(), "\n")
}
