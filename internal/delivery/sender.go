// Package delivery contains the alert delivery pipeline: the destination
// sender abstraction and registry, the retrying dispatcher, the dead-letter
// router, the per-cycle driver, and the in-process statistics counters.
package delivery

import (
	"context"
	"fmt"
	"sort"

	"chainalert/internal/types"
)

// Sender delivers one rendered alert to an external destination. Send returns
// (false, nil) for an explicit delivery failure and a non-nil error for a
// transport fault; the dispatcher treats both as "delivery failed" with
// distinct log detail.
type Sender interface {
	Name() string
	Send(ctx context.Context, env types.AlertEnvelope) (bool, error)
}

// Registry maps destination names to Sender implementations. The set of
// destinations is fixed at construction; an unknown name reaching the
// dispatcher is a configuration error, not a retryable failure.
type Registry struct {
	senders map[string]Sender
}

// NewRegistry builds a Registry from the given senders. Duplicate or empty
// names are constructor-time errors.
func NewRegistry(senders ...Sender) (*Registry, error) {
	m := make(map[string]Sender, len(senders))
	for _, s := range senders {
		name := s.Name()
		if name == "" {
			return nil, fmt.Errorf("delivery: sender with empty name")
		}
		if _, dup := m[name]; dup {
			return nil, fmt.Errorf("delivery: duplicate sender %q", name)
		}
		m[name] = s
	}
	return &Registry{senders: m}, nil
}

// Sender returns the sender registered for a destination.
func (r *Registry) Sender(destination string) (Sender, bool) {
	s, ok := r.senders[destination]
	return s, ok
}

// Destinations returns the registered destination names, sorted.
func (r *Registry) Destinations() []string {
	names := make([]string, 0, len(r.senders))
	for name := range r.senders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StubSender logs deliveries without calling any external service. Used in
// test mode so the full pipeline can run without credentials.
type StubSender struct {
	name   string
	logger types.Logger
}

// NewStubSender creates a stub sender for the named destination.
func NewStubSender(name string, logger types.Logger) *StubSender {
	return &StubSender{name: name, logger: logger.With("sender", name, "mode", "stub")}
}

// Name returns the destination name.
func (s *StubSender) Name() string { return s.name }

// Send logs the alert and reports success.
func (s *StubSender) Send(_ context.Context, env types.AlertEnvelope) (bool, error) {
	s.logger.Info("stub delivery",
		"alert_type", env.AlertType,
		"severity", string(env.Severity),
		"title", env.Title,
	)
	return true, nil
}

var _ Sender = (*StubSender)(nil)
