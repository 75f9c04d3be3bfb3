package delivery

import (
	"context"
	"fmt"
	"time"

	"chainalert/internal/types"
)

// Outcome summarizes one full attempt sequence for an envelope.
type Outcome struct {
	Success bool
	// Attempts is the number of sender invocations made (1-based). Zero for
	// configuration errors where no sender was invoked.
	Attempts int
	// RetryCount is Attempts-1, the value recorded in history.
	RetryCount int
	Error      string
}

// Dispatcher invokes a destination's sender with bounded exponential-backoff
// retries. Backoff sleeps are cancellable: shutdown is observed at every
// sleep boundary, never mid-attempt.
type Dispatcher struct {
	registry *Registry
	policy   RetryPolicy
	stats    *Stats
	logger   types.Logger

	// sleep is swapped in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a Dispatcher over the given sender registry.
func NewDispatcher(registry *Registry, policy RetryPolicy, stats *Stats, logger types.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		policy:   policy,
		stats:    stats,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Deliver attempts delivery to a destination, retrying transient failures up
// to MaxRetries times with min(BaseDelay*2^i, MaxDelay) backoff between
// attempts. An unknown destination is a configuration error returned
// immediately without retry.
func (d *Dispatcher) Deliver(ctx context.Context, env types.AlertEnvelope, destination string) Outcome {
	sender, ok := d.registry.Sender(destination)
	if !ok {
		d.logger.Warn("unknown destination", "destination", destination)
		return Outcome{Success: false, Attempts: 0, Error: fmt.Sprintf("unknown destination: %s", destination)}
	}

	var lastErr string
	attempts := 0

	for attempts <= d.policy.MaxRetries {
		success, err := sender.Send(ctx, env)
		attempts++

		if success && err == nil {
			return Outcome{Success: true, Attempts: attempts, RetryCount: attempts - 1, Error: ""}
		}

		if err != nil {
			lastErr = err.Error()
			d.logger.Warn("delivery attempt errored",
				"destination", destination,
				"attempt", attempts,
				"error", lastErr,
			)
		} else {
			lastErr = "delivery returned failure"
			d.logger.Warn("delivery attempt rejected",
				"destination", destination,
				"attempt", attempts,
			)
		}

		// Counts every failed attempt, including the final one that gives
		// up, matching the retries_attempted counter of the existing
		// deployment.
		d.stats.Retried.Add(1)

		if attempts > d.policy.MaxRetries {
			break
		}

		delay := d.policy.Backoff(attempts - 1)
		d.logger.Info("retrying delivery",
			"destination", destination,
			"attempt", attempts,
			"max_retries", d.policy.MaxRetries,
			"delay", delay.String(),
		)
		if err := d.sleep(ctx, delay); err != nil {
			// Shutdown requested mid-backoff: abandon the sequence. The
			// envelope was already claimed, so it terminates as failed.
			return Outcome{Success: false, Attempts: attempts, RetryCount: attempts - 1, Error: lastErr}
		}
	}

	return Outcome{Success: false, Attempts: attempts, RetryCount: attempts - 1, Error: lastErr}
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
