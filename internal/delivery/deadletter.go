package delivery

import (
	"context"

	"chainalert/internal/types"
)

// DeadLetterAppender is the quarantine-lane write contract. Satisfied by
// *queue.LaneStore.
type DeadLetterAppender interface {
	AppendDeadLetter(ctx context.Context, destination string, entry types.DeadLetterEntry) error
}

// Router quarantines envelopes that exhausted their retry budget. Quarantined
// entries are never consulted again by this subsystem; inspection and replay
// are a human's job.
type Router struct {
	lanes  DeadLetterAppender
	stats  *Stats
	logger types.Logger
	clock  types.Clock
}

// NewRouter creates a dead-letter Router.
func NewRouter(lanes DeadLetterAppender, stats *Stats, logger types.Logger) *Router {
	return &Router{lanes: lanes, stats: stats, logger: logger, clock: types.RealClock{}}
}

// Quarantine appends a DeadLetterEntry to the destination's quarantine lane.
func (r *Router) Quarantine(ctx context.Context, env types.AlertEnvelope, destination, errMsg string) error {
	entry := types.DeadLetterEntry{
		OriginalAlert: env.Payload,
		Error:         errMsg,
		FailedAt:      r.clock.Now(),
		Channel:       destination,
	}
	if err := r.lanes.AppendDeadLetter(ctx, destination, entry); err != nil {
		r.logger.Error("failed to quarantine alert",
			"destination", destination,
			"error", err.Error(),
		)
		return err
	}
	r.stats.DeadLettered.Add(1)
	r.logger.Warn("alert moved to dead-letter lane",
		"destination", destination,
		"reason", errMsg,
	)
	return nil
}
