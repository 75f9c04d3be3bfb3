package delivery

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"chainalert/internal/types"
)

// LaneReader is the consuming side of the queue store. Satisfied by
// *queue.LaneStore.
type LaneReader interface {
	Peek(ctx context.Context, lane string, n int) ([]string, error)
	Claim(ctx context.Context, lane string) (string, bool, error)
	Requeue(ctx context.Context, lane string, raw string) error
}

// Deduplicator is the delivered-within-TTL check. Satisfied by
// *dedup.Deduplicator.
type Deduplicator interface {
	IsDuplicate(ctx context.Context, fingerprint, destination string) (bool, error)
	MarkSent(ctx context.Context, fingerprint, destination string) error
}

// Admitter is the per-destination admission control. Satisfied by
// *ratelimit.Limiter.
type Admitter interface {
	TryAdmit(ctx context.Context, destination string) (bool, error)
}

// HistoryRecorder persists terminal outcomes. Satisfied by *history.Recorder.
type HistoryRecorder interface {
	Record(ctx context.Context, env types.AlertEnvelope, destination, fingerprint string,
		success bool, errMsg string, retryCount int, elapsed time.Duration)
}

// Quarantiner routes exhausted envelopes to the dead-letter lane. Satisfied
// by *Router.
type Quarantiner interface {
	Quarantine(ctx context.Context, env types.AlertEnvelope, destination, errMsg string) error
}

// LaneKeys resolves the priority and normal lane for a destination. Injected
// so the driver does not import the queue package.
type LaneKeys struct {
	Critical func(destination string) string
	Normal   func(destination string) string
}

// DriverConfig holds the driver's tuning knobs.
type DriverConfig struct {
	Destinations  []string
	BatchSize     int
	CheckInterval time.Duration
	// DLQThreshold is compared against the total attempt count of a failed
	// sequence; attempts >= threshold routes to the dead-letter lane.
	DLQThreshold int
	// StatsInterval controls the periodic aggregate log line.
	StatsInterval time.Duration
}

// Driver runs the polling loop. Each destination is drained by its own
// goroutine so a slow retry sequence on one destination never starves the
// others, while items within one destination stay strictly sequential.
type Driver struct {
	cfg         DriverConfig
	lanes       LaneReader
	laneKeys    LaneKeys
	dedup       Deduplicator
	admitter    Admitter
	dispatcher  *Dispatcher
	recorder    HistoryRecorder
	dlq         Quarantiner
	fingerprint func(types.AlertEnvelope) string
	stats       *Stats
	logger      types.Logger
}

// NewDriver wires up a Driver. fingerprint is the envelope fingerprint
// function (dedup.Fingerprint in production).
func NewDriver(
	cfg DriverConfig,
	lanes LaneReader,
	laneKeys LaneKeys,
	deduper Deduplicator,
	admitter Admitter,
	dispatcher *Dispatcher,
	recorder HistoryRecorder,
	dlq Quarantiner,
	fingerprint func(types.AlertEnvelope) string,
	stats *Stats,
	logger types.Logger,
) *Driver {
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 60 * time.Second
	}
	return &Driver{
		cfg:         cfg,
		lanes:       lanes,
		laneKeys:    laneKeys,
		dedup:       deduper,
		admitter:    admitter,
		dispatcher:  dispatcher,
		recorder:    recorder,
		dlq:         dlq,
		fingerprint: fingerprint,
		stats:       stats,
		logger:      logger,
	}
}

// Run loops until the context is cancelled. Shutdown is cooperative: a
// running batch finishes its current item before the loop observes the
// cancellation.
func (d *Driver) Run(ctx context.Context) error {
	d.logger.Info("alert delivery driver starting",
		"destinations", d.cfg.Destinations,
		"batch_size", d.cfg.BatchSize,
		"check_interval", d.cfg.CheckInterval.String(),
	)

	g, ctx := errgroup.WithContext(ctx)

	for _, destination := range d.cfg.Destinations {
		destination := destination
		g.Go(func() error {
			return d.destinationLoop(ctx, destination)
		})
	}

	g.Go(func() error {
		d.statsLoop(ctx)
		return nil
	})

	err := g.Wait()
	d.logStats()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// destinationLoop is one destination's polling cycle: drain the priority lane
// fully, then the normal lane, then sleep the check interval.
func (d *Driver) destinationLoop(ctx context.Context, destination string) error {
	for {
		d.drainLane(ctx, destination, d.laneKeys.Critical(destination))
		d.drainLane(ctx, destination, d.laneKeys.Normal(destination))

		if err := sleepCtx(ctx, d.cfg.CheckInterval); err != nil {
			return err
		}
	}
}

// drainLane processes up to BatchSize items from one lane. Items are peeked
// in bulk, then claimed one at a time immediately before processing; a store
// failure abandons the remainder of this destination's pass until the next
// cycle.
func (d *Driver) drainLane(ctx context.Context, destination, lane string) {
	items, err := d.lanes.Peek(ctx, lane, d.cfg.BatchSize)
	if err != nil {
		d.logger.Error("queue store unavailable, skipping lane this cycle",
			"lane", lane,
			"error", err.Error(),
		)
		return
	}

	for range items {
		if ctx.Err() != nil {
			return
		}

		raw, ok, err := d.lanes.Claim(ctx, lane)
		if err != nil {
			d.logger.Error("failed to claim item, abandoning lane pass",
				"lane", lane,
				"error", err.Error(),
			)
			return
		}
		if !ok {
			// Another instance drained the lane between peek and claim.
			return
		}

		if err := d.processItem(ctx, destination, lane, raw); err != nil {
			d.logger.Error("store error while processing item, abandoning lane pass",
				"lane", lane,
				"error", err.Error(),
			)
			return
		}
	}
}

// processItem runs one claimed envelope through dedup, admission, dispatch,
// and terminal recording. The returned error is non-nil only for shared-store
// failures, which abort the current lane pass; delivery failures are handled
// internally and terminate the item.
func (d *Driver) processItem(ctx context.Context, destination, lane, raw string) error {
	env := types.ParseEnvelope(raw)
	fp := d.fingerprint(env)

	dup, err := d.dedup.IsDuplicate(ctx, fp, destination)
	if err != nil {
		return err
	}
	if dup {
		d.stats.Deduplicated.Add(1)
		d.logger.Info("dropping duplicate alert",
			"destination", destination,
			"alert_hash", fp,
		)
		return nil
	}

	admitted, err := d.admitter.TryAdmit(ctx, destination)
	if err != nil {
		return err
	}
	if !admitted {
		// Back of the originating lane; retried on a later cycle without
		// consuming a retry slot.
		if err := d.lanes.Requeue(ctx, lane, raw); err != nil {
			return err
		}
		d.stats.RateLimited.Add(1)
		d.logger.Warn("rate limited, re-enqueued alert",
			"destination", destination,
			"lane", lane,
		)
		return nil
	}

	start := time.Now()
	outcome := d.dispatcher.Deliver(ctx, env, destination)
	elapsed := time.Since(start)

	d.recorder.Record(ctx, env, destination, fp, outcome.Success, outcome.Error, outcome.RetryCount, elapsed)

	if outcome.Success {
		if err := d.dedup.MarkSent(ctx, fp, destination); err != nil {
			// The delivery already happened; a lost marker only risks one
			// extra delivery after the next enqueue.
			d.logger.Warn("failed to record dedup marker",
				"destination", destination,
				"alert_hash", fp,
				"error", err.Error(),
			)
		}
		d.stats.Sent.Add(1)
		d.stats.Processed.Add(1)
		d.logger.Info("alert delivered",
			"destination", destination,
			"attempts", outcome.Attempts,
			"elapsed_ms", elapsed.Milliseconds(),
		)
		return nil
	}

	d.stats.Failed.Add(1)
	d.stats.Processed.Add(1)
	d.logger.Warn("alert delivery failed",
		"destination", destination,
		"attempts", outcome.Attempts,
		"error", outcome.Error,
	)

	if outcome.Attempts > 0 && outcome.Attempts >= d.cfg.DLQThreshold {
		// Quarantine failures are logged inside the router; the outcome has
		// already been recorded either way.
		_ = d.dlq.Quarantine(ctx, env, destination, outcome.Error)
	}

	return nil
}

// statsLoop emits the aggregate counters periodically.
func (d *Driver) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.logStats()
		}
	}
}

func (d *Driver) logStats() {
	snap := d.stats.Snapshot()
	d.logger.Info("pipeline stats",
		"processed", snap.Processed,
		"sent", snap.Sent,
		"failed", snap.Failed,
		"deduplicated", snap.Deduplicated,
		"rate_limited", snap.RateLimited,
		"dead_lettered", snap.DeadLettered,
		"retries", snap.Retried,
		"per_minute", snap.PerMinute,
	)
}
