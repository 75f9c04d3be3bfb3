package history

import (
	"context"
	"time"

	"chainalert/internal/types"
)

// HistoryWriter is the audit-row sink. Satisfied by *Repository.
type HistoryWriter interface {
	Insert(ctx context.Context, rec *types.HistoryRecord) error
}

// StatusPublisher is the observability-stream sink. Satisfied by
// *queue.StreamPublisher.
type StatusPublisher interface {
	Publish(ctx context.Context, ev types.DeliveryStatusEvent) error
}

// Recorder writes one HistoryRecord and emits one DeliveryStatusEvent per
// terminal attempt sequence. The two writes are independent; either failing
// is logged and swallowed so it can never mask or block a delivery outcome.
type Recorder struct {
	writer HistoryWriter
	stream StatusPublisher
	logger types.Logger
	clock  types.Clock
}

// NewRecorder creates a Recorder. writer may be nil when no history database
// is configured; stream may be nil when status publishing is disabled.
func NewRecorder(writer HistoryWriter, stream StatusPublisher, logger types.Logger) *Recorder {
	return &Recorder{writer: writer, stream: stream, logger: logger, clock: types.RealClock{}}
}

// WithClock overrides the clock, for tests.
func (r *Recorder) WithClock(clock types.Clock) *Recorder {
	r.clock = clock
	return r
}

// Record persists the terminal outcome of one attempt sequence.
func (r *Recorder) Record(
	ctx context.Context,
	env types.AlertEnvelope,
	destination string,
	fingerprint string,
	success bool,
	errMsg string,
	retryCount int,
	elapsed time.Duration,
) {
	status := types.DeliveryStatusFailed
	if success {
		status = types.DeliveryStatusDelivered
	}
	now := r.clock.Now()
	ms := float64(elapsed.Microseconds()) / 1000.0

	if r.writer != nil {
		rec := &types.HistoryRecord{
			Timestamp:        now,
			Channel:          destination,
			AlertType:        env.AlertType,
			Severity:         env.Severity,
			Title:            env.Title,
			Description:      env.Description,
			Fingerprint:      fingerprint,
			DeliveryStatus:   status,
			RetryCount:       retryCount,
			ErrorMessage:     errMsg,
			ProcessingTimeMS: ms,
		}
		if err := r.writer.Insert(ctx, rec); err != nil {
			r.logger.Error("failed to record alert history",
				"channel", destination,
				"alert_hash", fingerprint,
				"error", err.Error(),
			)
		}
	}

	if r.stream != nil {
		ev := types.DeliveryStatusEvent{
			Source:           "alert_processor",
			Channel:          destination,
			AlertType:        env.AlertType,
			Severity:         env.Severity,
			Fingerprint:      fingerprint,
			Status:           status,
			Error:            errMsg,
			ProcessingTimeMS: ms,
			Timestamp:        now,
		}
		if err := r.stream.Publish(ctx, ev); err != nil {
			r.logger.Warn("failed to publish delivery status",
				"channel", destination,
				"error", err.Error(),
			)
		}
	}
}
