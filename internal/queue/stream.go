package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"chainalert/internal/types"
)

// StreamPublisher appends delivery-status events to a capped Redis stream for
// real-time dashboard consumption. The stream is trimmed approximately
// (XADD MAXLEN ~) so old entries are dropped once the configured maximum is
// exceeded. Publishing is best-effort by contract: callers must never let a
// publish failure affect a delivery outcome.
type StreamPublisher struct {
	rdb     *redis.Client
	stream  string
	maxLen  int64
	enabled bool
}

// NewStreamPublisher creates a publisher for the named stream. A disabled
// publisher silently drops events.
func NewStreamPublisher(rdb *redis.Client, stream string, maxLen int64, enabled bool) *StreamPublisher {
	return &StreamPublisher{rdb: rdb, stream: stream, maxLen: maxLen, enabled: enabled}
}

// Publish appends one event to the stream.
func (p *StreamPublisher) Publish(ctx context.Context, ev types.DeliveryStatusEvent) error {
	if !p.enabled {
		return nil
	}
	err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: ev.Fields(),
	}).Err()
	if err != nil {
		return fmt.Errorf("queue: publish to stream %s: %w", p.stream, err)
	}
	return nil
}
