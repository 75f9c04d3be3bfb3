// Package queue implements the shared message-bus access layer over Redis.
// Each destination owns three lanes: a priority lane for urgent alerts, a
// normal lane, and a dead-letter lane. Lanes are Redis lists consumed with
// peek-many (LRANGE) then claim-one (LPOP) semantics: an item claimed and then
// lost to a crash is not reprocessed by this instance, trading possible loss
// for at-most-once visible delivery.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"chainalert/internal/types"
)

// Lane key layout, per destination D:
//
//	alerts.<D>.critical   priority lane
//	alerts.<D>            normal lane
//	alerts.<D>.dlq        dead-letter lane

// NormalLane returns the normal lane key for a destination.
func NormalLane(destination string) string {
	return fmt.Sprintf("alerts.%s", destination)
}

// CriticalLane returns the priority lane key for a destination.
func CriticalLane(destination string) string {
	return fmt.Sprintf("alerts.%s.critical", destination)
}

// DeadLetterLane returns the quarantine lane key for a destination.
func DeadLetterLane(destination string) string {
	return fmt.Sprintf("alerts.%s.dlq", destination)
}

// LaneStore provides lane operations over a shared Redis client. All
// mutations rely on Redis's per-command atomicity; no in-process locking is
// needed even with multiple pipeline instances.
type LaneStore struct {
	rdb *redis.Client
}

// NewLaneStore creates a LaneStore over the given Redis client.
func NewLaneStore(rdb *redis.Client) *LaneStore {
	return &LaneStore{rdb: rdb}
}

// Peek reads up to n items from the front of a lane without removing them.
func (s *LaneStore) Peek(ctx context.Context, lane string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := s.rdb.LRange(ctx, lane, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: peek %s: %w", lane, err)
	}
	return items, nil
}

// Claim destructively removes the oldest item from a lane. The second return
// is false when the lane was empty (another instance may have claimed the
// item between peek and pop).
func (s *LaneStore) Claim(ctx context.Context, lane string) (string, bool, error) {
	item, err := s.rdb.LPop(ctx, lane).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("queue: claim from %s: %w", lane, err)
	}
	return item, true, nil
}

// Requeue appends a raw item to the back of its originating lane. Used when
// admission is denied; the item is retried on a later cycle without consuming
// a retry slot.
func (s *LaneStore) Requeue(ctx context.Context, lane string, raw string) error {
	if err := s.rdb.RPush(ctx, lane, raw).Err(); err != nil {
		return fmt.Errorf("queue: requeue to %s: %w", lane, err)
	}
	return nil
}

// Enqueue is the producer-side write path shared by detection engines and
// tests. CRITICAL and HIGH severities go to the priority lane. Envelopes
// without an ID are assigned one here so audit rows can be correlated across
// re-enqueues.
func (s *LaneStore) Enqueue(ctx context.Context, destination string, env types.AlertEnvelope) error {
	if env.ID == "" {
		env.ID = uuid.NewString()
		if env.Payload != nil {
			env.Payload["id"] = env.ID
		}
	}
	raw, err := env.Encode()
	if err != nil {
		return fmt.Errorf("queue: encode envelope: %w", err)
	}
	lane := NormalLane(destination)
	if env.Severity.Urgent() {
		lane = CriticalLane(destination)
	}
	if err := s.rdb.RPush(ctx, lane, raw).Err(); err != nil {
		return fmt.Errorf("queue: enqueue to %s: %w", lane, err)
	}
	return nil
}

// AppendDeadLetter quarantines an exhausted envelope on the destination's
// dead-letter lane. Entries are never auto-retried by this subsystem.
func (s *LaneStore) AppendDeadLetter(ctx context.Context, destination string, entry types.DeadLetterEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("queue: marshal dead-letter entry: %w", err)
	}
	lane := DeadLetterLane(destination)
	if err := s.rdb.RPush(ctx, lane, string(data)).Err(); err != nil {
		return fmt.Errorf("queue: append dead letter to %s: %w", lane, err)
	}
	return nil
}

// Depth returns the current length of a lane.
func (s *LaneStore) Depth(ctx context.Context, lane string) (int64, error) {
	n, err := s.rdb.LLen(ctx, lane).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: depth of %s: %w", lane, err)
	}
	return n, nil
}

// Ping checks store connectivity for the health probe.
func (s *LaneStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("queue: ping: %w", err)
	}
	return nil
}
