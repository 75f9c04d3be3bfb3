package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// MarkerStore is the minimal key/value contract the Deduplicator needs from
// the shared store: existence checks and TTL'd presence markers.
type MarkerStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetWithTTL(ctx context.Context, key string, ttl time.Duration) error
}

// dedupKey namespaces markers per destination so the same alert can still be
// delivered to other destinations.
func dedupKey(destination, fingerprint string) string {
	return fmt.Sprintf("alert_dedup:%s:%s", destination, fingerprint)
}

// Deduplicator maps (destination, fingerprint) pairs to "already delivered
// within TTL". IsDuplicate has no side effects; only MarkSent, called after a
// confirmed successful delivery, creates a marker. Failed or rate-limited
// envelopes leave no record and stay eligible for reprocessing.
type Deduplicator struct {
	store MarkerStore
	ttl   time.Duration
}

// New creates a Deduplicator with the given marker store and TTL window.
func New(store MarkerStore, ttl time.Duration) *Deduplicator {
	return &Deduplicator{store: store, ttl: ttl}
}

// IsDuplicate reports whether a delivery marker exists for this
// (destination, fingerprint) pair.
func (d *Deduplicator) IsDuplicate(ctx context.Context, fingerprint, destination string) (bool, error) {
	ok, err := d.store.Exists(ctx, dedupKey(destination, fingerprint))
	if err != nil {
		return false, fmt.Errorf("dedup: check %s: %w", short(fingerprint), err)
	}
	return ok, nil
}

// MarkSent records a successful delivery, applying the TTL at this moment.
func (d *Deduplicator) MarkSent(ctx context.Context, fingerprint, destination string) error {
	if err := d.store.SetWithTTL(ctx, dedupKey(destination, fingerprint), d.ttl); err != nil {
		return fmt.Errorf("dedup: mark sent %s: %w", short(fingerprint), err)
	}
	return nil
}

// short abbreviates a fingerprint for log and error text.
func short(fingerprint string) string {
	if len(fingerprint) > 8 {
		return fingerprint[:8]
	}
	return fingerprint
}

// RedisMarkerStore implements MarkerStore over Redis using EXISTS and SETEX.
type RedisMarkerStore struct {
	rdb *redis.Client
}

// NewRedisMarkerStore creates a MarkerStore backed by the given Redis client.
func NewRedisMarkerStore(rdb *redis.Client) *RedisMarkerStore {
	return &RedisMarkerStore{rdb: rdb}
}

// Exists reports whether the key is present.
func (s *RedisMarkerStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetWithTTL writes a presence marker that expires after ttl.
func (s *RedisMarkerStore) SetWithTTL(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, "1", ttl).Err()
}

var _ MarkerStore = (*RedisMarkerStore)(nil)
