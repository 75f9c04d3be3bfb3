// Package ratelimit enforces per-destination admission quotas. The limiter
// uses a fixed 60-second window counter held in the shared store, so multiple
// pipeline instances draining the same destination observe one authoritative
// count. Denied items are re-enqueued by the driver, never dropped.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is the fixed admission window length.
const Window = 60 * time.Second

// AdmissionStore is the atomic check-and-increment contract the limiter needs
// from the shared store. Admit must check the current window count against
// the limit and increment only when granting, as a single atomic operation.
type AdmissionStore interface {
	Admit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// admissionKey namespaces window counters per destination.
func admissionKey(destination string) string {
	return fmt.Sprintf("alert_ratelimit:%s", destination)
}

// Limiter grants or denies delivery admissions per destination.
type Limiter struct {
	store  AdmissionStore
	limits func(destination string) int
}

// New creates a Limiter. limits maps a destination name to its per-minute
// quota.
func New(store AdmissionStore, limits func(destination string) int) *Limiter {
	return &Limiter{store: store, limits: limits}
}

// TryAdmit grants admission if the destination's window count is below its
// limit, incrementing the count as part of the grant. A denial has no effect
// on the counter.
func (l *Limiter) TryAdmit(ctx context.Context, destination string) (bool, error) {
	limit := l.limits(destination)
	ok, err := l.store.Admit(ctx, admissionKey(destination), limit, Window)
	if err != nil {
		return false, fmt.Errorf("ratelimit: admit %s: %w", destination, err)
	}
	return ok, nil
}

// admitScript performs the check-then-increment atomically in Redis. The
// counter key expires with the window, which is what resets the count.
// KEYS[1] = window counter key
// ARGV[1] = limit
// ARGV[2] = window length in seconds
var admitScript = redis.NewScript(`
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
if count >= tonumber(ARGV[1]) then
    return 0
end
count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("EXPIRE", KEYS[1], ARGV[2])
end
return 1
`)

// RedisAdmissionStore implements AdmissionStore using a Lua script so the
// window check and increment cannot race across pipeline instances.
type RedisAdmissionStore struct {
	rdb *redis.Client
}

// NewRedisAdmissionStore creates an AdmissionStore backed by the given client.
func NewRedisAdmissionStore(rdb *redis.Client) *RedisAdmissionStore {
	return &RedisAdmissionStore{rdb: rdb}
}

// Admit executes the window script and interprets its 0/1 result.
func (s *RedisAdmissionStore) Admit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	res, err := admitScript.Run(ctx, s.rdb, []string{key}, limit, int(window.Seconds())).Result()
	if err != nil {
		return false, err
	}
	granted, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result %T", res)
	}
	return granted == 1, nil
}

var _ AdmissionStore = (*RedisAdmissionStore)(nil)
