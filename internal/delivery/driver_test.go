package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainalert/internal/types"
)

// fakeLanes is an in-memory lane store.
type fakeLanes struct {
	mu      sync.Mutex
	lanes   map[string][]string
	dlq     map[string][]types.DeadLetterEntry
	peekErr error
}

func newFakeLanes() *fakeLanes {
	return &fakeLanes{
		lanes: make(map[string][]string),
		dlq:   make(map[string][]types.DeadLetterEntry),
	}
}

func (f *fakeLanes) push(lane string, items ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lanes[lane] = append(f.lanes[lane], items...)
}

func (f *fakeLanes) Peek(_ context.Context, lane string, n int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.peekErr != nil {
		return nil, f.peekErr
	}
	items := f.lanes[lane]
	if len(items) > n {
		items = items[:n]
	}
	out := make([]string, len(items))
	copy(out, items)
	return out, nil
}

func (f *fakeLanes) Claim(_ context.Context, lane string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.lanes[lane]
	if len(items) == 0 {
		return "", false, nil
	}
	f.lanes[lane] = items[1:]
	return items[0], true, nil
}

func (f *fakeLanes) Requeue(_ context.Context, lane string, raw string) error {
	f.push(lane, raw)
	return nil
}

func (f *fakeLanes) AppendDeadLetter(_ context.Context, destination string, entry types.DeadLetterEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dlq[destination] = append(f.dlq[destination], entry)
	return nil
}

func (f *fakeLanes) depth(lane string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lanes[lane])
}

// fakeDedup is an in-memory Deduplicator.
type fakeDedup struct {
	mu      sync.Mutex
	markers map[string]bool
	err     error
}

func newFakeDedup() *fakeDedup { return &fakeDedup{markers: make(map[string]bool)} }

func (f *fakeDedup) key(fp, dest string) string { return dest + ":" + fp }

func (f *fakeDedup) IsDuplicate(_ context.Context, fp, dest string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.markers[f.key(fp, dest)], nil
}

func (f *fakeDedup) MarkSent(_ context.Context, fp, dest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markers[f.key(fp, dest)] = true
	return nil
}

// fakeAdmitter grants a fixed number of admissions per destination.
type fakeAdmitter struct {
	mu      sync.Mutex
	granted map[string]int
	limit   int
}

func (f *fakeAdmitter) TryAdmit(_ context.Context, dest string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.granted == nil {
		f.granted = make(map[string]int)
	}
	if f.granted[dest] >= f.limit {
		return false, nil
	}
	f.granted[dest]++
	return true, nil
}

// recordedOutcome captures a Recorder call for assertions.
type recordedOutcome struct {
	destination string
	fingerprint string
	success     bool
	errMsg      string
	retryCount  int
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []recordedOutcome
}

func (f *fakeRecorder) Record(_ context.Context, _ types.AlertEnvelope, dest, fp string,
	success bool, errMsg string, retryCount int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, recordedOutcome{
		destination: dest,
		fingerprint: fp,
		success:     success,
		errMsg:      errMsg,
		retryCount:  retryCount,
	})
}

func envelopeJSON(t *testing.T, title string, severity types.Severity) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"alert_type": "honeypot",
		"title":      title,
		"severity":   string(severity),
		"chain":      "bsc",
	})
	require.NoError(t, err)
	return string(data)
}

// testFingerprint keys on the title so tests control collision behavior.
func testFingerprint(env types.AlertEnvelope) string {
	return "fp-" + env.Title
}

type driverFixture struct {
	driver   *Driver
	lanes    *fakeLanes
	dedup    *fakeDedup
	admitter *fakeAdmitter
	recorder *fakeRecorder
	stats    *Stats
	sender   *scriptedSender
}

func newDriverFixture(t *testing.T, sender *scriptedSender, admitLimit int, dlqThreshold int) *driverFixture {
	t.Helper()
	lanes := newFakeLanes()
	deduper := newFakeDedup()
	admitter := &fakeAdmitter{limit: admitLimit}
	recorder := &fakeRecorder{}
	stats := NewStats()

	reg, err := NewRegistry(sender)
	require.NoError(t, err)

	dispatcher := NewDispatcher(reg, RetryPolicy{MaxRetries: 3, BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second}, stats, nopLogger{})
	dispatcher.sleep = func(context.Context, time.Duration) error { return nil }

	driver := NewDriver(
		DriverConfig{
			Destinations:  []string{sender.name},
			BatchSize:     10,
			CheckInterval: time.Millisecond,
			DLQThreshold:  dlqThreshold,
		},
		lanes,
		LaneKeys{
			Critical: func(d string) string { return fmt.Sprintf("alerts.%s.critical", d) },
			Normal:   func(d string) string { return fmt.Sprintf("alerts.%s", d) },
		},
		deduper,
		admitter,
		dispatcher,
		recorder,
		NewRouter(lanes, stats, nopLogger{}),
		testFingerprint,
		stats,
		nopLogger{},
	)

	return &driverFixture{
		driver: driver, lanes: lanes, dedup: deduper,
		admitter: admitter, recorder: recorder, stats: stats, sender: sender,
	}
}

// Scenario: rate limit 1/min, two non-duplicate envelopes in one batch. The
// first is delivered; the second is re-enqueued to the back of its lane,
// neither dropped nor dead-lettered.
func TestDriver_RateLimitedItemIsRequeued(t *testing.T) {
	fx := newDriverFixture(t, alwaysSucceed("telegram"), 1, 4)
	lane := "alerts.telegram"
	fx.lanes.push(lane, envelopeJSON(t, "first", types.SeverityMedium), envelopeJSON(t, "second", types.SeverityMedium))

	fx.driver.drainLane(context.Background(), "telegram", lane)

	assert.Equal(t, int64(1), fx.stats.Sent.Load())
	assert.Equal(t, int64(1), fx.stats.RateLimited.Load())
	assert.Equal(t, int64(0), fx.stats.DeadLettered.Load())
	assert.Equal(t, 1, fx.lanes.depth(lane), "denied item back on its originating lane")

	// Only the delivered item reached the recorder.
	require.Len(t, fx.recorder.outcomes, 1)
	assert.True(t, fx.recorder.outcomes[0].success)
}

// Scenario: identical envelope delivered, then resubmitted within the dedup
// TTL. The second submission is dropped without any sender invocation.
func TestDriver_DuplicateDroppedWithoutSenderCall(t *testing.T) {
	fx := newDriverFixture(t, alwaysSucceed("telegram"), 100, 4)
	lane := "alerts.telegram"

	fx.lanes.push(lane, envelopeJSON(t, "same", types.SeverityHigh))
	fx.driver.drainLane(context.Background(), "telegram", lane)
	require.Equal(t, 1, fx.sender.calls)

	fx.lanes.push(lane, envelopeJSON(t, "same", types.SeverityHigh))
	fx.driver.drainLane(context.Background(), "telegram", lane)

	assert.Equal(t, 1, fx.sender.calls, "duplicate must not invoke the sender")
	assert.Equal(t, int64(1), fx.stats.Deduplicated.Load())
	assert.Equal(t, int64(1), fx.stats.Sent.Load())
	assert.Len(t, fx.recorder.outcomes, 1, "no history row for a dropped duplicate")
}

// A failed delivery leaves no dedup marker, so the same alert stays eligible
// for reprocessing.
func TestDriver_FailureLeavesNoDedupMarker(t *testing.T) {
	fx := newDriverFixture(t, alwaysFail("telegram"), 100, 4)
	lane := "alerts.telegram"

	fx.lanes.push(lane, envelopeJSON(t, "flaky", types.SeverityLow))
	fx.driver.drainLane(context.Background(), "telegram", lane)

	dup, err := fx.dedup.IsDuplicate(context.Background(), "fp-flaky", "telegram")
	require.NoError(t, err)
	assert.False(t, dup)
}

// Exhausted retries (4 attempts with threshold 4) route to the dead-letter
// lane and record exactly one failed history row.
func TestDriver_ExhaustedRetriesAreDeadLettered(t *testing.T) {
	fx := newDriverFixture(t, alwaysFail("telegram"), 100, 4)
	lane := "alerts.telegram"

	fx.lanes.push(lane, envelopeJSON(t, "doomed", types.SeverityCritical))
	fx.driver.drainLane(context.Background(), "telegram", lane)

	assert.Equal(t, 4, fx.sender.calls, "max_retries+1 attempts")
	assert.Equal(t, int64(1), fx.stats.Failed.Load())
	assert.Equal(t, int64(1), fx.stats.DeadLettered.Load())

	require.Len(t, fx.lanes.dlq["telegram"], 1)
	entry := fx.lanes.dlq["telegram"][0]
	assert.Equal(t, "telegram", entry.Channel)
	assert.Equal(t, "connection refused", entry.Error)
	assert.NotNil(t, entry.OriginalAlert)

	require.Len(t, fx.recorder.outcomes, 1)
	assert.False(t, fx.recorder.outcomes[0].success)
	assert.Equal(t, 3, fx.recorder.outcomes[0].retryCount)
}

// Terminal exclusivity: one dequeue ends in exactly one of delivered,
// dropped, or dead-lettered.
func TestDriver_TerminalExclusivity(t *testing.T) {
	fx := newDriverFixture(t, alwaysSucceed("telegram"), 100, 4)
	lane := "alerts.telegram"

	fx.lanes.push(lane, envelopeJSON(t, "one", types.SeverityMedium))
	fx.driver.drainLane(context.Background(), "telegram", lane)

	assert.Equal(t, int64(1), fx.stats.Sent.Load())
	assert.Equal(t, int64(0), fx.stats.Failed.Load())
	assert.Equal(t, int64(0), fx.stats.DeadLettered.Load())
	assert.Equal(t, int64(0), fx.stats.Deduplicated.Load())
	assert.Equal(t, 0, fx.lanes.depth(lane))
}

// An unknown destination is a configuration error: recorded as failed with
// retry_count 0 and never dead-lettered.
func TestDriver_UnknownDestinationNotDeadLettered(t *testing.T) {
	fx := newDriverFixture(t, alwaysSucceed("telegram"), 100, 1)
	// Threshold 1 would quarantine any attempted failure; attempts=0 must not.
	lane := "alerts.slack"
	fx.lanes.push(lane, envelopeJSON(t, "misrouted", types.SeverityMedium))

	fx.driver.drainLane(context.Background(), "slack", lane)

	assert.Equal(t, int64(1), fx.stats.Failed.Load())
	assert.Empty(t, fx.lanes.dlq["slack"])
	require.Len(t, fx.recorder.outcomes, 1)
	assert.Equal(t, 0, fx.recorder.outcomes[0].retryCount)
	assert.Contains(t, fx.recorder.outcomes[0].errMsg, "unknown destination")
}

// Store unavailability abandons the lane pass without crashing the driver.
func TestDriver_PeekErrorAbandonsPass(t *testing.T) {
	fx := newDriverFixture(t, alwaysSucceed("telegram"), 100, 4)
	fx.lanes.peekErr = errors.New("store unreachable")

	fx.driver.drainLane(context.Background(), "telegram", "alerts.telegram")

	assert.Equal(t, int64(0), fx.stats.Processed.Load())
	assert.Equal(t, 0, fx.sender.calls)
}

// Priority lane items are drained before normal lane items within a cycle,
// and the full loop shuts down cleanly on context cancellation.
func TestDriver_RunDrainsPriorityFirstAndStops(t *testing.T) {
	var order []string
	sender := &scriptedSender{name: "telegram", results: []struct {
		ok  bool
		err error
	}{{true, nil}}}

	fx := newDriverFixture(t, sender, 100, 4)

	// Wrap the recorder to capture processing order by fingerprint.
	orderRecorder := &orderCapturingRecorder{order: &order, inner: fx.recorder}
	fx.driver.recorder = orderRecorder

	fx.lanes.push("alerts.telegram", envelopeJSON(t, "normal-1", types.SeverityMedium))
	fx.lanes.push("alerts.telegram.critical", envelopeJSON(t, "critical-1", types.SeverityCritical))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.driver.Run(ctx) }()

	require.Eventually(t, func() bool {
		orderRecorder.mu.Lock()
		defer orderRecorder.mu.Unlock()
		return len(order) == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a clean shutdown")
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop after cancellation")
	}

	assert.Equal(t, []string{"fp-critical-1", "fp-normal-1"}, order)
}

type orderCapturingRecorder struct {
	mu    sync.Mutex
	order *[]string
	inner HistoryRecorder
}

func (o *orderCapturingRecorder) Record(ctx context.Context, env types.AlertEnvelope, dest, fp string,
	success bool, errMsg string, retryCount int, elapsed time.Duration) {
	o.mu.Lock()
	*o.order = append(*o.order, fp)
	o.mu.Unlock()
	o.inner.Record(ctx, env, dest, fp, success, errMsg, retryCount, elapsed)
}
