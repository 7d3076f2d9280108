package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilot-net/agent-pulse/control-plane/internal/realtime"
	"github.com/pilot-net/agent-pulse/control-plane/internal/testutil"
	"github.com/pilot-net/agent-pulse/pkg/types"
)

func newTestAggregator(store *testutil.EventStore) *Aggregator {
	a := NewAggregator(store, nil, testutil.NewTestLogger())
	a.now = func() time.Time { return testNow }
	return a
}

// Scenario D: a 24h window over an empty store is 24 zeroed buckets.
func TestScenarioEmptyWindow(t *testing.T) {
	a := newTestAggregator(testutil.NewEventStore())

	w, err := a.SetWindow(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 24, w.Hours)
	assert.Equal(t, 1, w.BucketHours)
	require.Len(t, w.Buckets, 24)
	for _, b := range w.Buckets {
		assert.Equal(t, types.TelemetryBucket{Timestamp: b.Timestamp}, b)
	}
}

func TestSetWindowRejectsInvalidHours(t *testing.T) {
	a := newTestAggregator(testutil.NewEventStore())
	for _, h := range []int{0, -1, 721} {
		_, err := a.SetWindow(context.Background(), h)
		assert.Error(t, err, "hours=%d", h)
	}
	assert.Equal(t, 24, a.Hours())
}

func TestSetWindowFailureKeepsLastWindow(t *testing.T) {
	store := testutil.NewEventStore(testutil.FixtureHeartbeatFor("AG-01", types.StatusDrift, testNow.Add(-time.Hour)))
	a := newTestAggregator(store)
	before, err := a.SetWindow(context.Background(), 24)
	require.NoError(t, err)

	store.SetErr(errors.New("statement timeout"))
	_, err = a.SetWindow(context.Background(), 168)
	require.Error(t, err)

	assert.Equal(t, 24, a.Hours())
	assert.Equal(t, before.Buckets, a.Window().Buckets)
	assert.Error(t, a.LastError())
}

func TestLiveUpdatesMatchFullRecompute(t *testing.T) {
	store := testutil.NewEventStore(
		testutil.FixtureHeartbeatFor("AG-01", types.StatusNominal, testNow.Add(-5*time.Hour)),
		testutil.FixtureHeartbeatFor("AG-02", types.StatusError, testNow.Add(-2*time.Hour)),
	)
	a := newTestAggregator(store)
	_, err := a.SetWindow(context.Background(), 24)
	require.NoError(t, err)

	live := []types.HeartbeatEvent{
		testutil.FixtureHeartbeatFor("AG-03", types.StatusDrift, testNow.Add(-10*time.Minute)),
		testutil.FixtureHeartbeatFor("AG-03", types.StatusProcessing, testNow.Add(-time.Minute)),
	}
	for _, e := range live {
		assert.True(t, a.OnHeartbeat(e))
		store.Add(e)
	}
	assert.False(t, a.OnHeartbeat(testutil.FixtureHeartbeatFor("AG-04", types.StatusError, testNow.Add(-48*time.Hour))))

	incremental := a.Window()
	full, err := a.Fetch(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, full.Buckets, incremental.Buckets)

	last := incremental.Buckets[len(incremental.Buckets)-1]
	assert.Equal(t, 1, last.Drift)
	assert.Equal(t, 1, last.Processing)
	assert.Equal(t, 2, last.Total)
}

// racingReader lets a live event land while a window fetch is in flight.
type racingReader struct {
	*testutil.EventStore
	during func()
}

func (r *racingReader) HeartbeatsSince(ctx context.Context, since time.Time, limit int, ascending bool) ([]types.HeartbeatEvent, error) {
	events, err := r.EventStore.HeartbeatsSince(ctx, since, limit, ascending)
	if r.during != nil {
		r.during()
	}
	return events, err
}

func TestSetWindowKeepsEventsAppliedDuringFetch(t *testing.T) {
	stored := testutil.FixtureHeartbeatFor("AG-01", types.StatusNominal, testNow.Add(-3*time.Hour), func(e *types.HeartbeatEvent) { e.ID = 10 })
	reader := &racingReader{EventStore: testutil.NewEventStore(stored)}
	a := NewAggregator(reader, nil, testutil.NewTestLogger())
	a.now = func() time.Time { return testNow }

	inFlight := testutil.FixtureHeartbeatFor("AG-02", types.StatusError, testNow.Add(-time.Minute), func(e *types.HeartbeatEvent) { e.ID = 11 })
	reader.during = func() {
		reader.during = nil
		a.OnHeartbeat(inFlight)
	}

	w, err := a.SetWindow(context.Background(), 24)
	require.NoError(t, err)

	var total, failed int
	for _, b := range w.Buckets {
		total += b.Total
		failed += b.Error
	}
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, w.Buckets[len(w.Buckets)-1].Error)

	// A stale live event the fetch already covers is not counted twice.
	reader.Add(inFlight)
	w, err = a.SetWindow(context.Background(), 24)
	require.NoError(t, err)
	total = 0
	for _, b := range w.Buckets {
		total += b.Total
	}
	assert.Equal(t, 2, total)
}

func TestAggregatorFollowsRealtime(t *testing.T) {
	bus := realtime.NewMemoryBus()
	a := NewAggregator(testutil.NewEventStore(), bus, testutil.NewTestLogger())
	a.Start(context.Background())
	defer a.Stop()
	require.Eventually(t, func() bool { return bus.Listeners(realtime.ChannelHeartbeats) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, realtime.PublishHeartbeat(context.Background(), bus,
		testutil.FixtureHeartbeatFor("AG-02", types.StatusError, time.Now().UTC())))

	require.Eventually(t, func() bool {
		b := a.Window().Buckets
		return b[len(b)-1].Error == 1
	}, time.Second, 5*time.Millisecond)
}

func TestOnChangeFiresForWindowAndLiveEvents(t *testing.T) {
	a := newTestAggregator(testutil.NewEventStore())

	var got []types.TelemetryWindow
	a.OnChange(func(w types.TelemetryWindow) { got = append(got, w) })

	_, err := a.SetWindow(context.Background(), 72)
	require.NoError(t, err)
	a.OnHeartbeat(testutil.FixtureHeartbeatFor("AG-05", types.StatusError, testNow.Add(-time.Minute)))
	a.OnHeartbeat(testutil.FixtureHeartbeatFor("AG-05", types.StatusError, testNow.Add(-100*time.Hour)))

	require.Len(t, got, 2, "events outside the window do not notify")
	assert.Equal(t, 4, got[0].BucketHours)
	assert.Equal(t, 1, got[1].Buckets[len(got[1].Buckets)-1].Error)
}
