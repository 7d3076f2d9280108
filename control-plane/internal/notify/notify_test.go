package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilot-net/agent-pulse/control-plane/internal/metrics"
	ptestutil "github.com/pilot-net/agent-pulse/control-plane/internal/testutil"
	"github.com/pilot-net/agent-pulse/pkg/types"
)

func testNotification() types.Notification {
	return types.Notification{
		ID:        "n-1",
		AlertID:   "AG-03-1700000000000-abcd1234",
		AgentID:   "AG-03",
		Kind:      types.NotificationAlert,
		Title:     "AG-03 entered ERROR",
		Message:   "disk failure",
		Severity:  types.SeverityCritical,
		CreatedAt: time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC),
	}
}

func fastConfig(url string) WebhookConfig {
	cfg := DefaultWebhookConfig(url, "tok")
	cfg.RetryDelay = time.Millisecond
	cfg.RateLimit = 1000
	cfg.RateBurst = 100
	return cfg
}

func TestWebhookDelivers(t *testing.T) {
	var got types.Notification
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewWebhookSink(fastConfig(srv.URL))
	require.NoError(t, sink.Notify(context.Background(), testNotification()))

	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, "AG-03", got.AgentID)
	assert.Equal(t, types.SeverityCritical, got.Severity)
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(fastConfig(srv.URL))
	require.NoError(t, sink.Notify(context.Background(), testNotification()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	sink := NewWebhookSink(fastConfig(srv.URL))
	err := sink.Notify(context.Background(), testNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := fastConfig(srv.URL)
	cfg.TripAfter = 2
	sink := NewWebhookSink(cfg)

	for i := 0; i < 2; i++ {
		require.Error(t, sink.Notify(context.Background(), testNotification()))
	}
	assert.Equal(t, gobreaker.StateOpen, sink.State())

	err := sink.Notify(context.Background(), testNotification())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load())
}

type failingSink struct{}

func (failingSink) Name() string { return "broken" }
func (failingSink) Notify(context.Context, types.Notification) error {
	return errors.New("unreachable")
}

func TestFanOutContinuesPastFailures(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	rec := &ptestutil.NotificationRecorder{}
	f := NewFanOut(m, ptestutil.NewTestLogger(), failingSink{}, rec)

	err := f.Notify(context.Background(), testNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Len(t, rec.Notifications(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationFailures.WithLabelValues("broken")))
}

type inbox struct{ got []types.Notification }

func (i *inbox) InsertNotification(_ context.Context, n types.Notification) error {
	i.got = append(i.got, n)
	return nil
}

func TestStoreSink(t *testing.T) {
	in := &inbox{}
	sink := NewStoreSink(in)
	require.NoError(t, sink.Notify(context.Background(), testNotification()))
	require.Len(t, in.got, 1)
	assert.Equal(t, "inbox", sink.Name())
}
