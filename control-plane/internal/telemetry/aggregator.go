package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/pilot-net/agent-pulse/control-plane/internal/config"
	"github.com/pilot-net/agent-pulse/control-plane/internal/realtime"
	"github.com/pilot-net/agent-pulse/pkg/types"
)

// HistoryReader reads events for a window.
type HistoryReader interface {
	HeartbeatsSince(ctx context.Context, since time.Time, limit int, ascending bool) ([]types.HeartbeatEvent, error)
}

// ValidateHours checks a requested window length.
func ValidateHours(hours int) error {
	if hours < 1 || hours > config.MaxTelemetryHours {
		return fmt.Errorf("hours must be between 1 and %d, got %d", config.MaxTelemetryHours, hours)
	}
	return nil
}

// Aggregator keeps the active telemetry window current.
//
// A window change refetches the raw events. A live heartbeat inside the
// window is appended to the raw set and every bucket is recomputed from it,
// so live updates and a full refetch always agree.
type Aggregator struct {
	reader HistoryReader
	bus    realtime.Bus
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	hours     int
	raw       []types.HeartbeatEvent
	window    types.TelemetryWindow
	lastErr   error
	observers []func(types.TelemetryWindow)

	notifyMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAggregator creates an aggregator over the default window. bus may be nil.
func NewAggregator(reader HistoryReader, bus realtime.Bus, logger *slog.Logger) *Aggregator {
	a := &Aggregator{
		reader: reader,
		bus:    bus,
		logger: logger.With("component", "telemetry"),
		now:    time.Now,
		hours:  config.DefaultTelemetryHours,
	}
	a.window = a.build(nil, a.hours, a.now())
	return a
}

// OnChange registers fn to receive the active window after every change.
func (a *Aggregator) OnChange(fn func(types.TelemetryWindow)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, fn)
}

// Start loads the active window and follows new heartbeats. Every
// (re)connect refetches the window.
func (a *Aggregator) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.Refresh(ctx)
	if a.bus == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.bus.Listen(ctx, realtime.ChannelHeartbeats, a.Refresh, a.handleMessage)
	}()
}

// Stop cancels the subscription.
func (a *Aggregator) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

// SetWindow switches the active window and refetches it. Live events that
// arrived while the fetch was running are kept. On failure the previous
// window is kept and the error is recorded.
func (a *Aggregator) SetWindow(ctx context.Context, hours int) (types.TelemetryWindow, error) {
	if err := ValidateHours(hours); err != nil {
		return types.TelemetryWindow{}, err
	}

	now := a.now()
	events, err := a.fetch(ctx, hours, now)
	if err != nil {
		a.mu.Lock()
		a.lastErr = err
		w := a.window
		a.mu.Unlock()
		a.logger.Error("telemetry fetch failed, keeping last window", "hours", hours, "error", err)
		return w, err
	}

	a.mu.Lock()
	events = mergeLive(events, a.raw, WindowStart(hours, now))
	a.hours = hours
	a.raw = events
	a.window = a.build(events, hours, now)
	a.lastErr = nil
	w := a.window
	a.mu.Unlock()

	a.logger.Debug("telemetry window loaded", "hours", hours, "events", len(events), "buckets", len(w.Buckets))
	a.notify()
	return copyWindow(w), nil
}

// Refresh refetches the active window.
func (a *Aggregator) Refresh(ctx context.Context) error {
	_, err := a.SetWindow(ctx, a.Hours())
	return err
}

// OnHeartbeat adds a live event to the active window and recomputes it.
// It reports whether the event fell inside the window.
func (a *Aggregator) OnHeartbeat(e types.HeartbeatEvent) bool {
	now := a.now()

	a.mu.Lock()
	start := WindowStart(a.hours, now)
	if e.CreatedAt.Before(start) {
		a.mu.Unlock()
		return false
	}

	raw := make([]types.HeartbeatEvent, 0, len(a.raw)+1)
	for _, r := range a.raw {
		if !r.CreatedAt.Before(start) {
			raw = append(raw, r)
		}
	}
	raw = append(raw, e)
	if len(raw) > config.TelemetryRowCap {
		raw = raw[len(raw)-config.TelemetryRowCap:]
	}
	a.raw = raw
	a.window = a.build(raw, a.hours, now)
	a.mu.Unlock()

	a.notify()
	return true
}

// Window returns the active window. Buckets are re-anchored when the
// current slot has moved on since the last computation.
func (a *Aggregator) Window() types.TelemetryWindow {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	if WindowStart(a.hours, now) != WindowStart(a.hours, a.window.GeneratedAt) {
		a.window = a.build(a.raw, a.hours, now)
	}
	return copyWindow(a.window)
}

// Fetch computes a window of hours without changing the active one.
func (a *Aggregator) Fetch(ctx context.Context, hours int) (types.TelemetryWindow, error) {
	if err := ValidateHours(hours); err != nil {
		return types.TelemetryWindow{}, err
	}
	now := a.now()
	events, err := a.fetch(ctx, hours, now)
	if err != nil {
		return types.TelemetryWindow{}, err
	}
	return a.build(events, hours, now), nil
}

// Hours returns the active window length.
func (a *Aggregator) Hours() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hours
}

// LastError returns the last fetch failure, cleared by a successful fetch.
func (a *Aggregator) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

func (a *Aggregator) fetch(ctx context.Context, hours int, now time.Time) ([]types.HeartbeatEvent, error) {
	// Newest first so the row cap drops the oldest events.
	events, err := a.reader.HeartbeatsSince(ctx, WindowStart(hours, now), config.TelemetryRowCap, false)
	if err != nil {
		return nil, fmt.Errorf("fetching %dh telemetry: %w", hours, err)
	}
	slices.Reverse(events)
	return events, nil
}

func (a *Aggregator) build(events []types.HeartbeatEvent, hours int, now time.Time) types.TelemetryWindow {
	return types.TelemetryWindow{
		Hours:       hours,
		BucketHours: int(BucketWidth(hours) / time.Hour),
		Buckets:     Compute(events, hours, now),
		GeneratedAt: now.UTC(),
	}
}

func (a *Aggregator) handleMessage(payload []byte) {
	e, err := realtime.DecodeHeartbeat(payload)
	if err != nil {
		a.logger.Warn("ignoring malformed heartbeat message", "error", err)
		return
	}
	a.OnHeartbeat(e)
}

func (a *Aggregator) notify() {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.mu.Lock()
	w := a.window
	observers := a.observers
	a.mu.Unlock()

	for _, fn := range observers {
		fn(copyWindow(w))
	}
}

// mergeLive appends the live events newer than everything fetched, so an
// event applied during a fetch survives the swap.
func mergeLive(fetched, live []types.HeartbeatEvent, start time.Time) []types.HeartbeatEvent {
	var newest int64
	for _, e := range fetched {
		newest = max(newest, e.ID)
	}

	out := slices.Clip(fetched)
	for _, e := range live {
		if e.ID > newest && !e.CreatedAt.Before(start) {
			out = append(out, e)
		}
	}
	if len(out) > config.TelemetryRowCap {
		out = out[len(out)-config.TelemetryRowCap:]
	}
	return out
}

func copyWindow(w types.TelemetryWindow) types.TelemetryWindow {
	w.Buckets = slices.Clone(w.Buckets)
	return w
}
