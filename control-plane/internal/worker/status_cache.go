// Package worker provides the long-running control plane components that
// derive state from the heartbeat stream: the status cache and the alert
// manager.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/pilot-net/agent-pulse/control-plane/internal/config"
	"github.com/pilot-net/agent-pulse/control-plane/internal/realtime"
	"github.com/pilot-net/agent-pulse/control-plane/internal/service"
	"github.com/pilot-net/agent-pulse/pkg/types"
)

// HeartbeatReader reads recent events for seeding.
type HeartbeatReader interface {
	// RecentHeartbeats returns the most recent events, newest first.
	RecentHeartbeats(ctx context.Context, limit int) ([]types.HeartbeatEvent, error)
}

// HeartbeatSubmitter forwards heartbeats through the ingestion gateway.
type HeartbeatSubmitter interface {
	IngestHeartbeat(ctx context.Context, req service.HeartbeatRequest) (*types.HeartbeatEvent, error)
}

// StatusCacheConfig holds configuration for the status cache.
type StatusCacheConfig struct {
	// SweepInterval between staleness checks.
	SweepInterval time.Duration

	// OfflineThreshold is how long an agent may stay silent before it is
	// demoted to OFFLINE.
	OfflineThreshold time.Duration

	// SeedLimit bounds the events read on (re)connect.
	SeedLimit int

	// PulseRevertDelay is how long an optimistic PROCESSING pulse shows.
	PulseRevertDelay time.Duration
}

// DefaultStatusCacheConfig returns the production defaults.
func DefaultStatusCacheConfig() StatusCacheConfig {
	return StatusCacheConfig{
		SweepInterval:    config.StalenessSweepInterval,
		OfflineThreshold: config.OfflineThreshold,
		SeedLimit:        config.StatusSeedLimit,
		PulseRevertDelay: config.PulseRevertDelay,
	}
}

// StatusCache holds the latest derived state of every roster agent.
//
// The state table is only ever replaced as a whole: every mutation builds a
// new map under the lock and swaps it in, and readers get copies. Each agent
// also carries a version that is bumped on every write, so delayed work
// such as a pulse revert can tell whether it has been superseded.
//
// Events are applied in arrival order. An event delivered late overwrites a
// newer one already applied; the next event or sweep corrects it.
type StatusCache struct {
	reader    HeartbeatReader
	submitter HeartbeatSubmitter
	bus       realtime.Bus
	config    StatusCacheConfig
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	states    map[string]types.AgentState
	versions  map[string]uint64
	lastErr   error
	timers    map[*time.Timer]struct{}
	observers []func([]types.AgentState)

	// notifyMu keeps snapshot delivery in write order.
	notifyMu sync.Mutex

	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewStatusCache creates a cache with every roster agent OFFLINE.
// bus and submitter may be nil.
func NewStatusCache(reader HeartbeatReader, submitter HeartbeatSubmitter, bus realtime.Bus, cfg StatusCacheConfig, logger *slog.Logger) *StatusCache {
	states := make(map[string]types.AgentState, len(types.Roster))
	for _, id := range types.Roster {
		states[id] = types.OfflineState(id)
	}
	return &StatusCache{
		reader:    reader,
		submitter: submitter,
		bus:       bus,
		config:    cfg,
		logger:    logger.With("component", "status_cache"),
		now:       time.Now,
		states:    states,
		versions:  make(map[string]uint64, len(types.Roster)),
		timers:    make(map[*time.Timer]struct{}),
		stopCh:    make(chan struct{}),
	}
}

// OnChange registers fn to receive a snapshot after every change.
// Register observers before Start.
func (c *StatusCache) OnChange(fn func([]types.AgentState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Start seeds the cache, subscribes to new heartbeats and starts the sweep.
func (c *StatusCache) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.logger.Info("status cache started",
		"sweep_interval", c.config.SweepInterval,
		"offline_threshold", c.config.OfflineThreshold,
	)

	c.Init(ctx)
	if c.bus != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.bus.Listen(ctx, realtime.ChannelHeartbeats, c.Init, c.handleMessage)
		}()
	}

	c.wg.Add(1)
	go c.runSweep(ctx)
}

// Stop cancels the subscription, the sweep and pending pulse reverts.
func (c *StatusCache) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	close(c.stopCh)

	c.mu.Lock()
	for t := range c.timers {
		t.Stop()
	}
	c.timers = make(map[*time.Timer]struct{})
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info("status cache stopped")
}

// Init seeds the table from the most recent events. For each agent the
// newest event wins; agents with no event stay OFFLINE. On failure the
// current table is kept and the error is recorded.
func (c *StatusCache) Init(ctx context.Context) error {
	events, err := c.reader.RecentHeartbeats(ctx, c.config.SeedLimit)
	if err != nil {
		err = fmt.Errorf("seeding status cache: %w", err)
		c.setErr(err)
		c.logger.Error("seed failed, keeping last known state", "error", err)
		return err
	}

	latest := make(map[string]types.HeartbeatEvent, len(types.Roster))
	for _, e := range events {
		if !types.IsKnownAgent(e.AgentID) {
			continue
		}
		if _, seen := latest[e.AgentID]; !seen {
			latest[e.AgentID] = e
		}
	}

	now := c.now()
	next := make(map[string]types.AgentState, len(types.Roster))
	for _, id := range types.Roster {
		if e, ok := latest[id]; ok {
			next[id] = demoteIfStale(types.StateFromEvent(e), now, c.config.OfflineThreshold)
		} else {
			next[id] = types.OfflineState(id)
		}
	}

	c.mu.Lock()
	c.states = next
	for _, id := range types.Roster {
		c.versions[id]++
	}
	c.lastErr = nil
	c.mu.Unlock()

	c.logger.Info("status cache seeded", "events", len(events), "agents_seen", len(latest))
	c.notify()
	return nil
}

// Apply overwrites the agent's state with the event. Arrival order wins.
func (c *StatusCache) Apply(e types.HeartbeatEvent) {
	if !types.IsKnownAgent(e.AgentID) {
		return
	}
	c.replace(e.AgentID, types.StateFromEvent(e))
}

// Sweep demotes every agent that has been silent past the offline
// threshold. It is idempotent and returns how many agents it demoted.
func (c *StatusCache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	var next map[string]types.AgentState
	demoted := 0
	for id, s := range c.states {
		if s.Status == types.StatusOffline || !s.IsStale(now, c.config.OfflineThreshold) {
			continue
		}
		if next == nil {
			next = maps.Clone(c.states)
		}
		next[id] = demoteIfStale(s, now, c.config.OfflineThreshold)
		c.versions[id]++
		demoted++
	}
	if next != nil {
		c.states = next
	}
	c.mu.Unlock()

	if demoted > 0 {
		c.logger.Info("agents demoted to offline", "count", demoted)
		c.notify()
	}
	return demoted
}

// Stabilize writes a NOMINAL heartbeat carrying the stabilization marker.
func (c *StatusCache) Stabilize(ctx context.Context, agentID string) (*types.HeartbeatEvent, error) {
	if c.submitter == nil {
		return nil, fmt.Errorf("stabilize %s: no gateway configured", agentID)
	}
	event, err := c.submitter.IngestHeartbeat(ctx, service.HeartbeatRequest{
		AgentID:  agentID,
		Status:   string(types.StatusNominal),
		Message:  config.StabilizeMessage,
		Metadata: map[string]any{"source": "operator"},
	})
	if err != nil {
		return nil, err
	}
	c.Apply(*event)
	c.logger.Info("agent stabilized", "agent_id", agentID)
	return event, nil
}

// SendPulse shows the agent as PROCESSING straight away, then forwards a
// real heartbeat in the background. After PulseRevertDelay the PROCESSING
// state reverts unless something newer replaced it: to NOMINAL when the
// agent has been seen recently, otherwise to OFFLINE.
func (c *StatusCache) SendPulse(ctx context.Context, agentID string) error {
	if !types.IsKnownAgent(agentID) {
		return fmt.Errorf("%w: %q", types.ErrUnknownAgent, agentID)
	}

	c.mu.Lock()
	current := c.states[agentID]
	current.Status = types.StatusProcessing
	current.Message = "Pulse sent"
	version := c.writeLocked(agentID, current)
	c.scheduleRevertLocked(agentID, version)
	c.mu.Unlock()
	c.notify()

	if c.submitter != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.DefaultHTTPTimeout)
			defer cancel()
			_, err := c.submitter.IngestHeartbeat(fctx, service.HeartbeatRequest{
				AgentID:  agentID,
				Status:   string(types.StatusNominal),
				Message:  config.PulseMessage,
				Metadata: map[string]any{"source": "operator"},
			})
			if err != nil {
				c.logger.Warn("pulse forward failed", "agent_id", agentID, "error", err)
			}
		}()
	}
	return nil
}

func (c *StatusCache) scheduleRevertLocked(agentID string, version uint64) {
	var t *time.Timer
	t = time.AfterFunc(c.config.PulseRevertDelay, func() {
		c.mu.Lock()
		delete(c.timers, t)
		s := c.states[agentID]
		if c.versions[agentID] != version || s.Status != types.StatusProcessing {
			c.mu.Unlock()
			return
		}
		s.Status = revertStatus(s, c.now(), c.config.OfflineThreshold)
		s.Message = ""
		c.writeLocked(agentID, s)
		c.mu.Unlock()
		c.notify()
	})
	c.timers[t] = struct{}{}
}

// Snapshot returns a copy of every agent's state in roster order.
func (c *StatusCache) Snapshot() []types.AgentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// State returns a copy of one agent's state.
func (c *StatusCache) State(agentID string) (types.AgentState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[agentID]
	if !ok {
		return types.AgentState{}, false
	}
	return copyState(s), true
}

// LastError returns the last seed failure, cleared by a successful seed.
func (c *StatusCache) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *StatusCache) runSweep(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

func (c *StatusCache) handleMessage(payload []byte) {
	e, err := realtime.DecodeHeartbeat(payload)
	if err != nil {
		c.logger.Warn("ignoring malformed heartbeat message", "error", err)
		return
	}
	c.Apply(e)
}

func (c *StatusCache) replace(agentID string, s types.AgentState) {
	c.mu.Lock()
	c.writeLocked(agentID, s)
	c.mu.Unlock()
	c.notify()
}

// writeLocked swaps in a new table with s for agentID and returns the
// agent's new version.
func (c *StatusCache) writeLocked(agentID string, s types.AgentState) uint64 {
	next := maps.Clone(c.states)
	next[agentID] = s
	c.states = next
	c.versions[agentID]++
	return c.versions[agentID]
}

func (c *StatusCache) snapshotLocked() []types.AgentState {
	out := make([]types.AgentState, 0, len(types.Roster))
	for _, id := range types.Roster {
		out = append(out, copyState(c.states[id]))
	}
	return out
}

func (c *StatusCache) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	snapshot := c.snapshotLocked()
	observers := c.observers
	c.mu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
}

func (c *StatusCache) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
}

// revertStatus is the status a PROCESSING pulse falls back to.
func revertStatus(s types.AgentState, now time.Time, threshold time.Duration) types.AgentStatus {
	if s.LastSeen == nil || s.IsStale(now, threshold) {
		return types.StatusOffline
	}
	return types.StatusNominal
}

func demoteIfStale(s types.AgentState, now time.Time, threshold time.Duration) types.AgentState {
	if s.IsStale(now, threshold) {
		s.Status = types.StatusOffline
	}
	return s
}

func copyState(s types.AgentState) types.AgentState {
	if s.LastSeen != nil {
		seen := *s.LastSeen
		s.LastSeen = &seen
	}
	if s.Metadata != nil {
		s.Metadata = maps.Clone(s.Metadata)
	}
	return s
}
