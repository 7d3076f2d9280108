// Package testutil provides testing utilities and fixtures for the control plane.
//
// This package contains:
//   - Test loggers
//   - Fixture factories for heartbeats, agent states and alerts
//   - In-memory fakes for the store, the notification sink and the audit log
//
// # Usage
//
// Fixtures use functional options for customization:
//
//	event := testutil.FixtureHeartbeat()
//	event := testutil.FixtureHeartbeat(func(e *types.HeartbeatEvent) {
//		e.AgentID = "AG-03"
//		e.Status = types.StatusError
//	})
package testutil

import (
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pilot-net/agent-pulse/pkg/types"
)

// NewTestLogger returns a logger that discards all output.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// HEARTBEAT FIXTURES
// =============================================================================

// FixtureHeartbeat creates a persisted-looking NOMINAL heartbeat for AG-01.
func FixtureHeartbeat(overrides ...func(*types.HeartbeatEvent)) types.HeartbeatEvent {
	e := types.HeartbeatEvent{
		ID:        1,
		AgentID:   "AG-01",
		Status:    types.StatusNominal,
		Message:   "all systems nominal",
		Metadata:  map[string]any{"source": "test"},
		CreatedAt: time.Now().UTC(),
	}
	for _, override := range overrides {
		override(&e)
	}
	return e
}

// FixtureHeartbeatFor creates a heartbeat for agentID with status at t.
func FixtureHeartbeatFor(agentID string, status types.AgentStatus, t time.Time, overrides ...func(*types.HeartbeatEvent)) types.HeartbeatEvent {
	return FixtureHeartbeat(append([]func(*types.HeartbeatEvent){
		func(e *types.HeartbeatEvent) {
			e.AgentID = agentID
			e.Status = status
			e.CreatedAt = t
		},
	}, overrides...)...)
}

// =============================================================================
// STATE AND ALERT FIXTURES
// =============================================================================

// FixtureState creates a NOMINAL agent state last seen a minute ago.
func FixtureState(overrides ...func(*types.AgentState)) types.AgentState {
	seen := time.Now().Add(-time.Minute)
	s := types.AgentState{
		AgentID:  "AG-01",
		Status:   types.StatusNominal,
		LastSeen: &seen,
	}
	for _, override := range overrides {
		override(&s)
	}
	return s
}

// FixtureAlert creates an open, unescalated DRIFT alert.
func FixtureAlert(overrides ...func(*types.Alert)) types.Alert {
	a := types.Alert{
		ID:        "AG-01-" + uuid.New().String()[:8],
		AgentID:   "AG-01",
		Status:    types.StatusDrift,
		Message:   "drift detected",
		Timestamp: time.Now().UTC(),
	}
	for _, override := range overrides {
		override(&a)
	}
	return a
}

// =============================================================================
// HELPERS
// =============================================================================

// TimeAgo returns a time d before now.
func TimeAgo(d time.Duration) time.Time {
	return time.Now().Add(-d)
}
