// Package types defines the core domain types shared between the agent emitter
// and the control plane.
//
// # Design Principles
//
// 1. Simplicity: Types represent the domain model directly, no ORM abstractions
// 2. Serialization: All types are JSON-serializable for API transport
// 3. Immutability: Prefer value types; mutations create new instances
// 4. Validation: Types include Validate() methods for business rule enforcement
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common validation errors.
var (
	ErrUnknownAgent  = errors.New("unknown agent")
	ErrInvalidStatus = errors.New("invalid status")
	ErrInvalidMode   = errors.New("invalid operational mode")
)

// =============================================================================
// ROSTER
// =============================================================================

// Roster is the fixed set of agents allowed to report heartbeats.
// Order is stable and is used for every listing the API returns.
var Roster = []string{
	"AG-01",
	"AG-02",
	"AG-03",
	"AG-04",
	"AG-05",
	"AG-06",
	"AG-07",
}

var rosterSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Roster))
	for _, id := range Roster {
		m[id] = struct{}{}
	}
	return m
}()

// IsKnownAgent reports whether id belongs to the roster.
func IsKnownAgent(id string) bool {
	_, ok := rosterSet[id]
	return ok
}

// =============================================================================
// STATUS
// =============================================================================

// AgentStatus is the operational status of an agent.
//
// NOMINAL, PROCESSING, DRIFT and ERROR can be reported by agents.
// OFFLINE is derived by the control plane and is never accepted at ingestion.
type AgentStatus string

const (
	StatusNominal    AgentStatus = "NOMINAL"
	StatusProcessing AgentStatus = "PROCESSING"
	StatusDrift      AgentStatus = "DRIFT"
	StatusError      AgentStatus = "ERROR"
	StatusOffline    AgentStatus = "OFFLINE"
)

// ParseIngestStatus validates a status submitted with a heartbeat.
// An empty value defaults to NOMINAL. Matching is exact: the ingestion
// contract accepts only the upper-case names.
func ParseIngestStatus(s string) (AgentStatus, error) {
	if s == "" {
		return StatusNominal, nil
	}
	switch st := AgentStatus(s); st {
	case StatusNominal, StatusProcessing, StatusDrift, StatusError:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// NormalizeStatus maps a stored status onto the derived status set.
// Comparison is case-insensitive; anything outside the four ingestion
// statuses becomes NOMINAL.
func NormalizeStatus(s string) AgentStatus {
	switch st := AgentStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusNominal, StatusProcessing, StatusDrift, StatusError:
		return st
	}
	return StatusNominal
}

// IsAlertable reports whether the status should raise an alert.
func (s AgentStatus) IsAlertable() bool {
	return s == StatusDrift || s == StatusError
}

// =============================================================================
// HEARTBEAT EVENT
// =============================================================================

// HeartbeatEvent is a single health signal persisted in the event store.
// Events are append-only and never updated once written.
type HeartbeatEvent struct {
	ID        int64          `json:"id"`
	AgentID   string         `json:"agent_id"`
	Status    AgentStatus    `json:"status"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Source returns the metadata "source" tag, or "" when absent.
func (e HeartbeatEvent) Source() string {
	if e.Metadata == nil {
		return ""
	}
	if s, ok := e.Metadata["source"].(string); ok {
		return s
	}
	return ""
}

// Validate checks the event against the roster and the ingestion statuses.
func (e HeartbeatEvent) Validate() error {
	if !IsKnownAgent(e.AgentID) {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, e.AgentID)
	}
	if _, err := ParseIngestStatus(string(e.Status)); err != nil {
		return err
	}
	return nil
}

// =============================================================================
// AGENT STATE
// =============================================================================

// AgentState is the derived, in-memory view of one agent.
// It is recomputed from heartbeat events and never persisted.
type AgentState struct {
	AgentID  string         `json:"agent_id"`
	Status   AgentStatus    `json:"status"`
	Message  string         `json:"message"`
	LastSeen *time.Time     `json:"last_seen"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Source   string         `json:"source,omitempty"`
}

// OfflineState is the initial state of an agent that has never been seen.
func OfflineState(agentID string) AgentState {
	return AgentState{
		AgentID: agentID,
		Status:  StatusOffline,
	}
}

// StateFromEvent derives the agent state carried by a heartbeat event.
func StateFromEvent(e HeartbeatEvent) AgentState {
	seen := e.CreatedAt
	return AgentState{
		AgentID:  e.AgentID,
		Status:   NormalizeStatus(string(e.Status)),
		Message:  e.Message,
		LastSeen: &seen,
		Metadata: e.Metadata,
		Source:   e.Source(),
	}
}

// IsStale reports whether the agent has been silent for longer than threshold.
// Agents that have never been seen are not stale; they are already OFFLINE.
func (s AgentState) IsStale(now time.Time, threshold time.Duration) bool {
	return s.LastSeen != nil && now.Sub(*s.LastSeen) > threshold
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// LogLevel is the severity of an audit record.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// SystemLog is a structured audit record. The ingestion gateway writes one
// per accepted heartbeat; losing one never affects the heartbeat itself.
type SystemLog struct {
	Level     LogLevel       `json:"level"`
	Source    string         `json:"source"`
	AgentID   string         `json:"agent_id,omitempty"`
	Status    AgentStatus    `json:"status,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// HeartbeatAuditLog builds the audit record for an accepted heartbeat.
func HeartbeatAuditLog(e HeartbeatEvent) SystemLog {
	level := LogLevelInfo
	switch e.Status {
	case StatusDrift:
		level = LogLevelWarn
	case StatusError:
		level = LogLevelError
	}
	return SystemLog{
		Level:     level,
		Source:    "heartbeat",
		AgentID:   e.AgentID,
		Status:    e.Status,
		Message:   fmt.Sprintf("heartbeat %s from %s", e.Status, e.AgentID),
		Details:   map[string]any{"event_id": e.ID},
		CreatedAt: e.CreatedAt,
	}
}
