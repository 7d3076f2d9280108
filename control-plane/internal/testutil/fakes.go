package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pilot-net/agent-pulse/pkg/types"
)

// =============================================================================
// EVENT STORE
// =============================================================================

// EventStore is an in-memory heartbeat store. Set Err to make every call fail.
type EventStore struct {
	mu     sync.Mutex
	events []types.HeartbeatEvent
	nextID int64

	// Now assigns CreatedAt on insert. Defaults to time.Now.
	Now func() time.Time
	Err error
}

// NewEventStore creates a store preloaded with events.
func NewEventStore(events ...types.HeartbeatEvent) *EventStore {
	s := &EventStore{}
	s.Add(events...)
	return s
}

// SetErr sets or clears the injected failure.
func (s *EventStore) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

// Add stores events as given, assigning IDs only where missing.
func (s *EventStore) Add(events ...types.HeartbeatEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.nextID++
		if e.ID == 0 {
			e.ID = s.nextID
		}
		s.events = append(s.events, e)
	}
}

// InsertHeartbeat appends e and assigns ID and CreatedAt.
func (s *EventStore) InsertHeartbeat(_ context.Context, e *types.HeartbeatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.nextID++
	e.ID = s.nextID
	if s.Now != nil {
		e.CreatedAt = s.Now()
	} else {
		e.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, *e)
	return nil
}

// RecentHeartbeats returns up to limit events, newest first.
func (s *EventStore) RecentHeartbeats(_ context.Context, limit int) ([]types.HeartbeatEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := s.sorted(false)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// HeartbeatsSince returns up to limit events created at or after since.
func (s *EventStore) HeartbeatsSince(_ context.Context, since time.Time, limit int, ascending bool) ([]types.HeartbeatEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []types.HeartbeatEvent
	for _, e := range s.sorted(ascending) {
		if !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Events returns every stored event in insertion order.
func (s *EventStore) Events() []types.HeartbeatEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.HeartbeatEvent(nil), s.events...)
}

func (s *EventStore) sorted(ascending bool) []types.HeartbeatEvent {
	out := append([]types.HeartbeatEvent(nil), s.events...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			if ascending {
				return out[i].CreatedAt.Before(out[j].CreatedAt)
			}
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		if ascending {
			return out[i].ID < out[j].ID
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// =============================================================================
// MODE STORE
// =============================================================================

// ModeStore is an in-memory singleton mode record.
type ModeStore struct {
	mu     sync.Mutex
	cfg    *types.ModeConfig
	writes int

	Err error
}

// NewModeStore creates a store holding mode.
func NewModeStore(mode types.OperationalMode) *ModeStore {
	return &ModeStore{cfg: &types.ModeConfig{Mode: mode, UpdatedAt: time.Now().UTC(), UpdatedBy: "system"}}
}

// SetErr sets or clears the injected failure.
func (s *ModeStore) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

// GetModeConfig returns the stored record.
func (s *ModeStore) GetModeConfig(context.Context) (*types.ModeConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if s.cfg == nil {
		return nil, nil
	}
	cfg := *s.cfg
	return &cfg, nil
}

// SetModeConfig replaces the stored record.
func (s *ModeStore) SetModeConfig(_ context.Context, mode types.OperationalMode, updatedBy string) (*types.ModeConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	s.writes++
	s.cfg = &types.ModeConfig{Mode: mode, UpdatedAt: time.Now().UTC(), UpdatedBy: updatedBy}
	cfg := *s.cfg
	return &cfg, nil
}

// Writes returns how many successful writes were made.
func (s *ModeStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// =============================================================================
// NOTIFICATIONS AND AUDIT
// =============================================================================

// NotificationRecorder captures pushed notifications.
type NotificationRecorder struct {
	mu    sync.Mutex
	items []types.Notification

	Err error
}

// Notify records n.
func (r *NotificationRecorder) Notify(_ context.Context, n types.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.items = append(r.items, n)
	return nil
}

// Name identifies the recorder in logs and metrics.
func (r *NotificationRecorder) Name() string { return "recorder" }

// Notifications returns a copy of what was recorded.
func (r *NotificationRecorder) Notifications() []types.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Notification(nil), r.items...)
}

// AuditRecorder captures audit records. Set Err to make writes fail.
type AuditRecorder struct {
	mu   sync.Mutex
	logs []types.SystemLog

	Err error
}

// WriteAudit records l.
func (r *AuditRecorder) WriteAudit(_ context.Context, l types.SystemLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.logs = append(r.logs, l)
	return nil
}

// Logs returns a copy of what was recorded.
func (r *AuditRecorder) Logs() []types.SystemLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.SystemLog(nil), r.logs...)
}
