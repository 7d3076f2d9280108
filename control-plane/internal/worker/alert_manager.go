package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pilot-net/agent-pulse/control-plane/internal/config"
	"github.com/pilot-net/agent-pulse/control-plane/internal/metrics"
	"github.com/pilot-net/agent-pulse/control-plane/internal/realtime"
	"github.com/pilot-net/agent-pulse/pkg/types"
)

// ErrAlertNotFound is returned when acknowledging an unknown alert id.
var ErrAlertNotFound = errors.New("alert not found")

// Notifier pushes notifications to the operator inbox.
type Notifier interface {
	Notify(ctx context.Context, n types.Notification) error
}

// AlertManagerConfig holds configuration for the alert manager.
type AlertManagerConfig struct {
	// SweepInterval between escalation checks.
	SweepInterval time.Duration

	// EscalationThreshold is how long an alert may stay unacknowledged.
	EscalationThreshold time.Duration

	// MaxAlerts caps the working set; the most recent alerts are kept.
	MaxAlerts int

	// NotificationTimeout bounds one detached notification push.
	NotificationTimeout time.Duration

	// EscalationEnabled is the initial state of the escalation switch.
	EscalationEnabled bool
}

// DefaultAlertManagerConfig returns the production defaults.
func DefaultAlertManagerConfig() AlertManagerConfig {
	return AlertManagerConfig{
		SweepInterval:       config.EscalationSweepInterval,
		EscalationThreshold: config.EscalationThreshold,
		MaxAlerts:           config.MaxAlerts,
		NotificationTimeout: config.NotificationTimeout,
		EscalationEnabled:   true,
	}
}

// AlertManager raises, deduplicates and escalates alerts for agents in
// DRIFT or ERROR.
//
// Two inputs feed it: heartbeat events from the realtime channel, and state
// snapshots from the status cache. The snapshot path only reacts when an
// agent's status changes into DRIFT or ERROR, so an agent that stays in
// ERROR after its alert is acknowledged does not re-alert until a new
// heartbeat says so.
//
// The alert list is newest first and replaced as a whole on every change.
type AlertManager struct {
	notifier Notifier
	bus      realtime.Bus
	metrics  *metrics.Metrics
	config   AlertManagerConfig
	logger   *slog.Logger
	now      func() time.Time

	mu                sync.Mutex
	alerts            []types.Alert
	observed          map[string]types.AgentStatus
	escalationEnabled bool
	lastErr           error
	observers         []func([]types.Alert)

	notifyMu sync.Mutex

	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewAlertManager creates an alert manager. notifier and bus may be nil.
func NewAlertManager(notifier Notifier, bus realtime.Bus, m *metrics.Metrics, cfg AlertManagerConfig, logger *slog.Logger) *AlertManager {
	return &AlertManager{
		notifier:          notifier,
		bus:               bus,
		metrics:           m,
		config:            cfg,
		logger:            logger.With("component", "alert_manager"),
		now:               time.Now,
		observed:          make(map[string]types.AgentStatus),
		escalationEnabled: cfg.EscalationEnabled,
		stopCh:            make(chan struct{}),
	}
}

// OnChange registers fn to receive the alert list after every change.
func (m *AlertManager) OnChange(fn func([]types.Alert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Start subscribes to heartbeats and starts the escalation sweep.
func (m *AlertManager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.logger.Info("alert manager started",
		"sweep_interval", m.config.SweepInterval,
		"escalation_threshold", m.config.EscalationThreshold,
		"escalation_enabled", m.EscalationEnabled(),
	)

	if m.bus != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.bus.Listen(ctx, realtime.ChannelHeartbeats, nil, m.handleMessage)
		}()
	}

	m.wg.Add(1)
	go m.runSweep(ctx)
}

// Stop cancels the subscription and the sweep, then waits for detached
// notification pushes to finish.
func (m *AlertManager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info("alert manager stopped")
}

// OnHeartbeat raises an alert for a DRIFT or ERROR event.
func (m *AlertManager) OnHeartbeat(e types.HeartbeatEvent) (types.Alert, bool) {
	status := types.NormalizeStatus(string(e.Status))
	if !status.IsAlertable() {
		return types.Alert{}, false
	}
	return m.raise(e.AgentID, status, e.Message)
}

// ObserveStates raises alerts for agents whose derived status has just
// changed into DRIFT or ERROR. OFFLINE is not alert-worthy.
func (m *AlertManager) ObserveStates(states []types.AgentState) {
	var entered []types.AgentState

	m.mu.Lock()
	for _, s := range states {
		prev, seen := m.observed[s.AgentID]
		m.observed[s.AgentID] = s.Status
		if s.Status.IsAlertable() && (!seen || prev != s.Status) {
			entered = append(entered, s)
		}
	}
	m.mu.Unlock()

	for _, s := range entered {
		m.raise(s.AgentID, s.Status, s.Message)
	}
}

// raise creates an alert unless the agent already has an unacknowledged one.
func (m *AlertManager) raise(agentID string, status types.AgentStatus, message string) (types.Alert, bool) {
	now := m.now().UTC()

	m.mu.Lock()
	for _, a := range m.alerts {
		if a.AgentID == agentID && !a.Acknowledged {
			m.mu.Unlock()
			return types.Alert{}, false
		}
	}

	alert := types.Alert{
		ID:        newAlertID(agentID, now),
		AgentID:   agentID,
		Status:    status,
		Message:   message,
		Timestamp: now,
	}
	next := make([]types.Alert, 0, min(len(m.alerts)+1, m.config.MaxAlerts))
	next = append(next, alert)
	next = append(next, m.alerts...)
	if len(next) > m.config.MaxAlerts {
		next = next[:m.config.MaxAlerts]
	}
	m.alerts = next
	m.mu.Unlock()

	m.metrics.ObserveAlert(status)
	m.logger.Warn("alert raised", "alert_id", alert.ID, "agent_id", agentID, "status", status)

	m.push(types.Notification{
		ID:        uuid.New().String(),
		AlertID:   alert.ID,
		AgentID:   agentID,
		Kind:      types.NotificationAlert,
		Title:     types.AlertTitle(alert),
		Message:   message,
		Severity:  alert.Severity(),
		CreatedAt: now,
	})
	m.notify()
	return alert, true
}

// Sweep escalates every open, unescalated alert older than the threshold.
// It does nothing while escalation is disabled and returns how many alerts
// it escalated.
func (m *AlertManager) Sweep() int {
	now := m.now().UTC()

	m.mu.Lock()
	if !m.escalationEnabled {
		m.mu.Unlock()
		return 0
	}
	var escalated []types.Alert
	next := slices.Clone(m.alerts)
	for i, a := range next {
		if a.Acknowledged || a.Escalated || a.Age(now) <= m.config.EscalationThreshold {
			continue
		}
		next[i].Escalated = true
		escalated = append(escalated, next[i])
	}
	if len(escalated) > 0 {
		m.alerts = next
	}
	m.mu.Unlock()

	for _, a := range escalated {
		m.metrics.ObserveEscalation()
		m.logger.Warn("alert escalated", "alert_id", a.ID, "agent_id", a.AgentID, "age", a.Age(now).Round(time.Second))
		m.push(types.Notification{
			ID:        uuid.New().String(),
			AlertID:   a.ID,
			AgentID:   a.AgentID,
			Kind:      types.NotificationEscalation,
			Title:     types.EscalationTitle(a),
			Message:   fmt.Sprintf("Unacknowledged for %s: %s", a.Age(now).Round(time.Minute), a.Message),
			Severity:  a.Severity().Escalate(),
			CreatedAt: now,
		})
	}
	if len(escalated) > 0 {
		m.notify()
	}
	return len(escalated)
}

// Acknowledge marks one alert acknowledged.
func (m *AlertManager) Acknowledge(id string) error {
	m.mu.Lock()
	idx := slices.IndexFunc(m.alerts, func(a types.Alert) bool { return a.ID == id })
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	if m.alerts[idx].Acknowledged {
		m.mu.Unlock()
		return nil
	}
	next := slices.Clone(m.alerts)
	next[idx].Acknowledged = true
	m.alerts = next
	m.mu.Unlock()

	m.logger.Info("alert acknowledged", "alert_id", id)
	m.notify()
	return nil
}

// AcknowledgeAll marks every alert acknowledged and returns how many
// changed.
func (m *AlertManager) AcknowledgeAll() int {
	m.mu.Lock()
	next := slices.Clone(m.alerts)
	changed := 0
	for i := range next {
		if !next[i].Acknowledged {
			next[i].Acknowledged = true
			changed++
		}
	}
	if changed > 0 {
		m.alerts = next
	}
	m.mu.Unlock()

	if changed > 0 {
		m.logger.Info("alerts acknowledged", "count", changed)
		m.notify()
	}
	return changed
}

// ClearResolved removes acknowledged alerts from the working set and
// returns how many were removed. The event log is untouched.
func (m *AlertManager) ClearResolved() int {
	m.mu.Lock()
	next := slices.DeleteFunc(slices.Clone(m.alerts), func(a types.Alert) bool { return a.Acknowledged })
	removed := len(m.alerts) - len(next)
	if removed > 0 {
		m.alerts = next
	}
	m.mu.Unlock()

	if removed > 0 {
		m.notify()
	}
	return removed
}

// Alerts returns a copy of the working set, newest first.
func (m *AlertManager) Alerts() []types.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.alerts)
}

// SetEscalationEnabled toggles the escalation sweep.
func (m *AlertManager) SetEscalationEnabled(enabled bool) {
	m.mu.Lock()
	m.escalationEnabled = enabled
	m.mu.Unlock()
	m.logger.Info("escalation toggled", "enabled", enabled)
}

// EscalationEnabled reports whether the escalation sweep is active.
func (m *AlertManager) EscalationEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.escalationEnabled
}

// LastError returns the last notification push failure.
func (m *AlertManager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Wait blocks until detached notification pushes have finished.
func (m *AlertManager) Wait() {
	m.wg.Wait()
}

func (m *AlertManager) runSweep(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *AlertManager) handleMessage(payload []byte) {
	e, err := realtime.DecodeHeartbeat(payload)
	if err != nil {
		m.logger.Warn("ignoring malformed heartbeat message", "error", err)
		return
	}
	m.OnHeartbeat(e)
}

// push sends n on a detached goroutine. Failures are logged and recorded,
// never returned.
func (m *AlertManager) push(n types.Notification) {
	if m.notifier == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.config.NotificationTimeout)
		defer cancel()
		if err := m.notifier.Notify(ctx, n); err != nil {
			m.mu.Lock()
			m.lastErr = err
			m.mu.Unlock()
			m.logger.Warn("notification push failed", "alert_id", n.AlertID, "kind", n.Kind, "error", err)
		}
	}()
}

func (m *AlertManager) notify() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	alerts := slices.Clone(m.alerts)
	observers := m.observers
	m.mu.Unlock()

	for _, fn := range observers {
		fn(alerts)
	}
}

// newAlertID combines the agent, the creation time and a random suffix.
// Uniqueness is best-effort.
func newAlertID(agentID string, at time.Time) string {
	return fmt.Sprintf("%s-%d-%s", agentID, at.UnixMilli(), uuid.New().String()[:8])
}
