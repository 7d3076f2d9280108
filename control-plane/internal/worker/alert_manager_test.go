package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilot-net/agent-pulse/control-plane/internal/config"
	"github.com/pilot-net/agent-pulse/control-plane/internal/metrics"
	"github.com/pilot-net/agent-pulse/control-plane/internal/realtime"
	"github.com/pilot-net/agent-pulse/control-plane/internal/service"
	"github.com/pilot-net/agent-pulse/control-plane/internal/testutil"
	"github.com/pilot-net/agent-pulse/pkg/types"
)

func newTestAlertManager(t *testing.T) (*AlertManager, *testutil.NotificationRecorder, *fakeClock) {
	t.Helper()
	rec := &testutil.NotificationRecorder{}
	clock := newFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	m := NewAlertManager(rec, nil, metrics.New(nil), DefaultAlertManagerConfig(), testutil.NewTestLogger())
	m.now = clock.Now
	return m, rec, clock
}

func heartbeat(agentID string, status types.AgentStatus) types.HeartbeatEvent {
	return testutil.FixtureHeartbeatFor(agentID, status, time.Now().UTC())
}

func TestAlertManagerIgnoresNonAlertableStatuses(t *testing.T) {
	m, rec, _ := newTestAlertManager(t)

	for _, st := range []types.AgentStatus{types.StatusNominal, types.StatusProcessing, types.StatusOffline} {
		_, raised := m.OnHeartbeat(heartbeat("AG-01", st))
		assert.False(t, raised, "status %s", st)
	}
	m.Wait()
	assert.Empty(t, m.Alerts())
	assert.Empty(t, rec.Notifications())
}

func TestAlertManagerDeduplicates(t *testing.T) {
	m, rec, clock := newTestAlertManager(t)

	first, raised := m.OnHeartbeat(heartbeat("AG-02", types.StatusDrift))
	require.True(t, raised)

	clock.Advance(time.Minute)
	_, raised = m.OnHeartbeat(heartbeat("AG-02", types.StatusDrift))
	assert.False(t, raised)
	_, raised = m.OnHeartbeat(heartbeat("AG-02", types.StatusError))
	assert.False(t, raised, "a different alertable status is still deduplicated")

	alerts := m.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, first.Timestamp, alerts[0].Timestamp, "a dropped signal does not touch the timestamp")

	m.Wait()
	assert.Len(t, rec.Notifications(), 1)
}

func TestAlertManagerNotificationContent(t *testing.T) {
	tests := []struct {
		status       types.AgentStatus
		wantSeverity types.AlertSeverity
	}{
		{types.StatusError, types.SeverityCritical},
		{types.StatusDrift, types.SeverityWarning},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			m, rec, _ := newTestAlertManager(t)
			alert, raised := m.OnHeartbeat(heartbeat("AG-05", tt.status))
			require.True(t, raised)
			assert.True(t, strings.HasPrefix(alert.ID, "AG-05-"))

			m.Wait()
			ns := rec.Notifications()
			require.Len(t, ns, 1)
			assert.Equal(t, tt.wantSeverity, ns[0].Severity)
			assert.Equal(t, types.NotificationAlert, ns[0].Kind)
			assert.Equal(t, alert.ID, ns[0].AlertID)
			assert.Contains(t, ns[0].Title, "AG-05")
			assert.Contains(t, ns[0].Title, string(tt.status))
		})
	}
}

func TestAlertManagerNotificationFailureIsSwallowed(t *testing.T) {
	rec := &testutil.NotificationRecorder{Err: errors.New("inbox down")}
	m := NewAlertManager(rec, nil, nil, DefaultAlertManagerConfig(), testutil.NewTestLogger())

	_, raised := m.OnHeartbeat(heartbeat("AG-01", types.StatusError))
	require.True(t, raised)
	m.Wait()

	assert.Len(t, m.Alerts(), 1)
	assert.Error(t, m.LastError())
}

func TestAlertManagerEscalationIsMonotonic(t *testing.T) {
	m, rec, clock := newTestAlertManager(t)
	alert, _ := m.OnHeartbeat(heartbeat("AG-03", types.StatusError))
	m.Wait()

	clock.Advance(config.EscalationThreshold)
	assert.Zero(t, m.Sweep(), "not escalated at exactly the threshold")
	assert.False(t, m.Alerts()[0].Escalated)

	clock.Advance(time.Second)
	assert.Equal(t, 1, m.Sweep())
	assert.True(t, m.Alerts()[0].Escalated)

	for i := 0; i < 3; i++ {
		clock.Advance(config.EscalationSweepInterval)
		assert.Zero(t, m.Sweep())
		assert.True(t, m.Alerts()[0].Escalated)
	}

	require.NoError(t, m.Acknowledge(alert.ID))
	assert.True(t, m.Alerts()[0].Escalated, "acknowledging never clears escalation")

	m.Wait()
	ns := rec.Notifications()
	require.Len(t, ns, 2)
	assert.Equal(t, types.NotificationEscalation, ns[1].Kind)
	assert.Equal(t, types.SeverityEmergency, ns[1].Severity)
	assert.Greater(t, ns[1].Severity.Level(), ns[0].Severity.Level())
	assert.NotEqual(t, ns[0].ID, ns[1].ID)
}

func TestAlertManagerEscalationSkipsAcknowledgedAndDisabled(t *testing.T) {
	m, _, clock := newTestAlertManager(t)
	acked, _ := m.OnHeartbeat(heartbeat("AG-01", types.StatusDrift))
	m.OnHeartbeat(heartbeat("AG-02", types.StatusDrift))
	require.NoError(t, m.Acknowledge(acked.ID))

	m.SetEscalationEnabled(false)
	clock.Advance(time.Hour)
	assert.Zero(t, m.Sweep())

	m.SetEscalationEnabled(true)
	assert.Equal(t, 1, m.Sweep())
	for _, a := range m.Alerts() {
		assert.Equal(t, a.AgentID == "AG-02", a.Escalated, a.AgentID)
	}
}

func TestAlertManagerAcknowledge(t *testing.T) {
	m, _, _ := newTestAlertManager(t)
	assert.ErrorIs(t, m.Acknowledge("missing"), ErrAlertNotFound)

	m.OnHeartbeat(heartbeat("AG-01", types.StatusDrift))
	m.OnHeartbeat(heartbeat("AG-02", types.StatusError))
	assert.Equal(t, 2, m.AcknowledgeAll())
	assert.Zero(t, m.AcknowledgeAll())

	assert.Equal(t, 2, m.ClearResolved())
	assert.Empty(t, m.Alerts())
}

func TestAlertManagerClearResolvedKeepsOpenAlerts(t *testing.T) {
	m, _, _ := newTestAlertManager(t)
	a, _ := m.OnHeartbeat(heartbeat("AG-01", types.StatusDrift))
	m.OnHeartbeat(heartbeat("AG-02", types.StatusDrift))
	require.NoError(t, m.Acknowledge(a.ID))

	assert.Equal(t, 1, m.ClearResolved())
	alerts := m.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "AG-02", alerts[0].AgentID)
}

func TestAlertManagerCapsWorkingSet(t *testing.T) {
	m, _, clock := newTestAlertManager(t)
	for i := 0; i < config.MaxAlerts+10; i++ {
		a, raised := m.OnHeartbeat(heartbeat("AG-01", types.StatusDrift))
		require.True(t, raised)
		require.NoError(t, m.Acknowledge(a.ID))
		clock.Advance(time.Second)
	}
	alerts := m.Alerts()
	require.Len(t, alerts, config.MaxAlerts)
	assert.True(t, alerts[0].Timestamp.After(alerts[len(alerts)-1].Timestamp), "newest first")
}

func TestAlertManagerObserveStatesReactsToTransitions(t *testing.T) {
	m, _, _ := newTestAlertManager(t)
	states := func(st types.AgentStatus) []types.AgentState {
		return []types.AgentState{testutil.FixtureState(func(s *types.AgentState) {
			s.AgentID = "AG-04"
			s.Status = st
		})}
	}

	m.ObserveStates(states(types.StatusOffline))
	assert.Empty(t, m.Alerts(), "OFFLINE is not alert-worthy")

	m.ObserveStates(states(types.StatusError))
	require.Len(t, m.Alerts(), 1)
	require.NoError(t, m.Acknowledge(m.Alerts()[0].ID))

	m.ObserveStates(states(types.StatusError))
	assert.Len(t, m.Alerts(), 1, "an unchanged status does not re-alert")

	m.ObserveStates(states(types.StatusNominal))
	m.ObserveStates(states(types.StatusDrift))
	assert.Len(t, m.Alerts(), 2)
}

// Scenario B and C: a repeated ERROR yields one alert; after acknowledgement
// a DRIFT raises a new one.
func TestScenarioErrorAlertLifecycle(t *testing.T) {
	store := testutil.NewEventStore()
	bus := realtime.NewMemoryBus()
	gateway := service.NewGateway(store, nil, bus, nil, testutil.NewTestLogger())
	rec := &testutil.NotificationRecorder{}
	m := NewAlertManager(rec, bus, nil, DefaultAlertManagerConfig(), testutil.NewTestLogger())
	m.Start(context.Background())
	defer m.Stop()
	require.Eventually(t, func() bool { return bus.Listeners(realtime.ChannelHeartbeats) == 1 }, time.Second, 5*time.Millisecond)

	ingest := func(status string) {
		_, err := gateway.IngestHeartbeat(context.Background(), service.HeartbeatRequest{AgentID: "AG-03", Status: status})
		require.NoError(t, err)
	}

	ingest("ERROR")
	require.Eventually(t, func() bool { return len(m.Alerts()) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.Notifications()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, types.SeverityCritical, rec.Notifications()[0].Severity)

	ingest("ERROR")
	time.Sleep(50 * time.Millisecond)
	open := 0
	for _, a := range m.Alerts() {
		if !a.Acknowledged {
			open++
		}
	}
	assert.Equal(t, 1, open)
	assert.Len(t, m.Alerts(), 1)

	require.NoError(t, m.Acknowledge(m.Alerts()[0].ID))
	ingest("DRIFT")
	require.Eventually(t, func() bool { return len(m.Alerts()) == 2 }, time.Second, 5*time.Millisecond)
	newest := m.Alerts()[0]
	assert.Equal(t, types.StatusDrift, newest.Status)
	assert.False(t, newest.Acknowledged)
}

func TestAlertManagerObserversSeeWritesInOrder(t *testing.T) {
	m, _, _ := newTestAlertManager(t)

	var (
		mu   sync.Mutex
		last []types.Alert
	)
	m.OnChange(func(a []types.Alert) {
		mu.Lock()
		defer mu.Unlock()
		last = a
	})

	var wg sync.WaitGroup
	for _, id := range types.Roster {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alert, raised := m.OnHeartbeat(heartbeat(id, types.StatusError))
			if assert.True(t, raised) {
				assert.NoError(t, m.Acknowledge(alert.ID))
			}
		}()
	}
	wg.Wait()
	m.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, last, len(types.Roster))
	assert.Equal(t, m.Alerts(), last)
}
