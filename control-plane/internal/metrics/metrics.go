// Package metrics exposes Prometheus instruments and a process health
// collector for the control plane.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pilot-net/agent-pulse/pkg/types"
)

// Metrics holds the control plane instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	HeartbeatsIngested   *prometheus.CounterVec
	HeartbeatsRejected   *prometheus.CounterVec
	AuditFailures        prometheus.Counter
	AlertsCreated        *prometheus.CounterVec
	AlertsEscalated      prometheus.Counter
	NotificationFailures *prometheus.CounterVec
	AgentStatus          *prometheus.GaugeVec
	AuditBufferDepth     prometheus.Gauge
	StreamClients        prometheus.Gauge
}

// New registers the instruments on reg. A nil reg uses a private registry
// that is never scraped.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		HeartbeatsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_heartbeats_ingested_total",
			Help: "Heartbeats accepted by the ingestion gateway.",
		}, []string{"agent_id", "status"}),

		HeartbeatsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_heartbeats_rejected_total",
			Help: "Heartbeats rejected before any write, by reason.",
		}, []string{"reason"}),

		AuditFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "pulse_audit_failures_total",
			Help: "Audit log records that could not be written.",
		}),

		AlertsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_alerts_created_total",
			Help: "Alerts raised, by agent status.",
		}, []string{"status"}),

		AlertsEscalated: f.NewCounter(prometheus.CounterOpts{
			Name: "pulse_alerts_escalated_total",
			Help: "Alerts escalated after staying unacknowledged past the threshold.",
		}),

		NotificationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_notification_failures_total",
			Help: "Notification pushes that failed, by sink.",
		}, []string{"sink"}),

		AgentStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pulse_agent_status",
			Help: "Derived agent status (1 for the current status, 0 otherwise).",
		}, []string{"agent_id", "status"}),

		AuditBufferDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_audit_buffer_depth",
			Help: "Audit records waiting in the Redis buffer.",
		}),

		StreamClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_stream_clients",
			Help: "Connected dashboard stream clients.",
		}),
	}
}

var allStatuses = []types.AgentStatus{
	types.StatusNominal, types.StatusProcessing, types.StatusDrift, types.StatusError, types.StatusOffline,
}

// ObserveIngested counts an accepted heartbeat.
func (m *Metrics) ObserveIngested(agentID string, status types.AgentStatus) {
	if m == nil {
		return
	}
	m.HeartbeatsIngested.WithLabelValues(agentID, string(status)).Inc()
}

// ObserveRejected counts a rejected heartbeat.
func (m *Metrics) ObserveRejected(reason string) {
	if m == nil {
		return
	}
	m.HeartbeatsRejected.WithLabelValues(reason).Inc()
}

// ObserveAuditFailure counts a lost audit record.
func (m *Metrics) ObserveAuditFailure() {
	if m == nil {
		return
	}
	m.AuditFailures.Inc()
}

// ObserveAlert counts a newly raised alert.
func (m *Metrics) ObserveAlert(status types.AgentStatus) {
	if m == nil {
		return
	}
	m.AlertsCreated.WithLabelValues(string(status)).Inc()
}

// ObserveEscalation counts an escalated alert.
func (m *Metrics) ObserveEscalation() {
	if m == nil {
		return
	}
	m.AlertsEscalated.Inc()
}

// ObserveNotificationFailure counts a failed push to sink.
func (m *Metrics) ObserveNotificationFailure(sink string) {
	if m == nil {
		return
	}
	m.NotificationFailures.WithLabelValues(sink).Inc()
}

// SetAgentStates publishes the derived state of every agent.
func (m *Metrics) SetAgentStates(states []types.AgentState) {
	if m == nil {
		return
	}
	for _, s := range states {
		for _, st := range allStatuses {
			v := 0.0
			if s.Status == st {
				v = 1
			}
			m.AgentStatus.WithLabelValues(s.AgentID, string(st)).Set(v)
		}
	}
}

// SetAuditBufferDepth records the audit buffer backlog.
func (m *Metrics) SetAuditBufferDepth(n int64) {
	if m == nil {
		return
	}
	m.AuditBufferDepth.Set(float64(n))
}

// SetStreamClients records connected stream clients.
func (m *Metrics) SetStreamClients(n int) {
	if m == nil {
		return
	}
	m.StreamClients.Set(float64(n))
}
