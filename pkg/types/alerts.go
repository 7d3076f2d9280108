// Package types - Alerts and notifications
//
// # Alerting Design
//
// An alert is raised when an agent enters DRIFT or ERROR. Each agent has at
// most one unacknowledged alert at a time; further signals for that agent
// are dropped until an operator acknowledges it.
//
// Every new alert is mirrored into the notification inbox:
//
//	DRIFT  -> warning
//	ERROR  -> critical
//
// Alerts left unacknowledged past the escalation threshold are escalated
// once, which emits a second notification one severity level higher.
package types

import (
	"fmt"
	"time"
)

// =============================================================================
// ALERT
// =============================================================================

// Alert is a raised DRIFT/ERROR condition for one agent.
type Alert struct {
	ID           string      `json:"id"`
	AgentID      string      `json:"agent_id"`
	Status       AgentStatus `json:"status"`
	Message      string      `json:"message"`
	Timestamp    time.Time   `json:"timestamp"`
	Escalated    bool        `json:"escalated"`
	Acknowledged bool        `json:"acknowledged"`
}

// Severity returns the notification severity for the alert.
func (a Alert) Severity() AlertSeverity {
	return SeverityForStatus(a.Status)
}

// Age returns how long the alert has been open.
func (a Alert) Age(now time.Time) time.Duration {
	return now.Sub(a.Timestamp)
}

// =============================================================================
// SEVERITY
// =============================================================================

// AlertSeverity classifies notifications pushed to the inbox.
type AlertSeverity string

const (
	SeverityInfo      AlertSeverity = "info"
	SeverityWarning   AlertSeverity = "warning"
	SeverityCritical  AlertSeverity = "critical"
	SeverityEmergency AlertSeverity = "emergency"
)

// SeverityForStatus maps an alertable status to its initial severity.
func SeverityForStatus(s AgentStatus) AlertSeverity {
	switch s {
	case StatusError:
		return SeverityCritical
	case StatusDrift:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Level returns a numeric level for comparing severities.
func (s AlertSeverity) Level() int {
	switch s {
	case SeverityEmergency:
		return 4
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Escalate returns the next severity up. Emergency is the ceiling.
func (s AlertSeverity) Escalate() AlertSeverity {
	switch s {
	case SeverityInfo:
		return SeverityWarning
	case SeverityWarning:
		return SeverityCritical
	default:
		return SeverityEmergency
	}
}

// =============================================================================
// NOTIFICATION
// =============================================================================

// NotificationKind distinguishes the first notification of an alert from
// its escalation.
type NotificationKind string

const (
	NotificationAlert      NotificationKind = "alert"
	NotificationEscalation NotificationKind = "escalation"
)

// Notification is a message pushed to the external inbox.
type Notification struct {
	ID        string           `json:"id"`
	AlertID   string           `json:"alert_id"`
	AgentID   string           `json:"agent_id"`
	Kind      NotificationKind `json:"kind"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Severity  AlertSeverity    `json:"severity"`
	CreatedAt time.Time        `json:"created_at"`
}

// AlertTitle is the inbox title for a newly raised alert.
func AlertTitle(a Alert) string {
	return fmt.Sprintf("%s entered %s", a.AgentID, a.Status)
}

// EscalationTitle is the inbox title for an escalated alert.
func EscalationTitle(a Alert) string {
	return fmt.Sprintf("ESCALATED: %s unresolved in %s", a.AgentID, a.Status)
}
