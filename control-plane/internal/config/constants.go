// Package config provides configuration for the control plane.
//
// constants.go centralizes the timing thresholds and caps that drive state
// derivation, alerting and telemetry, so they are easy to find and test.
package config

import "time"

// Agent liveness thresholds.
const (
	// OfflineThreshold - an agent whose last heartbeat is older than this is
	// demoted to OFFLINE by the staleness sweep.
	OfflineThreshold = 4 * time.Hour

	// StalenessSweepInterval is how often the status cache re-evaluates
	// liveness independently of new events.
	StalenessSweepInterval = 30 * time.Second

	// StatusSeedLimit is how many recent events are read when the status
	// cache starts or reconnects.
	StatusSeedLimit = 50

	// PulseRevertDelay is how long an optimistic PROCESSING pulse stays
	// visible before it reverts to NOMINAL.
	PulseRevertDelay = 3 * time.Second

	// StabilizeMessage marks heartbeats written by the stabilize action.
	StabilizeMessage = "Manual stabilization override"

	// PulseMessage marks heartbeats forwarded by the pulse action.
	PulseMessage = "Manual pulse"
)

// Alerting configuration.
const (
	// EscalationThreshold is how long an alert may stay unacknowledged
	// before it is escalated.
	EscalationThreshold = 10 * time.Minute

	// EscalationSweepInterval is how often open alerts are checked for
	// escalation.
	EscalationSweepInterval = 30 * time.Second

	// MaxAlerts caps the in-memory alert working set (most recent kept).
	MaxAlerts = 50

	// NotificationTimeout bounds a single detached notification push.
	NotificationTimeout = 10 * time.Second
)

// Telemetry configuration.
const (
	// DefaultTelemetryHours is the window the aggregator starts with.
	DefaultTelemetryHours = 24

	// MaxTelemetryHours is the largest window the API accepts (30 days).
	MaxTelemetryHours = 720

	// TelemetryRowCap bounds how many events one window fetch may return.
	TelemetryRowCap = 5000

	// HourlyBucketMaxHours - windows up to this length use 1h buckets.
	HourlyBucketMaxHours = 48

	// FourHourBucketMaxHours - windows up to this length use 4h buckets.
	// Longer windows use 24h buckets.
	FourHourBucketMaxHours = 168
)

// Cache TTLs for API response caching.
const (
	// CacheTTLTelemetry is the TTL for ad-hoc telemetry windows.
	CacheTTLTelemetry = 30 * time.Second
)

// Realtime transport.
const (
	// RealtimeReconnectDelay is the base delay between reconnect attempts.
	RealtimeReconnectDelay = 1 * time.Second

	// RealtimeMaxReconnectDelay caps the reconnect backoff.
	RealtimeMaxReconnectDelay = 30 * time.Second
)

// Database and Redis connection configuration.
const (
	// DatabasePingTimeout is the timeout for database connectivity checks.
	DatabasePingTimeout = 5 * time.Second

	// RedisConnectionTimeout is the timeout for Redis connectivity checks.
	RedisConnectionTimeout = 5 * time.Second
)

// Audit log buffering.
const (
	// AuditFlushBatchSize is the number of audit records flushed from the
	// Redis buffer to the database in a single COPY.
	AuditFlushBatchSize = 500

	// AuditFlushInterval is how often the audit buffer is flushed.
	AuditFlushInterval = 2 * time.Second
)

// HTTP server configuration.
const (
	// SecretHeader carries the shared ingestion secret.
	SecretHeader = "X-Pulse-Secret"

	// MaxHeartbeatBodyBytes bounds the ingestion request body.
	MaxHeartbeatBodyBytes = 64 << 10

	// DefaultHTTPTimeout is the default timeout for HTTP client requests.
	DefaultHTTPTimeout = 30 * time.Second
)
