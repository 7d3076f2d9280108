// Package api provides HTTP handlers for the control plane.
//
// # Endpoints
//
// Ingestion (shared secret in X-Pulse-Secret):
//   - POST /api/v1/heartbeats - Submit one heartbeat
//
// Agents:
//   - GET  /api/v1/agents - Current derived state of every agent
//   - POST /api/v1/agents/{id}/stabilize - Write a NOMINAL override heartbeat
//   - POST /api/v1/agents/{id}/pulse - Optimistic pulse with forwarded heartbeat
//
// Alerts:
//   - GET  /api/v1/alerts - Alert working set, newest first
//   - POST /api/v1/alerts/{id}/acknowledge - Acknowledge one alert
//   - POST /api/v1/alerts/acknowledge - Acknowledge every open alert
//   - POST /api/v1/alerts/clear - Drop acknowledged alerts
//   - GET  /api/v1/alerts/escalation - Escalation flag
//   - PUT  /api/v1/alerts/escalation - Enable or disable escalation
//   - GET  /api/v1/notifications - Operator inbox, newest first
//
// Telemetry:
//   - GET  /api/v1/telemetry?hours=N - Bucketed heartbeat counts
//   - PUT  /api/v1/telemetry/window - Change the live window
//
// Mode:
//   - GET  /api/v1/mode - Current operational mode
//   - PUT  /api/v1/mode - Change mode (WAR_ROOM requires confirm)
//
// Streaming and health:
//   - GET /api/v1/stream - WebSocket feed of agent, alert and mode changes
//   - GET /api/v1/health - Health check
//   - GET /metrics - Prometheus metrics
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/pilot-net/agent-pulse/control-plane/internal/metrics"
	"github.com/pilot-net/agent-pulse/control-plane/internal/service"
	"github.com/pilot-net/agent-pulse/pkg/types"
)

// Error reasons returned in the "reason" field.
const (
	reasonUnauthorized     = "unauthorized"
	reasonMethodNotAllowed = "method_not_allowed"
	reasonRateLimited      = "rate_limited"
	reasonInvalidHours     = "invalid_hours"
	reasonInvalidMode      = "invalid_mode"
	reasonConfirmRequired  = "confirmation_required"
	reasonNotFound         = "not_found"
	reasonInternal         = "internal_error"
	reasonUnavailable      = "unavailable"
)

// HeartbeatIngester is the ingestion gateway.
type HeartbeatIngester interface {
	IngestHeartbeat(ctx context.Context, req service.HeartbeatRequest) (*types.HeartbeatEvent, error)
}

// AgentStates exposes the status cache.
type AgentStates interface {
	Snapshot() []types.AgentState
	Stabilize(ctx context.Context, agentID string) (*types.HeartbeatEvent, error)
	SendPulse(ctx context.Context, agentID string) error
}

// AlertController exposes the alert manager.
type AlertController interface {
	Alerts() []types.Alert
	Acknowledge(id string) error
	AcknowledgeAll() int
	ClearResolved() int
	SetEscalationEnabled(enabled bool)
	EscalationEnabled() bool
}

// TelemetrySource exposes the telemetry aggregator.
type TelemetrySource interface {
	Hours() int
	Window() types.TelemetryWindow
	SetWindow(ctx context.Context, hours int) (types.TelemetryWindow, error)
	Fetch(ctx context.Context, hours int) (types.TelemetryWindow, error)
}

// TelemetryCache caches ad-hoc telemetry windows.
type TelemetryCache interface {
	GetTelemetry(ctx context.Context, hours int, now time.Time) *types.TelemetryWindow
	SetTelemetry(ctx context.Context, w *types.TelemetryWindow, now time.Time)
}

// ModeSwitch exposes the operational mode controller.
type ModeSwitch interface {
	Current() types.ModeConfig
	SetMode(ctx context.Context, mode types.OperationalMode, actor string) (types.ModeConfig, error)
}

// InboxReader lists delivered notifications.
type InboxReader interface {
	ListNotifications(ctx context.Context, limit int) ([]types.Notification, error)
}

// HealthReporter builds the health report.
type HealthReporter interface {
	Health(ctx context.Context) metrics.Health
}

// Components are the collaborators the server routes to. Optional ones
// may be nil; their endpoints then answer 503.
type Components struct {
	Gateway   HeartbeatIngester
	Agents    AgentStates
	Alerts    AlertController
	Telemetry TelemetrySource
	Mode      ModeSwitch

	TelemetryCache TelemetryCache
	Inbox          InboxReader
	Health         HealthReporter
	Hub            *Hub

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Options configure ingestion.
type Options struct {
	// Secret is the shared ingestion credential.
	Secret string

	// RateLimit is the sustained ingestion rate per second. Zero disables
	// limiting.
	RateLimit float64
	RateBurst int
}

// Server is the HTTP API server.
type Server struct {
	c       Components
	secret  []byte
	limiter *rate.Limiter
	logger  *slog.Logger
	mux     *http.ServeMux
	now     func() time.Time
}

// NewServer creates a new API server.
func NewServer(c Components, opts Options, logger *slog.Logger) *Server {
	s := &Server{
		c:      c,
		secret: []byte(opts.Secret),
		logger: logger.With("component", "api"),
		mux:    http.NewServeMux(),
		now:    time.Now,
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	s.registerRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+secretHeader)

	// Preflight never requires the secret.
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request",
		"method", r.Method,
		"path", r.URL.Path,
		"duration", time.Since(start))
}

func (s *Server) registerRoutes() {
	// Registered without a method so other verbs get a structured 405.
	s.mux.HandleFunc("/api/v1/heartbeats", s.requireMethod(http.MethodPost, s.requireSecret(s.handleIngestHeartbeat)))

	s.mux.HandleFunc("GET /api/v1/agents", s.handleListAgents)
	s.mux.HandleFunc("POST /api/v1/agents/{id}/stabilize", s.handleStabilizeAgent)
	s.mux.HandleFunc("POST /api/v1/agents/{id}/pulse", s.handlePulseAgent)

	s.mux.HandleFunc("GET /api/v1/alerts", s.handleListAlerts)
	s.mux.HandleFunc("POST /api/v1/alerts/acknowledge", s.handleAcknowledgeAllAlerts)
	s.mux.HandleFunc("POST /api/v1/alerts/clear", s.handleClearResolvedAlerts)
	s.mux.HandleFunc("GET /api/v1/alerts/escalation", s.handleGetEscalation)
	s.mux.HandleFunc("PUT /api/v1/alerts/escalation", s.handleSetEscalation)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/acknowledge", s.handleAcknowledgeAlert)
	s.mux.HandleFunc("GET /api/v1/notifications", s.handleListNotifications)

	s.mux.HandleFunc("GET /api/v1/telemetry", s.handleGetTelemetry)
	s.mux.HandleFunc("PUT /api/v1/telemetry/window", s.handleSetTelemetryWindow)

	s.mux.HandleFunc("GET /api/v1/mode", s.handleGetMode)
	s.mux.HandleFunc("PUT /api/v1/mode", s.handleSetMode)

	s.mux.HandleFunc("GET /api/v1/stream", s.handleStream)
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	if s.c.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.c.Gatherer, promhttp.HandlerOpts{}))
	}
}

// =============================================================================
// HEALTH
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.c.Health == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	h := s.c.Health.Health(r.Context())
	status := http.StatusOK
	if h.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, h)
}

// =============================================================================
// HELPERS
// =============================================================================

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func (s *Server) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message, reason string) {
	s.writeJSON(w, status, errorResponse{Error: message, Reason: reason})
}

func (s *Server) unavailable(w http.ResponseWriter, what string) {
	s.writeError(w, http.StatusServiceUnavailable, what+" not configured", reasonUnavailable)
}
