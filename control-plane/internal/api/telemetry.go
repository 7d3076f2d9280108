package api

import (
	"net/http"
	"strconv"

	"github.com/pilot-net/agent-pulse/control-plane/internal/telemetry"
)

// =============================================================================
// TELEMETRY
// =============================================================================

// handleGetTelemetry serves the live window when hours matches it, and
// otherwise builds (and caches) an ad-hoc window from the event store.
func (s *Server) handleGetTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.c.Telemetry == nil {
		s.unavailable(w, "telemetry aggregator")
		return
	}

	hours := s.c.Telemetry.Hours()
	if v := r.URL.Query().Get("hours"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "hours must be an integer", reasonInvalidHours)
			return
		}
		hours = h
	}
	if err := telemetry.ValidateHours(hours); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), reasonInvalidHours)
		return
	}

	if hours == s.c.Telemetry.Hours() {
		s.writeJSON(w, http.StatusOK, s.c.Telemetry.Window())
		return
	}

	now := s.now()
	if s.c.TelemetryCache != nil {
		if cached := s.c.TelemetryCache.GetTelemetry(r.Context(), hours, now); cached != nil {
			s.writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	window, err := s.c.Telemetry.Fetch(r.Context(), hours)
	if err != nil {
		s.logger.Error("telemetry fetch failed", "hours", hours, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load telemetry", reasonInternal)
		return
	}

	if s.c.TelemetryCache != nil {
		s.c.TelemetryCache.SetTelemetry(r.Context(), &window, now)
	}
	s.writeJSON(w, http.StatusOK, window)
}

type windowRequest struct {
	Hours int `json:"hours"`
}

func (s *Server) handleSetTelemetryWindow(w http.ResponseWriter, r *http.Request) {
	if s.c.Telemetry == nil {
		s.unavailable(w, "telemetry aggregator")
		return
	}

	var req windowRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", "malformed_body")
		return
	}
	if err := telemetry.ValidateHours(req.Hours); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), reasonInvalidHours)
		return
	}

	window, err := s.c.Telemetry.SetWindow(r.Context(), req.Hours)
	if err != nil {
		s.logger.Error("telemetry window change failed", "hours", req.Hours, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load telemetry window", reasonInternal)
		return
	}
	s.writeJSON(w, http.StatusOK, window)
}
