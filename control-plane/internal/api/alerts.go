package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/pilot-net/agent-pulse/control-plane/internal/worker"
)

// =============================================================================
// ALERT ENDPOINTS
// =============================================================================

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if s.c.Alerts == nil {
		s.unavailable(w, "alert manager")
		return
	}

	alerts := s.c.Alerts.Alerts()
	open := 0
	for _, a := range alerts {
		if !a.Acknowledged {
			open++
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"alerts":             alerts,
		"count":              len(alerts),
		"unacknowledged":     open,
		"escalation_enabled": s.c.Alerts.EscalationEnabled(),
	})
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	if s.c.Alerts == nil {
		s.unavailable(w, "alert manager")
		return
	}
	alertID := r.PathValue("id")

	if err := s.c.Alerts.Acknowledge(alertID); err != nil {
		if errors.Is(err, worker.ErrAlertNotFound) {
			s.writeError(w, http.StatusNotFound, "alert not found", reasonNotFound)
			return
		}
		s.logger.Error("acknowledge alert failed", "alert_id", alertID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to acknowledge alert", reasonInternal)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (s *Server) handleAcknowledgeAllAlerts(w http.ResponseWriter, r *http.Request) {
	if s.c.Alerts == nil {
		s.unavailable(w, "alert manager")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"acknowledged": s.c.Alerts.AcknowledgeAll()})
}

func (s *Server) handleClearResolvedAlerts(w http.ResponseWriter, r *http.Request) {
	if s.c.Alerts == nil {
		s.unavailable(w, "alert manager")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"cleared": s.c.Alerts.ClearResolved()})
}

type escalationRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleGetEscalation(w http.ResponseWriter, r *http.Request) {
	if s.c.Alerts == nil {
		s.unavailable(w, "alert manager")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.c.Alerts.EscalationEnabled()})
}

func (s *Server) handleSetEscalation(w http.ResponseWriter, r *http.Request) {
	if s.c.Alerts == nil {
		s.unavailable(w, "alert manager")
		return
	}

	var req escalationRequest
	if err := s.readJSON(r, &req); err != nil || req.Enabled == nil {
		s.writeError(w, http.StatusBadRequest, "body must be {\"enabled\": true|false}", "malformed_body")
		return
	}

	s.c.Alerts.SetEscalationEnabled(*req.Enabled)
	s.logger.Info("escalation toggled", "enabled", *req.Enabled)
	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 500
)

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	if s.c.Inbox == nil {
		s.unavailable(w, "notification inbox")
		return
	}

	limit := defaultNotificationLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			limit = min(l, maxNotificationLimit)
		}
	}

	items, err := s.c.Inbox.ListNotifications(r.Context(), limit)
	if err != nil {
		s.logger.Error("list notifications failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list notifications", reasonInternal)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"notifications": items,
		"count":         len(items),
	})
}
