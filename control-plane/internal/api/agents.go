package api

import (
	"errors"
	"net/http"

	"github.com/pilot-net/agent-pulse/control-plane/internal/service"
	"github.com/pilot-net/agent-pulse/pkg/types"
)

// =============================================================================
// AGENT ENDPOINTS
// =============================================================================

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if s.c.Agents == nil {
		s.unavailable(w, "status cache")
		return
	}

	agents := s.c.Agents.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"agents": agents,
		"count":  len(agents),
	})
}

func (s *Server) handleStabilizeAgent(w http.ResponseWriter, r *http.Request) {
	if s.c.Agents == nil {
		s.unavailable(w, "status cache")
		return
	}
	agentID := r.PathValue("id")

	event, err := s.c.Agents.Stabilize(r.Context(), agentID)
	if err != nil {
		var ve *service.ValidationError
		if errors.As(err, &ve) {
			s.writeError(w, http.StatusBadRequest, ve.Err.Error(), ve.Reason)
			return
		}
		s.logger.Error("stabilize failed", "agent_id", agentID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to stabilize agent", reasonInternal)
		return
	}

	s.writeJSON(w, http.StatusOK, event)
}

func (s *Server) handlePulseAgent(w http.ResponseWriter, r *http.Request) {
	if s.c.Agents == nil {
		s.unavailable(w, "status cache")
		return
	}
	agentID := r.PathValue("id")

	if err := s.c.Agents.SendPulse(r.Context(), agentID); err != nil {
		if errors.Is(err, types.ErrUnknownAgent) {
			s.writeError(w, http.StatusBadRequest, err.Error(), service.ReasonUnknownAgent)
			return
		}
		s.logger.Error("pulse failed", "agent_id", agentID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to send pulse", reasonInternal)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"agent_id": agentID,
		"status":   string(types.StatusProcessing),
	})
}
