package api

import (
	"errors"
	"net/http"

	"github.com/pilot-net/agent-pulse/control-plane/internal/config"
	"github.com/pilot-net/agent-pulse/control-plane/internal/service"
)

// =============================================================================
// INGESTION
// =============================================================================

func (s *Server) handleIngestHeartbeat(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxHeartbeatBodyBytes)

	var req service.HeartbeatRequest
	if err := s.readJSON(r, &req); err != nil {
		s.c.Metrics.ObserveRejected(service.ReasonMalformedBody)
		s.writeError(w, http.StatusBadRequest, "invalid request body", service.ReasonMalformedBody)
		return
	}

	event, err := s.c.Gateway.IngestHeartbeat(r.Context(), req)
	if err != nil {
		var ve *service.ValidationError
		if errors.As(err, &ve) {
			s.writeError(w, http.StatusBadRequest, ve.Err.Error(), ve.Reason)
			return
		}
		s.logger.Error("heartbeat ingestion failed",
			"agent_id", req.AgentID,
			"error", err,
		)
		s.writeError(w, http.StatusInternalServerError, "failed to store heartbeat", reasonInternal)
		return
	}

	s.writeJSON(w, http.StatusOK, event)
}
