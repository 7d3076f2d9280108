package api

import (
	"errors"
	"net/http"

	"github.com/pilot-net/agent-pulse/pkg/types"
)

// =============================================================================
// OPERATIONAL MODE
// =============================================================================

// modeResponse adds the display metadata to the mode record.
type modeResponse struct {
	types.ModeConfig
	Presentation types.ModePresentation `json:"presentation"`
}

func newModeResponse(cfg types.ModeConfig) modeResponse {
	return modeResponse{ModeConfig: cfg, Presentation: cfg.Mode.Presentation()}
}

// BroadcastMode sends cfg to every stream client in the same shape as the
// mode endpoints and the connect snapshot.
func (h *Hub) BroadcastMode(cfg types.ModeConfig) {
	h.Broadcast(StreamMode, newModeResponse(cfg))
}

type setModeRequest struct {
	Mode string `json:"mode"`
	// Confirm must be true to enter a mode that requires confirmation.
	Confirm bool   `json:"confirm"`
	Actor   string `json:"actor"`
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	if s.c.Mode == nil {
		s.unavailable(w, "mode controller")
		return
	}
	s.writeJSON(w, http.StatusOK, newModeResponse(s.c.Mode.Current()))
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	if s.c.Mode == nil {
		s.unavailable(w, "mode controller")
		return
	}

	var req setModeRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", "malformed_body")
		return
	}
	mode, err := types.ParseMode(req.Mode)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), reasonInvalidMode)
		return
	}

	current := s.c.Mode.Current()
	if mode.RequiresConfirmation() && current.Mode != mode && !req.Confirm {
		s.writeJSON(w, http.StatusConflict, map[string]any{
			"error":        "entering " + string(mode) + " must be confirmed",
			"reason":       reasonConfirmRequired,
			"current":      newModeResponse(current),
			"presentation": mode.Presentation(),
		})
		return
	}

	actor := req.Actor
	if actor == "" {
		actor = "api"
	}

	cfg, err := s.c.Mode.SetMode(r.Context(), mode, actor)
	if err != nil {
		if errors.Is(err, types.ErrInvalidMode) {
			s.writeError(w, http.StatusBadRequest, err.Error(), reasonInvalidMode)
			return
		}
		s.logger.Error("mode change failed", "mode", mode, "actor", actor, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "failed to persist mode, change rolled back",
			"reason":  reasonInternal,
			"current": newModeResponse(cfg),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, newModeResponse(cfg))
}
