package api

import (
	"encoding/json"
	"net/http"
)

type createSessionRequest struct {
	SessionID string `json:"session_id"`
	Image     string `json:"image"`
}

// handleCreateSession implements resolve_or_create: it is idempotent for
// an already-live session and creates one otherwise.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error())
		return
	}
	if err := validateCreateSessionRequest(req); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	image := req.Image
	if image == "" {
		image = s.defaultImage
	}

	containerID, err := s.registry.ResolveOrCreate(r.Context(), user, req.SessionID, image)
	if err != nil {
		s.logger.Error("create session", "session_id", req.SessionID, "error", err)
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":   req.SessionID,
		"container_id": containerID,
	})
}

// handleDestroySession implements destroy: removes the bound container
// and the KV binding. Destroying an already-absent session still returns
// 204, matching the core's idempotent Destroy.
func (s *Server) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	sid := r.PathValue("sid")

	if err := validateSessionID(sid); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if err := s.registry.Destroy(r.Context(), user, sid); err != nil {
		s.logger.Error("destroy session", "session_id", sid, "error", err)
		writeAPIError(w, err)
		return
	}

	// Persistent volumes, unlike containers, are only removed on explicit
	// session delete; this is a no-op when persistence is disabled.
	if err := s.registry.DestroyVolume(r.Context(), user, sid); err != nil {
		s.logger.Error("destroy session volume", "session_id", sid, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}
