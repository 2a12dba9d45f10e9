package api

import (
	"encoding/json"
	"io"
	"net/http"
)

type workspaceEntry struct {
	Name string `json:"name"`
	Type string `json:"type"` // "file" or "dir"
}

// handleWorkspaceList implements list: `{"entries":[{"name","type"}]}`.
func (s *Server) handleWorkspaceList(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	sid := r.PathValue("sid")
	if err := validateSessionID(sid); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	path := r.URL.Query().Get("path")

	entries, err := s.gateway.List(r.Context(), user, sid, path)
	if err != nil {
		s.logger.Error("workspace list", "session_id", sid, "error", err)
		writeAPIError(w, err)
		return
	}

	out := make([]workspaceEntry, 0, len(entries))
	for _, e := range entries {
		typ := "file"
		if e.IsDir {
			typ = "dir"
		}
		out = append(out, workspaceEntry{Name: e.Name, Type: typ})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// handleWorkspaceRead implements read: `{"content","encoding"}`.
func (s *Server) handleWorkspaceRead(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	sid := r.PathValue("sid")
	if err := validateSessionID(sid); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	path := r.URL.Query().Get("path")

	result, err := s.gateway.Read(r.Context(), user, sid, path)
	if err != nil {
		s.logger.Error("workspace read", "session_id", sid, "error", err)
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"content":  result.Content,
		"encoding": result.Encoding,
	})
}

type writeContentRequest struct {
	Content string `json:"content"`
}

// handleWorkspaceWrite implements write, accepting either a raw request
// body or a JSON `{"content"}` envelope depending on Content-Type.
func (s *Server) handleWorkspaceWrite(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	sid := r.PathValue("sid")
	if err := validateSessionID(sid); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeValidationError(w, "path query parameter is required")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeValidationError(w, "invalid body: "+err.Error())
		return
	}

	content := body
	if ct := r.Header.Get("Content-Type"); ct == "application/json" {
		var req writeContentRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeValidationError(w, "invalid json: "+err.Error())
			return
		}
		content = []byte(req.Content)
	}

	if err := s.gateway.Write(r.Context(), user, sid, path, content); err != nil {
		s.logger.Error("workspace write", "session_id", sid, "error", err)
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleWorkspaceUpload implements write via multipart upload, returning
// 201 per spec.md's HTTP surface table.
func (s *Server) handleWorkspaceUpload(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	sid := r.PathValue("sid")
	if err := validateSessionID(sid); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeValidationError(w, "path query parameter is required")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeValidationError(w, "file form field is required: "+err.Error())
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeValidationError(w, "invalid upload: "+err.Error())
		return
	}

	if err := s.gateway.Write(r.Context(), user, sid, path, content); err != nil {
		s.logger.Error("workspace upload", "session_id", sid, "error", err)
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
}

// handleWorkspaceDelete implements delete: removes a file or directory at
// ?path= inside the live container. It never touches the persistent
// volume itself; that is only removed on explicit session delete.
func (s *Server) handleWorkspaceDelete(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	sid := r.PathValue("sid")
	if err := validateSessionID(sid); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeValidationError(w, "path query parameter is required")
		return
	}

	if err := s.gateway.Delete(r.Context(), user, sid, path); err != nil {
		s.logger.Error("workspace delete", "session_id", sid, "error", err)
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
