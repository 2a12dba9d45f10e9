package api

import (
	"encoding/json"
	"net/http"
	"time"
)

type executeRequest struct {
	Command    string `json:"command"`
	SessionID  string `json:"session_id"`
	Timeout    int    `json:"timeout"` // seconds; 0 means use the default
	WorkingDir string `json:"working_dir"`
}

type executeResponse struct {
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMs int64  `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out"`
	Truncated  bool   `json:"truncated"`
}

// handleExecute implements execute: resolves/creates the session's
// container, runs the whitelisted command, and returns its result. A
// timeout is reported as a 200 with exit_code=124, timed_out=true per
// spec.md's error taxonomy, not as an HTTP error.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error())
		return
	}
	if err := validateExecuteRequest(req); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	timeout := s.defaultExecTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}
	if timeout > s.maxExecTimeout {
		timeout = s.maxExecTimeout
	}

	result, err := s.executor.Execute(r.Context(), user, req.SessionID, req.Command, req.WorkingDir, timeout)
	if err != nil {
		s.logger.Error("execute", "session_id", req.SessionID, "error", err)
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{
		ExitCode:   result.ExitCode,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		DurationMs: result.DurationMs,
		TimedOut:   result.TimedOut,
		Truncated:  result.Truncated,
	})
}
