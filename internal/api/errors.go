package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wardenhq/warden/internal/auth"
	"github.com/wardenhq/warden/internal/engine"
	"github.com/wardenhq/warden/internal/executor"
	"github.com/wardenhq/warden/internal/kvdir"
	"github.com/wardenhq/warden/internal/registry"
	"github.com/wardenhq/warden/internal/workspace"
)

// Error codes returned in API responses.
const (
	ErrCodeSessionNotFound   = "SESSION_NOT_FOUND"
	ErrCodeInvalidImage      = "INVALID_IMAGE"
	ErrCodeCommandNotAllowed = "COMMAND_NOT_ALLOWED"
	ErrCodePathInvalid       = "PATH_INVALID"
	ErrCodeSizeLimitExceeded = "SIZE_LIMIT_EXCEEDED"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeEngineUnavailable = "ENGINE_UNAVAILABLE"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// APIError is the structured error body returned to clients.
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

// writeAPIError maps a core error to the HTTP status code and error code
// spec.md's propagation policy calls for, then writes the JSON body.
func writeAPIError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	writeJSON(w, status, APIError{Code: code, Message: err.Error()})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, kvdir.ErrNotFound):
		return http.StatusNotFound, ErrCodeSessionNotFound
	case errors.Is(err, registry.ErrForbidden):
		return http.StatusForbidden, ErrCodeForbidden
	case errors.Is(err, registry.ErrInvalidImage):
		return http.StatusBadRequest, ErrCodeInvalidImage
	case errors.Is(err, executor.ErrCommandNotAllowed), errors.Is(err, executor.ErrInvalidWorkingDir):
		return http.StatusBadRequest, ErrCodeCommandNotAllowed
	case errors.Is(err, workspace.ErrInvalidPath):
		return http.StatusBadRequest, ErrCodePathInvalid
	case errors.Is(err, workspace.ErrTooLarge):
		return http.StatusBadRequest, ErrCodeSizeLimitExceeded
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, ErrCodeUnauthorized
	case errors.Is(err, engine.ErrEngineUnavailable):
		return http.StatusServiceUnavailable, ErrCodeEngineUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}

func writeValidationError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, APIError{Code: ErrCodeInvalidRequest, Message: message})
}

func writeUnauthorizedError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, APIError{Code: ErrCodeUnauthorized, Message: message})
}

func writeRateLimitedError(w http.ResponseWriter) {
	writeJSON(w, http.StatusTooManyRequests, APIError{Code: ErrCodeRateLimited, Message: "rate limit exceeded"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
