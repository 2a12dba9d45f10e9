package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wardenhq/warden/internal/executor"
	"github.com/wardenhq/warden/internal/registry"
	"github.com/wardenhq/warden/internal/workspace"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{registry.ErrNotFound, http.StatusNotFound, ErrCodeSessionNotFound},
		{registry.ErrForbidden, http.StatusForbidden, ErrCodeForbidden},
		{registry.ErrInvalidImage, http.StatusBadRequest, ErrCodeInvalidImage},
		{executor.ErrCommandNotAllowed, http.StatusBadRequest, ErrCodeCommandNotAllowed},
		{executor.ErrInvalidWorkingDir, http.StatusBadRequest, ErrCodeCommandNotAllowed},
		{workspace.ErrInvalidPath, http.StatusBadRequest, ErrCodePathInvalid},
		{workspace.ErrTooLarge, http.StatusBadRequest, ErrCodeSizeLimitExceeded},
		{fmt.Errorf("boom"), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, c := range cases {
		status, code := classifyError(c.err)
		assert.Equal(t, c.status, status, c.err.Error())
		assert.Equal(t, c.code, code, c.err.Error())
	}
}

func TestWriteAPIError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeAPIError(rec, registry.ErrNotFound)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrCodeSessionNotFound)
}
