package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/wardenhq/warden/internal/executor"
)

func TestHandleExecute_Success(t *testing.T) {
	exec := &mockExecutor{}
	s := testServer(testServerOpts{executor: exec})

	exec.On("Execute", mock.Anything, "alice", "s1", "echo hello", "", 30*time.Second).
		Return(&executor.Result{ExitCode: 0, Stdout: "hello\n"}, nil)

	req := reqWithUser("POST", "/execute", `{"command":"echo hello","session_id":"s1"}`, "alice")
	rec := httptest.NewRecorder()

	s.handleExecute(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hello")
}

func TestHandleExecute_Timeout(t *testing.T) {
	exec := &mockExecutor{}
	s := testServer(testServerOpts{executor: exec})

	exec.On("Execute", mock.Anything, "alice", "s2", "sh -c 'sleep 5'", "", time.Second).
		Return(&executor.Result{ExitCode: 124, TimedOut: true, DurationMs: 1000}, nil)

	req := reqWithUser("POST", "/execute", `{"command":"sh -c 'sleep 5'","session_id":"s2","timeout":1}`, "alice")
	rec := httptest.NewRecorder()

	s.handleExecute(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"timed_out":true`)
	assert.Contains(t, rec.Body.String(), `"exit_code":124`)
}

func TestHandleExecute_MissingCommand(t *testing.T) {
	s := testServer(testServerOpts{})

	req := reqWithUser("POST", "/execute", `{"session_id":"s1"}`, "alice")
	rec := httptest.NewRecorder()

	s.handleExecute(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleExecute_CommandNotAllowed(t *testing.T) {
	exec := &mockExecutor{}
	s := testServer(testServerOpts{executor: exec})

	exec.On("Execute", mock.Anything, "alice", "s1", "rm -rf /", "", 30*time.Second).
		Return(nil, executor.ErrCommandNotAllowed)

	req := reqWithUser("POST", "/execute", `{"command":"rm -rf /","session_id":"s1"}`, "alice")
	rec := httptest.NewRecorder()

	s.handleExecute(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleExecute_TimeoutClampedToMax(t *testing.T) {
	exec := &mockExecutor{}
	s := testServer(testServerOpts{executor: exec})

	exec.On("Execute", mock.Anything, "alice", "s1", "echo hi", "", 120*time.Second).
		Return(&executor.Result{ExitCode: 0}, nil)

	req := reqWithUser("POST", "/execute", `{"command":"echo hi","session_id":"s1","timeout":99999}`, "alice")
	rec := httptest.NewRecorder()

	s.handleExecute(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	exec.AssertExpectations(t)
}
