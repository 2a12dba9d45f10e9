package api

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/wardenhq/warden/internal/workspace"
)

func TestHandleWorkspaceList(t *testing.T) {
	gw := &mockGateway{}
	s := testServer(testServerOpts{gateway: gw})

	gw.On("List", mock.Anything, "alice", "s1", "a").Return([]workspace.Entry{
		{Name: "b.txt", IsDir: false},
		{Name: "sub", IsDir: true},
	}, nil)

	req := reqWithUser("GET", "/sessions/s1/workspace?path=a", "", "alice")
	req.SetPathValue("sid", "s1")
	rec := httptest.NewRecorder()

	s.handleWorkspaceList(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"b.txt","type":"file"`)
	assert.Contains(t, rec.Body.String(), `"name":"sub","type":"dir"`)
}

func TestHandleWorkspaceRead(t *testing.T) {
	gw := &mockGateway{}
	s := testServer(testServerOpts{gateway: gw})

	gw.On("Read", mock.Anything, "alice", "s1", "a/b.txt").Return(&workspace.ReadResult{
		Encoding: "utf8", Content: "data",
	}, nil)

	req := reqWithUser("GET", "/sessions/s1/workspace/content?path=a/b.txt", "", "alice")
	req.SetPathValue("sid", "s1")
	rec := httptest.NewRecorder()

	s.handleWorkspaceRead(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"content":"data","encoding":"utf8"}`, rec.Body.String())
}

func TestHandleWorkspaceRead_PathInvalid(t *testing.T) {
	gw := &mockGateway{}
	s := testServer(testServerOpts{gateway: gw})

	gw.On("Read", mock.Anything, "alice", "s1", "../etc/passwd").Return(nil, workspace.ErrInvalidPath)

	req := reqWithUser("GET", "/sessions/s1/workspace/content?path=../etc/passwd", "", "alice")
	req.SetPathValue("sid", "s1")
	rec := httptest.NewRecorder()

	s.handleWorkspaceRead(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWorkspaceWrite_RawBody(t *testing.T) {
	gw := &mockGateway{}
	s := testServer(testServerOpts{gateway: gw})

	gw.On("Write", mock.Anything, "alice", "s1", "a/b.txt", []byte("data")).Return(nil)

	req := reqWithUser("PUT", "/sessions/s1/workspace/content?path=a/b.txt", "data", "alice")
	req.SetPathValue("sid", "s1")
	rec := httptest.NewRecorder()

	s.handleWorkspaceWrite(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleWorkspaceWrite_JSONBody(t *testing.T) {
	gw := &mockGateway{}
	s := testServer(testServerOpts{gateway: gw})

	gw.On("Write", mock.Anything, "alice", "s1", "a/b.txt", []byte("data")).Return(nil)

	req := reqWithUser("PUT", "/sessions/s1/workspace/content?path=a/b.txt", `{"content":"data"}`, "alice")
	req.Header.Set("Content-Type", "application/json")
	req.SetPathValue("sid", "s1")
	rec := httptest.NewRecorder()

	s.handleWorkspaceWrite(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleWorkspaceWrite_MissingPath(t *testing.T) {
	s := testServer(testServerOpts{})

	req := reqWithUser("PUT", "/sessions/s1/workspace/content", "data", "alice")
	req.SetPathValue("sid", "s1")
	rec := httptest.NewRecorder()

	s.handleWorkspaceWrite(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWorkspaceUpload(t *testing.T) {
	gw := &mockGateway{}
	s := testServer(testServerOpts{gateway: gw})

	gw.On("Write", mock.Anything, "alice", "s1", "a/b.txt", []byte("uploaded")).Return(nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "b.txt")
	_, _ = fw.Write([]byte("uploaded"))
	_ = mw.Close()

	req := reqWithUser("POST", "/sessions/s1/workspace/upload?path=a/b.txt", "", "alice")
	req = httptest.NewRequest("POST", "/sessions/s1/workspace/upload?path=a/b.txt", &buf).WithContext(req.Context())
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.SetPathValue("sid", "s1")
	rec := httptest.NewRecorder()

	s.handleWorkspaceUpload(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestHandleWorkspaceDelete(t *testing.T) {
	gw := &mockGateway{}
	s := testServer(testServerOpts{gateway: gw})

	gw.On("Delete", mock.Anything, "alice", "s1", "a/b.txt").Return(nil)

	req := reqWithUser("DELETE", "/sessions/s1/workspace?path=a/b.txt", "", "alice")
	req.SetPathValue("sid", "s1")
	rec := httptest.NewRecorder()

	s.handleWorkspaceDelete(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
