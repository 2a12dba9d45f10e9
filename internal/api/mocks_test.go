package api

import (
	"context"
	"net/http"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/wardenhq/warden/internal/executor"
	"github.com/wardenhq/warden/internal/workspace"
)

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) ResolveOrCreate(ctx context.Context, user, sid, image string) (string, error) {
	args := m.Called(ctx, user, sid, image)
	return args.String(0), args.Error(1)
}

func (m *mockRegistry) Destroy(ctx context.Context, user, sid string) error {
	args := m.Called(ctx, user, sid)
	return args.Error(0)
}

func (m *mockRegistry) DestroyVolume(ctx context.Context, user, sid string) error {
	args := m.Called(ctx, user, sid)
	return args.Error(0)
}

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Execute(ctx context.Context, user, sid, commandLine, workingDir string, timeout time.Duration) (*executor.Result, error) {
	args := m.Called(ctx, user, sid, commandLine, workingDir, timeout)
	if r := args.Get(0); r != nil {
		return r.(*executor.Result), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) List(ctx context.Context, user, sid, dirPath string) ([]workspace.Entry, error) {
	args := m.Called(ctx, user, sid, dirPath)
	if e := args.Get(0); e != nil {
		return e.([]workspace.Entry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) Read(ctx context.Context, user, sid, filePath string) (*workspace.ReadResult, error) {
	args := m.Called(ctx, user, sid, filePath)
	if r := args.Get(0); r != nil {
		return r.(*workspace.ReadResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) Write(ctx context.Context, user, sid, filePath string, content []byte) error {
	args := m.Called(ctx, user, sid, filePath, content)
	return args.Error(0)
}

func (m *mockGateway) Delete(ctx context.Context, user, sid, filePath string) error {
	args := m.Called(ctx, user, sid, filePath)
	return args.Error(0)
}

type mockAuthenticator struct {
	mock.Mock
}

func (m *mockAuthenticator) Authenticate(r *http.Request) (string, error) {
	args := m.Called(r)
	return args.String(0), args.Error(1)
}

type mockRateLimiter struct {
	mock.Mock
}

func (m *mockRateLimiter) Allow(ctx context.Context, user string) (bool, error) {
	args := m.Called(ctx, user)
	return args.Bool(0), args.Error(1)
}
