package api

import (
	"context"
	"net/http"
	"time"

	"github.com/wardenhq/warden/internal/executor"
	"github.com/wardenhq/warden/internal/workspace"
)

// Registry is the subset of the Session Registry the HTTP layer calls.
type Registry interface {
	ResolveOrCreate(ctx context.Context, user, sid, image string) (string, error)
	Destroy(ctx context.Context, user, sid string) error
	DestroyVolume(ctx context.Context, user, sid string) error
}

// Executor is the subset of the Executor the HTTP layer calls.
type Executor interface {
	Execute(ctx context.Context, user, sid, commandLine, workingDir string, timeout time.Duration) (*executor.Result, error)
}

// Gateway is the subset of the Workspace Gateway the HTTP layer calls.
type Gateway interface {
	List(ctx context.Context, user, sid, dirPath string) ([]workspace.Entry, error)
	Read(ctx context.Context, user, sid, filePath string) (*workspace.ReadResult, error)
	Write(ctx context.Context, user, sid, filePath string, content []byte) error
	Delete(ctx context.Context, user, sid, filePath string) error
}

// Authenticator resolves the caller's identity from a request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// RateLimiter gates a user's request rate.
type RateLimiter interface {
	Allow(ctx context.Context, user string) (bool, error)
}
