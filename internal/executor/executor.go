// Package executor runs a whitelisted command line inside a session's
// container with a hard wall-clock timeout, bounded output capture, and
// exit-code/truncation bookkeeping.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/command"
	"github.com/wardenhq/warden/internal/engine"
)

// MaxOutputBytes bounds each of stdout/stderr; overflow truncates the
// tail and sets Result.Truncated.
const MaxOutputBytes = 1 << 20 // 1 MiB

// ErrCommandNotAllowed is returned when argv[0] is not on the whitelist.
var ErrCommandNotAllowed = errors.New("executor: command not allowed")

// ErrInvalidWorkingDir is returned when working_dir escapes the allowed
// roots.
var ErrInvalidWorkingDir = errors.New("executor: invalid working_dir")

// Resolver resolves a session to a running container and refreshes its
// lease, matching the Session Registry's contract without importing it
// directly (keeps the executor testable against a fake).
type Resolver interface {
	ResolveOrCreate(ctx context.Context, user, sid, image string) (containerID string, err error)
	Touch(ctx context.Context, user, sid string) error
}

// Result is the outcome of running a command line.
type Result struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	DurationMs int64
	TimedOut   bool
	Truncated  bool
}

// Executor wires the command whitelist, Session Registry, and Container
// Driver together into the single `execute` operation.
type Executor struct {
	driver    engine.Driver
	registry  Resolver
	whitelist *command.Whitelist
	image     string
	defaultTO time.Duration
	maxTO     time.Duration
}

// New builds an Executor. defaultTimeout is used when the caller does
// not specify one; maxTimeout caps whatever the caller requests. image is
// the container image passed through to ResolveOrCreate on first use.
func New(driver engine.Driver, registry Resolver, whitelist *command.Whitelist, image string, defaultTimeout, maxTimeout time.Duration) *Executor {
	return &Executor{driver: driver, registry: registry, whitelist: whitelist, image: image, defaultTO: defaultTimeout, maxTO: maxTimeout}
}

// Execute resolves (user, sid) to a running container, validates
// commandLine against the whitelist and working_dir restriction, runs it,
// and refreshes the session's lease on return.
func (e *Executor) Execute(ctx context.Context, user, sid, commandLine, workingDir string, timeout time.Duration) (*Result, error) {
	containerID, err := e.registry.ResolveOrCreate(ctx, user, sid, e.image)
	if err != nil {
		return nil, fmt.Errorf("executor: resolve session: %w", err)
	}

	commandLine = strings.TrimSpace(commandLine)
	if !e.whitelist.Allowed(commandLine) {
		return nil, fmt.Errorf("%w: %s", ErrCommandNotAllowed, commandLine)
	}
	argv, err := command.Split(commandLine)
	if err != nil || len(argv) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCommandNotAllowed, commandLine)
	}

	if workingDir == "" {
		workingDir = "/workspace"
	}
	if !strings.HasPrefix(workingDir, "/workspace") && !strings.HasPrefix(workingDir, "/tmp") {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWorkingDir, workingDir)
	}

	timeout = e.clampTimeout(timeout)

	defer func() { _ = e.registry.Touch(ctx, user, sid) }()

	start := time.Now()
	res, err := e.driver.Exec(ctx, containerID, argv, workingDir, timeout)
	duration := time.Since(start)

	if errors.Is(err, engine.ErrTimeout) {
		return &Result{
			ExitCode:   124,
			DurationMs: duration.Milliseconds(),
			TimedOut:   true,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("executor: exec: %w", err)
	}

	stdout, stdoutTrunc := truncate(res.Stdout, MaxOutputBytes)
	stderr, stderrTrunc := truncate(res.Stderr, MaxOutputBytes)

	exitCode := res.ExitCode
	if exitCode < 0 {
		exitCode = -1
	}

	return &Result{
		ExitCode:   exitCode,
		Stdout:     stdout,
		Stderr:     stderr,
		DurationMs: duration.Milliseconds(),
		TimedOut:   false,
		Truncated:  stdoutTrunc || stderrTrunc,
	}, nil
}

func (e *Executor) clampTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return e.defaultTO
	}
	if requested > e.maxTO {
		return e.maxTO
	}
	return requested
}

func truncate(b []byte, max int) (string, bool) {
	if len(b) <= max {
		return string(b), false
	}
	return string(b[:max]), true
}
