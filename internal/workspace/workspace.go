// Package workspace is the Workspace Gateway: it lists, reads, writes,
// and deletes files inside a session's live container under a fixed
// /workspace root, with path-traversal defense and size limits.
package workspace

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wardenhq/warden/internal/engine"
)

// internalOpTimeout bounds the ls/rm helper execs the gateway issues
// itself, distinct from the caller-specified timeout on /execute.
const internalOpTimeout = 10 * time.Second

// ErrInvalidPath is returned when the requested path escapes /workspace.
var ErrInvalidPath = errors.New("workspace: invalid path")

// ErrTooLarge is returned when a file exceeds the configured size limit.
var ErrTooLarge = errors.New("workspace: file too large")

const root = "/workspace"

// Entry is one listing result.
type Entry struct {
	Name  string
	IsDir bool
}

// ReadResult is the outcome of a file read.
type ReadResult struct {
	Encoding string // "utf8" or "base64"
	Content  string
}

// Resolver resolves a session to its existing container, without
// creating one, matching the registry's narrower read-only contract for
// workspace operations.
type Resolver interface {
	ContainerFor(ctx context.Context, user, sid string) (string, error)
	Touch(ctx context.Context, user, sid string) error
}

// Gateway implements the file-operation surface against the Container
// Driver's archive and exec APIs.
type Gateway struct {
	driver       engine.Driver
	registry     Resolver
	maxFileBytes int64 // 0 disables the limit
}

// New builds a Gateway. maxFileBytes of 0 disables the size limit.
func New(driver engine.Driver, registry Resolver, maxFileBytes int64) *Gateway {
	return &Gateway{driver: driver, registry: registry, maxFileBytes: maxFileBytes}
}

// resolvePath joins rel onto /workspace and rejects any lexically
// normalized result that escapes the root or contains a ".." component.
// An empty rel means the workspace root itself.
func resolvePath(rel string) (string, error) {
	if rel == "" {
		return root, nil
	}
	if strings.HasPrefix(rel, "/") {
		return "", ErrInvalidPath
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return "", ErrInvalidPath
		}
	}
	joined := path.Join(root, rel)
	if joined != root && !strings.HasPrefix(joined, root+"/") {
		return "", ErrInvalidPath
	}
	return joined, nil
}

// List returns the entries directly under dirPath (relative to
// /workspace) by exec'ing `ls -1Ap` inside the container.
func (g *Gateway) List(ctx context.Context, user, sid, dirPath string) ([]Entry, error) {
	abs, err := resolvePath(dirPath)
	if err != nil {
		return nil, err
	}
	containerID, err := g.registry.ContainerFor(ctx, user, sid)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve container: %w", err)
	}

	res, err := g.driver.Exec(ctx, containerID, []string{"ls", "-1Ap", abs}, root, internalOpTimeout)
	if err != nil {
		return nil, fmt.Errorf("workspace: list: %w", err)
	}
	defer func() { _ = g.registry.Touch(ctx, user, sid) }()

	return parseLSEntries(string(res.Stdout)), nil
}

func parseLSEntries(output string) []Entry {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	entries := make([]Entry, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		isDir := strings.HasSuffix(line, "/")
		name := strings.TrimSuffix(line, "/")
		entries = append(entries, Entry{Name: name, IsDir: isDir})
	}
	return entries
}

// Read copies a single file out of the container via the archive API and
// decodes it to utf8 or base64, depending on content.
func (g *Gateway) Read(ctx context.Context, user, sid, filePath string) (*ReadResult, error) {
	abs, err := resolvePath(filePath)
	if err != nil || abs == root {
		return nil, ErrInvalidPath
	}
	containerID, err := g.registry.ContainerFor(ctx, user, sid)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve container: %w", err)
	}

	rc, err := g.driver.CopyFromContainer(ctx, containerID, abs)
	if err != nil {
		return nil, fmt.Errorf("workspace: copy from container: %w", err)
	}
	defer rc.Close()
	defer func() { _ = g.registry.Touch(ctx, user, sid) }()

	tr := tar.NewReader(rc)
	hdr, err := tr.Next()
	if err == io.EOF {
		return nil, fmt.Errorf("workspace: empty archive for %s", abs)
	}
	if err != nil {
		return nil, fmt.Errorf("workspace: read archive header: %w", err)
	}
	if g.maxFileBytes > 0 && hdr.Size > g.maxFileBytes {
		return nil, ErrTooLarge
	}

	var buf bytes.Buffer
	limit := hdr.Size
	if g.maxFileBytes > 0 {
		limit = g.maxFileBytes + 1
	}
	if _, err := io.CopyN(&buf, tr, limit); err != nil && err != io.EOF {
		return nil, fmt.Errorf("workspace: read file contents: %w", err)
	}
	if g.maxFileBytes > 0 && int64(buf.Len()) > g.maxFileBytes {
		return nil, ErrTooLarge
	}
	defer func() { _ = g.registry.Touch(ctx, user, sid) }()

	if utf8.Valid(buf.Bytes()) {
		return &ReadResult{Encoding: "utf8", Content: buf.String()}, nil
	}
	return &ReadResult{Encoding: "base64", Content: base64.StdEncoding.EncodeToString(buf.Bytes())}, nil
}

// Write builds an in-memory tar archive containing filePath's content
// (with intermediate-directory headers) and streams it into the
// container via the archive-put API.
func (g *Gateway) Write(ctx context.Context, user, sid, filePath string, content []byte) error {
	abs, err := resolvePath(filePath)
	if err != nil || abs == root {
		return ErrInvalidPath
	}
	if g.maxFileBytes > 0 && int64(len(content)) > g.maxFileBytes {
		return ErrTooLarge
	}
	containerID, err := g.registry.ContainerFor(ctx, user, sid)
	if err != nil {
		return fmt.Errorf("workspace: resolve container: %w", err)
	}

	rel := strings.TrimPrefix(abs, root+"/")
	archive, err := buildFileArchive(rel, content)
	if err != nil {
		return fmt.Errorf("workspace: build archive: %w", err)
	}

	if err := g.driver.CopyToContainer(ctx, containerID, root, archive); err != nil {
		return fmt.Errorf("workspace: copy to container: %w", err)
	}
	defer func() { _ = g.registry.Touch(ctx, user, sid) }()
	return nil
}

// buildFileArchive produces a tar stream rooted at the destination
// directory: one 0755 header per intermediate directory component, then
// the file itself at mode 0644, owned by uid/gid 1000.
func buildFileArchive(rel string, content []byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	dir := path.Dir(rel)
	if dir != "." {
		parts := strings.Split(dir, "/")
		accum := ""
		for _, p := range parts {
			accum = path.Join(accum, p)
			if err := tw.WriteHeader(&tar.Header{
				Name:     accum + "/",
				Typeflag: tar.TypeDir,
				Mode:     0755,
				Uid:      1000,
				Gid:      1000,
			}); err != nil {
				return nil, err
			}
		}
	}

	if err := tw.WriteHeader(&tar.Header{
		Name: rel,
		Mode: 0644,
		Size: int64(len(content)),
		Uid:  1000,
		Gid:  1000,
	}); err != nil {
		return nil, err
	}
	if _, err := tw.Write(content); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// Delete removes filePath (or a directory and its contents) by exec'ing
// `rm -rf --one-file-system` inside the container.
func (g *Gateway) Delete(ctx context.Context, user, sid, filePath string) error {
	abs, err := resolvePath(filePath)
	if err != nil || abs == root {
		return ErrInvalidPath
	}
	containerID, err := g.registry.ContainerFor(ctx, user, sid)
	if err != nil {
		return fmt.Errorf("workspace: resolve container: %w", err)
	}

	res, err := g.driver.Exec(ctx, containerID, []string{"rm", "-rf", "--one-file-system", abs}, root, internalOpTimeout)
	if err != nil {
		return fmt.Errorf("workspace: delete: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("workspace: delete: rm exited %d: %s", res.ExitCode, string(res.Stderr))
	}
	defer func() { _ = g.registry.Touch(ctx, user, sid) }()
	return nil
}
