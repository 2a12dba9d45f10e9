// Package registry is the Session Registry: it resolves a (user_id,
// session_id) pair to a running container, creating one on first use or
// after the previous one has died, and serializes all operations against
// a single session behind a per-session lock.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wardenhq/warden/internal/engine"
	"github.com/wardenhq/warden/internal/kvdir"
)

var (
	// ErrInvalidImage is returned when the requested image is not on the
	// configured allowlist.
	ErrInvalidImage = errors.New("registry: invalid image")
	// ErrNotFound is returned when a session has no live binding.
	ErrNotFound = errors.New("registry: not found")
	// ErrForbidden is returned when the caller's (user, sid) does not match
	// the owner recorded against the bound container's reverse index.
	ErrForbidden = errors.New("registry: forbidden")
)

// Options configures container creation policy, pulled from config at
// startup.
type Options struct {
	DefaultImage     string
	AllowedImages    map[string]bool // empty => no allowlist restriction
	SessionTTL       time.Duration
	MemLimitBytes    int64
	CPUQuotaNanos    int64
	PidsLimit        int64
	NofileSoft       uint64
	NofileHard       uint64
	TmpSizeBytes     int64
	WorkspaceSize    int64
	PersistVolumes   bool
	ReadonlyRootfs   bool
}

// Registry implements resolve-or-create / touch / destroy against the
// Container Driver and KV Directory, with a refcounted per-session lock
// table so concurrent requests for the same session serialize instead of
// racing to create duplicate containers.
type Registry struct {
	driver engine.Driver
	kv     *kvdir.Directory
	opts   Options

	locksMu sync.Mutex
	locks   map[string]*refCountedMutex
}

type refCountedMutex struct {
	mu       sync.Mutex
	refCount int
}

// New builds a Registry over the given Container Driver and KV Directory.
func New(driver engine.Driver, kv *kvdir.Directory, opts Options) *Registry {
	return &Registry{
		driver: driver,
		kv:     kv,
		opts:   opts,
		locks:  make(map[string]*refCountedMutex),
	}
}

func lockKey(user, sid string) string {
	return user + "\x00" + sid
}

// acquire returns the lock for (user, sid), creating it if absent, and
// increments its refcount. Callers must call release when done.
func (r *Registry) acquire(user, sid string) *refCountedMutex {
	key := lockKey(user, sid)
	r.locksMu.Lock()
	rc, ok := r.locks[key]
	if !ok {
		rc = &refCountedMutex{}
		r.locks[key] = rc
	}
	rc.refCount++
	r.locksMu.Unlock()
	rc.mu.Lock()
	return rc
}

// release unlocks the mutex and, if no other caller is waiting on it,
// removes it from the table so the lock table doesn't grow unbounded
// over the lifetime of the process.
func (r *Registry) release(user, sid string, rc *refCountedMutex) {
	rc.mu.Unlock()
	key := lockKey(user, sid)
	r.locksMu.Lock()
	rc.refCount--
	if rc.refCount <= 0 {
		delete(r.locks, key)
	}
	r.locksMu.Unlock()
}

// WithLock runs fn while holding the (user, sid) lock, letting the
// reaper serialize its removals against live requests for the same
// session.
func (r *Registry) WithLock(user, sid string, fn func()) {
	rc := r.acquire(user, sid)
	defer r.release(user, sid, rc)
	fn()
}

// ResolveOrCreate returns the ID of a running container bound to (user,
// sid), creating one if none is bound or the bound one is no longer
// alive.
func (r *Registry) ResolveOrCreate(ctx context.Context, user, sid, image string) (string, error) {
	rc := r.acquire(user, sid)
	defer r.release(user, sid, rc)

	image = r.resolveImage(image)
	if !r.isImageAllowed(image) {
		return "", fmt.Errorf("%w: %s", ErrInvalidImage, image)
	}

	if rec, err := r.kv.Get(ctx, user, sid); err == nil {
		if err := r.verifyOwnership(ctx, user, sid, rec.ContainerID); err != nil {
			return "", err
		}
		state, inspectErr := r.driver.Inspect(ctx, rec.ContainerID)
		if inspectErr == nil && state.Running {
			if err := r.kv.RefreshTTL(ctx, user, sid, r.opts.SessionTTL); err != nil {
				return "", fmt.Errorf("registry: refresh ttl: %w", err)
			}
			return rec.ContainerID, nil
		}
		// Binding is stale: the container died or vanished. Clean up the
		// binding and fall through to create a fresh one, reusing the same
		// persistent volume if the session is configured to persist.
		_ = r.driver.Remove(ctx, rec.ContainerID, true)
		_ = r.kv.Delete(ctx, user, sid)
	} else if !errors.Is(err, kvdir.ErrNotFound) {
		return "", fmt.Errorf("registry: lookup binding: %w", err)
	}

	return r.create(ctx, user, sid, image)
}

func (r *Registry) create(ctx context.Context, user, sid, image string) (string, error) {
	var workspaceMount engine.Mount
	var volumeName string
	if r.opts.PersistVolumes {
		volumeName = volumeNameFor(user, sid)
		if err := r.driver.VolumeCreate(ctx, volumeName); err != nil {
			return "", fmt.Errorf("registry: create volume: %w", err)
		}
		workspaceMount = engine.Mount{VolumeName: volumeName}
	} else {
		workspaceMount = engine.Mount{SizeBytes: r.opts.WorkspaceSize}
	}

	spec := engine.Spec{
		Image:          image,
		UserID:         user,
		SessionID:      sid,
		MemLimitBytes:  r.opts.MemLimitBytes,
		CPUQuotaNanos:  r.opts.CPUQuotaNanos,
		PidsLimit:      r.opts.PidsLimit,
		NofileSoft:     r.opts.NofileSoft,
		NofileHard:     r.opts.NofileHard,
		NetworkNone:    true,
		ReadonlyRootfs: r.opts.ReadonlyRootfs,
		WorkspaceMount: workspaceMount,
		TmpSizeBytes:   r.opts.TmpSizeBytes,
	}

	containerID, err := r.driver.Create(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("registry: create container: %w", err)
	}
	if err := r.driver.Start(ctx, containerID); err != nil {
		_ = r.driver.Remove(ctx, containerID, true)
		return "", fmt.Errorf("registry: start container: %w", err)
	}

	rec := kvdir.Record{ContainerID: containerID, VolumeName: volumeName}
	if err := r.kv.Put(ctx, user, sid, rec, r.opts.SessionTTL); err != nil {
		_ = r.driver.Remove(ctx, containerID, true)
		return "", fmt.Errorf("registry: put binding: %w", err)
	}

	return containerID, nil
}

// ContainerFor returns the container ID currently bound to (user, sid),
// without creating one, for callers (the Workspace Gateway) that must
// operate on an existing session rather than implicitly creating it.
func (r *Registry) ContainerFor(ctx context.Context, user, sid string) (string, error) {
	rec, err := r.kv.Get(ctx, user, sid)
	if errors.Is(err, kvdir.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("registry: lookup binding: %w", err)
	}
	if err := r.verifyOwnership(ctx, user, sid, rec.ContainerID); err != nil {
		return "", err
	}
	return rec.ContainerID, nil
}

// verifyOwnership checks the bound container's reverse index still names
// (user, sid) as its owner, guarding against a forward binding pointing at
// a container another session now owns.
func (r *Registry) verifyOwnership(ctx context.Context, user, sid, containerID string) error {
	owner, err := r.kv.Owner(ctx, containerID)
	if errors.Is(err, kvdir.ErrNotFound) {
		return fmt.Errorf("%w: no owner recorded for container", ErrForbidden)
	}
	if err != nil {
		return fmt.Errorf("registry: lookup owner: %w", err)
	}
	if owner.UserID != user || owner.SessionID != sid {
		return fmt.Errorf("%w: session does not own this container", ErrForbidden)
	}
	return nil
}

// Touch refreshes the session's TTL without creating anything, used after
// a successful exec or workspace operation to extend the lease.
func (r *Registry) Touch(ctx context.Context, user, sid string) error {
	rc := r.acquire(user, sid)
	defer r.release(user, sid, rc)
	return r.kv.RefreshTTL(ctx, user, sid, r.opts.SessionTTL)
}

// Destroy removes the bound container and the KV binding. A persistent
// volume is left in place; DestroyVolume removes it. Destroying an absent
// session is not an error.
func (r *Registry) Destroy(ctx context.Context, user, sid string) error {
	rc := r.acquire(user, sid)
	defer r.release(user, sid, rc)

	rec, err := r.kv.Get(ctx, user, sid)
	if errors.Is(err, kvdir.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("registry: lookup binding: %w", err)
	}
	if err := r.verifyOwnership(ctx, user, sid, rec.ContainerID); err != nil {
		return err
	}

	if err := r.driver.Remove(ctx, rec.ContainerID, true); err != nil {
		return fmt.Errorf("registry: remove container: %w", err)
	}
	if err := r.kv.Delete(ctx, user, sid); err != nil {
		return fmt.Errorf("registry: delete binding: %w", err)
	}
	return nil
}

// DestroyVolume removes the persistent volume backing a session, used by
// the explicit session-delete operation. It is separate from Destroy
// because a persistent volume otherwise outlives its container.
func (r *Registry) DestroyVolume(ctx context.Context, user, sid string) error {
	return r.driver.VolumeRemove(ctx, volumeNameFor(user, sid))
}

func (r *Registry) resolveImage(image string) string {
	if image == "" {
		return r.opts.DefaultImage
	}
	return image
}

func (r *Registry) isImageAllowed(image string) bool {
	if len(r.opts.AllowedImages) == 0 {
		return true
	}
	return r.opts.AllowedImages[image]
}

func volumeNameFor(user, sid string) string {
	sum := sha256.Sum256([]byte(user + "|" + sid))
	return "sandbox-ws-" + hex.EncodeToString(sum[:])
}
