// Package reaper periodically removes containers that have exceeded the
// configured maximum age, together with their KV bindings, and provides a
// separate ReconcileScan pass that reconciles the KV directory against
// what the Container Driver actually has running.
package reaper

import (
	"context"
	"log/slog"
	"time"
)

const managedLabel = "sandbox.managed=true"

// Driver is the subset of the Container Driver the reaper needs.
type Driver interface {
	ListByLabel(ctx context.Context, label string) ([]ContainerSummary, error)
	Remove(ctx context.Context, containerID string, force bool) error
}

// ContainerSummary mirrors engine.ContainerSummary; kept as a local type
// so this package does not need to import the engine package directly.
type ContainerSummary struct {
	ContainerID string
	UserID      string
	SessionID   string
	CreatedAt   time.Time
}

// Directory is the subset of the KV Directory the reaper needs to
// reconcile bindings whose container has disappeared.
type Directory interface {
	Delete(ctx context.Context, user, sid string) error
}

// Locker lets the reaper take the same per-session lock that
// ResolveOrCreate, Touch and Destroy take, so a removal is serialized
// against those calls for the same session. An exec or workspace operation
// already running against the container does not hold this lock.
type Locker interface {
	WithLock(user, sid string, fn func())
}

// Reaper removes containers older than MaxAge, and their KV bindings,
// every Interval. Run does not call ReconcileScan.
type Reaper struct {
	driver   Driver
	kv       Directory
	locker   Locker
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
}

// New builds a Reaper. locker may be nil, in which case removals proceed
// without taking the per-session lock (acceptable for single-instance
// deployments where the reaper is the only other writer).
func New(driver Driver, kv Directory, locker Locker, interval, maxAge time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{driver: driver, kv: kv, locker: locker, interval: interval, maxAge: maxAge, logger: logger}
}

// Run blocks, running one cycle immediately and then every interval,
// until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started", "interval", r.interval, "max_age", r.maxAge)

	r.cycle(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

// cycle lists every sandbox-managed container, removes the ones past
// MaxAge, and drops their KV bindings. Each removal runs under the
// per-session lock when a Locker is set. Age is measured from the
// container's creation time only: a session that was used recently is
// still removed once its container is past MaxAge.
func (r *Reaper) cycle(ctx context.Context) {
	containers, err := r.driver.ListByLabel(ctx, managedLabel)
	if err != nil {
		r.logger.Error("reaper: list managed containers", "error", err)
		return
	}

	now := time.Now()
	reaped := 0
	for _, c := range containers {
		if now.Sub(c.CreatedAt) <= r.maxAge {
			continue
		}

		remove := func() {
			if err := r.driver.Remove(ctx, c.ContainerID, true); err != nil {
				r.logger.Error("reaper: remove container", "container_id", c.ContainerID, "error", err)
				return
			}
			if err := r.kv.Delete(ctx, c.UserID, c.SessionID); err != nil {
				r.logger.Error("reaper: delete binding", "user_id", c.UserID, "session_id", c.SessionID, "error", err)
			}
			reaped++
		}

		if r.locker != nil {
			r.locker.WithLock(c.UserID, c.SessionID, remove)
		} else {
			remove()
		}
	}

	if reaped > 0 {
		r.logger.Info("reaper: reaped containers", "count", reaped)
	}
}

// ReconcileScan enumerates KV sessions via scan (if the store supports
// one) and drops any binding whose container_id is no longer present in
// the driver's label listing. scan may be nil for a KV backend without
// scan support, in which case reconciliation is a no-op beyond cycle's
// age-based removal.
func (r *Reaper) ReconcileScan(ctx context.Context, scan func(ctx context.Context) (map[string][2]string, error)) error {
	if scan == nil {
		return nil
	}
	owners, err := scan(ctx)
	if err != nil {
		return err
	}

	containers, err := r.driver.ListByLabel(ctx, managedLabel)
	if err != nil {
		return err
	}
	live := make(map[string]bool, len(containers))
	for _, c := range containers {
		live[c.ContainerID] = true
	}

	for containerID, pair := range owners {
		if live[containerID] {
			continue
		}
		if err := r.kv.Delete(ctx, pair[0], pair[1]); err != nil {
			r.logger.Error("reaper: reconcile delete", "user_id", pair[0], "session_id", pair[1], "error", err)
		}
	}
	return nil
}
