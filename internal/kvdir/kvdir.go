// Package kvdir is the thin typed interface over the TTL'd key-value store
// that records session->container bindings. It performs no policy of its
// own: the Session Registry decides when to create, refresh, or delete a
// binding, kvdir only stores it.
package kvdir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get when the session has no recorded binding.
var ErrNotFound = errors.New("kvdir: not found")

// Record is the value stored under session:{user}:{sid}.
type Record struct {
	ContainerID string `json:"container_id"`
	VolumeName  string `json:"volume_name,omitempty"`
}

// Owner is the value stored under the reverse index container:{cid}.
type Owner struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// Directory is the KV Directory described in the design: a typed wrapper
// around Redis that owns the session and reverse-index key layout.
type Directory struct {
	rdb *redis.Client
}

// New wraps an existing Redis client. The caller owns the client's
// lifecycle (Close).
func New(rdb *redis.Client) *Directory {
	return &Directory{rdb: rdb}
}

func sessionKey(user, sid string) string {
	return fmt.Sprintf("session:%s:%s", user, sid)
}

func containerKey(containerID string) string {
	return fmt.Sprintf("container:%s", containerID)
}

// Get returns the record bound to (user, sid), or ErrNotFound.
func (d *Directory) Get(ctx context.Context, user, sid string) (*Record, error) {
	raw, err := d.rdb.Get(ctx, sessionKey(user, sid)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvdir: get session: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("kvdir: decode session record: %w", err)
	}
	return &rec, nil
}

// Put atomically writes the forward session key and the reverse
// container->owner index with the same TTL, using a Redis pipeline so
// both keys land together (or neither does, on a pipeline transport
// error — Redis itself does not roll back a partially-applied MULTI on a
// later command error, so the registry treats a Put failure as "binding
// may not exist" and recreates on next resolve).
func (d *Directory) Put(ctx context.Context, user, sid string, rec Record, ttl time.Duration) error {
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("kvdir: encode session record: %w", err)
	}
	ownerJSON, err := json.Marshal(Owner{UserID: user, SessionID: sid})
	if err != nil {
		return fmt.Errorf("kvdir: encode owner record: %w", err)
	}

	_, err = d.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(user, sid), recJSON, ttl)
		pipe.Set(ctx, containerKey(rec.ContainerID), ownerJSON, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("kvdir: put session: %w", err)
	}
	return nil
}

// RefreshTTL extends both the forward and reverse keys. It is a no-op
// (not an error) if the forward key is already gone — the caller (the
// reaper is the final authority here) will recreate on next access.
func (d *Directory) RefreshTTL(ctx context.Context, user, sid string, ttl time.Duration) error {
	rec, err := d.Get(ctx, user, sid)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = d.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Expire(ctx, sessionKey(user, sid), ttl)
		pipe.Expire(ctx, containerKey(rec.ContainerID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("kvdir: refresh ttl: %w", err)
	}
	return nil
}

// Delete removes both the forward and reverse keys. Deleting an absent
// session is not an error.
func (d *Directory) Delete(ctx context.Context, user, sid string) error {
	rec, err := d.Get(ctx, user, sid)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = d.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(user, sid))
		pipe.Del(ctx, containerKey(rec.ContainerID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("kvdir: delete session: %w", err)
	}
	return nil
}

// Owner returns the (user, sid) pair bound to a container, via the
// reverse index. Used by the reaper to reconcile KV state against the
// label-driven container listing.
func (d *Directory) Owner(ctx context.Context, containerID string) (*Owner, error) {
	raw, err := d.rdb.Get(ctx, containerKey(containerID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvdir: get owner: %w", err)
	}
	var owner Owner
	if err := json.Unmarshal([]byte(raw), &owner); err != nil {
		return nil, fmt.Errorf("kvdir: decode owner record: %w", err)
	}
	return &owner, nil
}
