// Package ratelimit enforces a per-user request budget across all API
// replicas using a Redis counter, matching the reference implementation's
// incr-then-expire window but exposed as the single Allow check the HTTP
// middleware needs.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter enforces Requests-per-Window per user, shared across replicas
// via Redis INCR/EXPIRE on `ratelimit:{user}:{window}`. A local token
// bucket per user sheds obviously-abusive bursts before they ever reach
// Redis; it is looser than the shared budget (2x rate and burst).
// Requests the shared counter rejects still draw local tokens, so right
// after such a burst the local bucket can reject a request the shared
// counter would have allowed.
type Limiter struct {
	rdb      *redis.Client
	requests int64
	window   int64 // seconds

	localMu sync.Mutex
	local   map[string]*rate.Limiter
}

// New builds a Limiter. requests is the budget per window; window is in
// seconds.
func New(rdb *redis.Client, requests, windowSeconds int) *Limiter {
	return &Limiter{
		rdb:      rdb,
		requests: int64(requests),
		window:   int64(windowSeconds),
		local:    make(map[string]*rate.Limiter),
	}
}

func key(user string, window int64) string {
	return fmt.Sprintf("ratelimit:%s:%d", user, window)
}

// Allow increments the counter for user's current window and reports
// whether the request is within budget. The window key is set to expire
// on its first increment so stale counters never accumulate.
func (l *Limiter) Allow(ctx context.Context, user string) (bool, error) {
	if !l.localLimiter(user).Allow() {
		return false, nil
	}

	window := time.Now().Unix() / l.window
	k := key(user, window)

	count, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: incr: %w", err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, k, time.Duration(l.window)*time.Second).Err(); err != nil {
			return false, fmt.Errorf("ratelimit: expire: %w", err)
		}
	}

	return count <= l.requests, nil
}

func (l *Limiter) localLimiter(user string) *rate.Limiter {
	l.localMu.Lock()
	defer l.localMu.Unlock()

	lim, ok := l.local[user]
	if !ok {
		perSecond := rate.Limit(float64(l.requests) / float64(l.window) * 2)
		burst := int(l.requests * 2)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(perSecond, burst)
		l.local[user] = lim
	}
	return lim
}
