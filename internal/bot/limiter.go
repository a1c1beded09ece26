package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitor holds a single rate limiter and the last time it was seen.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a per-subscriber token bucket. It keeps one subscriber from
// flooding the shared store gate with identity guesses; other subscribers
// keep their own budget.
//
// Buckets are created on demand and evicted after ttl of inactivity by an
// opportunistic sweep every sweepEvery lookups. Safe for concurrent use.
type Limiter struct {
	rps   rate.Limit
	burst int
	now   func() time.Time

	mu       sync.Mutex
	visitors map[int64]*visitor

	ttl        time.Duration
	sweepEvery uint64
	lookups    uint64
}

// NewLimiter allows rps events per second per subscriber with the given
// burst. rps <= 0 disables limiting; burst <= 0 is coerced to 1.
func NewLimiter(rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	lim := rate.Limit(rps)
	if rps <= 0 {
		lim = rate.Inf
	}
	return &Limiter{
		rps:        lim,
		burst:      burst,
		now:        time.Now,
		visitors:   make(map[int64]*visitor),
		ttl:        10 * time.Minute,
		sweepEvery: 5000,
	}
}

// Allow reports whether subscriber may proceed now, consuming a token if so.
// A nil Limiter allows everything.
func (l *Limiter) Allow(subscriber int64) bool {
	if l == nil {
		return true
	}
	now := l.now()
	return l.get(subscriber, now).AllowN(now, 1)
}

// Len returns the number of tracked subscribers.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// get returns the bucket for subscriber. The sweep runs before the lookup so
// a stale bucket is evicted even when it is the one being fetched.
func (l *Limiter) get(subscriber int64, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lookups++
	if l.lookups >= l.sweepEvery {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) >= l.ttl {
				delete(l.visitors, k)
			}
		}
		l.lookups = 0
	}

	if v, ok := l.visitors[subscriber]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	l.visitors[subscriber] = &visitor{limiter: lim, lastSeen: now}
	return lim
}
