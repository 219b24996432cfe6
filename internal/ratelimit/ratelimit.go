// Package ratelimit implements three token-bucket limiters: per-IP
// connect attempts, per-socket message rate, and per-user queue-join
// rate.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a keyed set of independent token buckets, one per key (IP,
// socket ID, or user ID depending on what it guards), built on
// golang.org/x/time/rate's standard token-bucket implementation rather
// than a hand-rolled sliding window.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter

	r     rate.Limit
	burst int
	idle  time.Duration

	lastSeen map[string]time.Time
}

// New builds a Limiter allowing r events/sec sustained with the given
// burst, per key. idle controls how long an unused key's bucket is kept
// before Cleanup evicts it.
func New(r rate.Limit, burst int, idle time.Duration) *Limiter {
	return &Limiter{
		buckets:  make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		r:        r,
		burst:    burst,
		idle:     idle,
	}
}

// NewPerMinute is a convenience constructor for "n per minute" limits
// (e.g. connects per IP), expressed as the equivalent per-second rate.
func NewPerMinute(n int, idle time.Duration) *Limiter {
	return New(rate.Limit(float64(n)/60.0), n, idle)
}

// NewPerSeconds is a convenience constructor for "n per d" limits (e.g.
// 3 queue-joins per 5 seconds).
func NewPerSeconds(n int, d time.Duration, idle time.Duration) *Limiter {
	return New(rate.Limit(float64(n)/d.Seconds()), n, idle)
}

// Allow reports whether key may proceed now, consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.r, l.burst)
		l.buckets[key] = b
	}
	l.lastSeen[key] = time.Now()
	l.mu.Unlock()
	return b.Allow()
}

// Cleanup evicts buckets for keys untouched for longer than idle. Call
// this periodically from a background sweep.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for key, seen := range l.lastSeen {
		if now.Sub(seen) > l.idle {
			delete(l.buckets, key)
			delete(l.lastSeen, key)
		}
	}
}

// Limiters bundles the three connection-supervisor-facing rate limiters.
type Limiters struct {
	Connect   *Limiter // 10 connects/min per IP
	Message   *Limiter // 20 msgs/s per socket
	QueueJoin *Limiter // 3 queue-joins/5s per user
}

// DefaultLimiters builds the three limiters with their documented defaults.
func DefaultLimiters() *Limiters {
	return &Limiters{
		Connect:   NewPerMinute(10, 10*time.Minute),
		Message:   New(20, 20, time.Minute),
		QueueJoin: NewPerSeconds(3, 5*time.Second, 5*time.Minute),
	}
}
