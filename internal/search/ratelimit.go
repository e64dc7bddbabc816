package search

import (
	"sync"
	"time"

	"github.com/weblinq/weblinq-go/internal/clock"
)

const (
	bucketLimit  = 60
	bucketWindow = 60 * time.Second
)

type bucketKey struct {
	ip     string
	engine string
}

type bucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter enforces the per-(client ip, engine) quota of 60 requests per
// rolling minute. Buckets live in memory and expire with their window.
type RateLimiter struct {
	clk    clock.Clock
	limit  int
	window time.Duration

	mu      sync.Mutex
	buckets map[bucketKey]*bucket
}

// NewRateLimiter creates an empty limiter with the default quota.
func NewRateLimiter(clk clock.Clock) *RateLimiter {
	return &RateLimiter{
		clk:     clk,
		limit:   bucketLimit,
		window:  bucketWindow,
		buckets: make(map[bucketKey]*bucket),
	}
}

// SetQuota overrides the per-(ip, engine) quota. Existing buckets keep the
// window they were opened with.
func (rl *RateLimiter) SetQuota(limit int, window time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limit > 0 {
		rl.limit = limit
	}
	if window > 0 {
		rl.window = window
	}
}

// Allow consumes one token for (ip, engine); false means the caller must
// skip this engine for the current window.
func (rl *RateLimiter) Allow(ip, engine string) bool {
	now := rl.clk.Now()
	key := bucketKey{ip: ip, engine: engine}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok || now.After(b.resetAt) {
		rl.buckets[key] = &bucket{count: 1, resetAt: now.Add(rl.window)}
		rl.prune(now)
		return true
	}
	if b.count >= rl.limit {
		return false
	}
	b.count++
	return true
}

// prune drops expired buckets. Called with the lock held, on the window
// rollover path so steady traffic does not pay for it per request.
func (rl *RateLimiter) prune(now time.Time) {
	for key, b := range rl.buckets {
		if now.After(b.resetAt) {
			delete(rl.buckets, key)
		}
	}
}
