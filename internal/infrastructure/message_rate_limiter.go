package infrastructure

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MessageRateLimiter keeps a token bucket per key (client IP, user id or
// sender phone).
type MessageRateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	interval time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMessageRateLimiter allows perSecond events with the given burst per key.
func NewMessageRateLimiter(perSecond float64, burst int) *MessageRateLimiter {
	return &MessageRateLimiter{
		buckets:  make(map[string]*bucket),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		interval: 5 * time.Minute,
	}
}

func (rl *MessageRateLimiter) get(key string) *bucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = time.Now()
	return b
}

// Allow consumes one token for key if available.
func (rl *MessageRateLimiter) Allow(key string) bool {
	return rl.get(key).limiter.Allow()
}

// WaitTime returns how long until key gets its next token.
func (rl *MessageRateLimiter) WaitTime(key string) time.Duration {
	r := rl.get(key).limiter.Reserve()
	defer r.Cancel()
	return r.Delay()
}

func (rl *MessageRateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, key)
}

// Run evicts idle buckets until ctx is done.
func (rl *MessageRateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(rl.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evictIdle(time.Now())
		}
	}
}

func (rl *MessageRateLimiter) evictIdle(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	evicted := 0
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.idleTTL {
			delete(rl.buckets, key)
			evicted++
		}
	}
	return evicted
}

func (rl *MessageRateLimiter) Stats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return map[string]interface{}{
		"active_keys": len(rl.buckets),
		"rate":        float64(rl.limit),
		"burst":       rl.burst,
	}
}
