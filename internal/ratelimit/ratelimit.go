// Package ratelimit paces requests to the analytics site and enrichment APIs.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// JitterLimiter spaces calls by a random delay in [min, max).
type JitterLimiter struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
}

func NewJitterLimiter(minDelay, maxDelay time.Duration) *JitterLimiter {
	return &JitterLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
	}
}

func (r *JitterLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := time.Since(r.lastAction)
	delay := r.delay()

	if elapsed < delay {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay - elapsed):
		}
	}

	r.lastAction = time.Now()
	return nil
}

func (r *JitterLimiter) SetDelay(min, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.minDelay = min
	r.maxDelay = max
}

// Delays returns the current bounds.
func (r *JitterLimiter) Delays() (time.Duration, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minDelay, r.maxDelay
}

func (r *JitterLimiter) delay() time.Duration {
	if r.maxDelay <= r.minDelay {
		return r.minDelay
	}
	return r.minDelay + time.Duration(rand.Int63n(int64(r.maxDelay-r.minDelay)))
}

// AdaptiveLimiter slows down after repeated errors (blocks, captchas) and
// speeds back up slowly after a run of successes.
type AdaptiveLimiter struct {
	*JitterLimiter
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
	floor         time.Duration
	ceilingMin    time.Duration
	ceilingMax    time.Duration
}

func NewAdaptiveLimiter(minDelay, maxDelay time.Duration) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		JitterLimiter: NewJitterLimiter(minDelay, maxDelay),
		maxErrorCount: 3,
		backoffFactor: 1.5,
		floor:         time.Second,
		ceilingMin:    60 * time.Second,
		ceilingMax:    120 * time.Second,
	}
}

func (a *AdaptiveLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount > 5 {
		newMin := time.Duration(float64(a.minDelay) * 0.9)
		if newMin < a.floor {
			newMin = a.floor
		}
		a.minDelay = newMin
		a.successCount = 0
	}
}

func (a *AdaptiveLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount >= a.maxErrorCount {
		a.minDelay = min(time.Duration(float64(a.minDelay)*a.backoffFactor), a.ceilingMin)
		a.maxDelay = min(time.Duration(float64(a.maxDelay)*a.backoffFactor), a.ceilingMax)
		a.errorCount = 0
	}
}

// TokenBucket allows bursts of up to maxTokens calls, refilling one token
// every refillRate. Used for APIs with a per-minute quota.
type TokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
	mu         sync.Mutex
	minDelay   time.Duration
}

func NewTokenBucket(maxTokens int, refillRate time.Duration) *TokenBucket {
	return &TokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (t *TokenBucket) Wait(ctx context.Context) error {
	t.mu.Lock()
	t.refill()

	for t.tokens <= 0 {
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.refillRate):
		}

		t.mu.Lock()
		t.refill()
	}

	t.tokens--
	delay := t.minDelay
	t.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func (t *TokenBucket) refill() {
	if t.refillRate <= 0 {
		t.tokens = t.maxTokens
		return
	}

	tokensToAdd := int(time.Since(t.lastRefill) / t.refillRate)
	if tokensToAdd > 0 {
		t.tokens = min(t.tokens+tokensToAdd, t.maxTokens)
		t.lastRefill = time.Now()
	}
}

func (t *TokenBucket) SetDelay(min, max time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.minDelay = min
}

// Backoff returns base * 2^attempt capped at max, for attempt >= 0.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return min(d, max)
}
