// Package ratelimit implements a per-client-IP token bucket limiter. It
// gates admission into a session instead of wrapping an http.Handler —
// there is no net/http handler chain in this proxy, so the usual
// Wrap-based middleware decorator is replaced by a plain Allow(clientIP)
// check made once, right before a session reaches the admission gate.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements the classic token bucket algorithm.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int
	tokens     int
	refillRate int
	lastRefill time.Time
}

// NewTokenBucket creates a token bucket at full capacity.
func NewTokenBucket(capacity, refillRate int) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// TryConsume attempts to consume the given number of tokens.
func (tb *TokenBucket) TryConsume(tokens int) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= tokens {
		tb.tokens -= tokens
		return true
	}
	return false
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)

	tokensToAdd := int(elapsed.Seconds()) * tb.refillRate
	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}
}

// Limiter manages one TokenBucket per client IP, gating sessions before
// they reach the admission gate.
type Limiter struct {
	mu         sync.RWMutex
	buckets    map[string]*TokenBucket
	capacity   int
	refillRate int
}

// New creates a limiter with the given per-client capacity/refill rate.
func New(capacity, refillRate int) *Limiter {
	return &Limiter{
		buckets:    make(map[string]*TokenBucket),
		capacity:   capacity,
		refillRate: refillRate,
	}
}

// Allow reports whether a new session from clientIP may proceed.
func (l *Limiter) Allow(clientIP string) bool {
	return l.getBucket(clientIP).TryConsume(1)
}

// getBucket retrieves or lazily creates the bucket for clientIP, using
// double-checked locking to avoid holding the write lock on the common
// read path.
func (l *Limiter) getBucket(clientIP string) *TokenBucket {
	l.mu.RLock()
	bucket, exists := l.buckets[clientIP]
	l.mu.RUnlock()
	if exists {
		return bucket
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if bucket, exists := l.buckets[clientIP]; exists {
		return bucket
	}

	bucket = NewTokenBucket(l.capacity, l.refillRate)
	l.buckets[clientIP] = bucket
	return bucket
}
