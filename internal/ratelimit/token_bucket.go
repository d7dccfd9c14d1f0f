// Package ratelimit shapes upload bandwidth with a token bucket.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type TokenBucket struct {
	rate       float64 // tokens per second
	burst      int     // max tokens
	available  float64
	lastRefill time.Time
	mu         sync.Mutex
}

func NewTokenBucket(rate float64, burst int) *TokenBucket {
	return &TokenBucket{rate: rate, burst: burst, available: float64(burst), lastRefill: time.Now()}
}

func (tb *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.available += elapsed * tb.rate
	if tb.available > float64(tb.burst) {
		tb.available = float64(tb.burst)
	}
	tb.lastRefill = now
}

// Allow consumes n tokens if available and returns true, otherwise false.
func (tb *TokenBucket) Allow(n int) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked(time.Now())
	if tb.available >= float64(n) {
		tb.available -= float64(n)
		return true
	}
	return false
}

// Wait blocks until n tokens are paid for or ctx is done. Requests larger
// than the burst go into debt and wait it off, so the long-run rate holds
// for any n. A non-positive rate never blocks.
func (tb *TokenBucket) Wait(ctx context.Context, n int) error {
	if tb.rate <= 0 {
		return nil
	}

	tb.mu.Lock()
	tb.refillLocked(time.Now())
	tb.available -= float64(n)
	deficit := -tb.available
	tb.mu.Unlock()

	if deficit <= 0 {
		return nil
	}

	timer := time.NewTimer(time.Duration(deficit / tb.rate * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		tb.mu.Lock()
		tb.available += float64(n)
		tb.mu.Unlock()
		return ctx.Err()
	}
}
