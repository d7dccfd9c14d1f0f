package session

import (
	"context"
	"time"

	"github.com/blindsend/blindsend/internal/ratelimit"
)

// Pacer decides how long to hold a chunk before it is uploaded. Wait is
// called once per chunk, in sequence order, and must return early with
// ctx.Err() when ctx is done.
type Pacer interface {
	Wait(ctx context.Context, sequenceID, size int) error
}

// NoPacing uploads chunks back to back.
type NoPacing struct{}

func (NoPacing) Wait(ctx context.Context, _, _ int) error {
	return ctx.Err()
}

type fixedInterval struct {
	d time.Duration
}

// FixedInterval sleeps d before every chunk except the first.
func FixedInterval(d time.Duration) Pacer {
	return fixedInterval{d: d}
}

func (p fixedInterval) Wait(ctx context.Context, sequenceID, _ int) error {
	if sequenceID <= 1 || p.d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TokenBucketPacer limits upload bandwidth to rate bytes per second with
// bursts of up to burst bytes.
type TokenBucketPacer struct {
	bucket *ratelimit.TokenBucket
}

func NewTokenBucketPacer(rate float64, burst int) *TokenBucketPacer {
	return &TokenBucketPacer{bucket: ratelimit.NewTokenBucket(rate, burst)}
}

func (p *TokenBucketPacer) Wait(ctx context.Context, _, size int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.bucket.Wait(ctx, size)
}
