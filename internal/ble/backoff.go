package ble

import (
	"context"
	"math"
	"time"
)

// Backoff computes reconnect delays: Base * Multiplier^(attempt-1).
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration // 0 means unbounded
}

// DefaultBackoff waits 500ms, 1s, 2s, 4s, ... without a ceiling.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       500 * time.Millisecond,
		Multiplier: 2.0,
	}
}

// Delay returns the wait before reconnect attempt n (1-based). Attempts
// below 1 are treated as the first attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base) * math.Pow(b.Multiplier, float64(attempt-1))

	// Past ~292 years the float no longer fits a Duration.
	delay := time.Duration(math.MaxInt64)
	if d < math.MaxInt64 && !math.IsNaN(d) {
		delay = time.Duration(d)
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
