// Package backoff provides exponential backoff for retry loops.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrAttemptsExhausted is returned when every retry attempt has failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Policy defines an exponential backoff schedule.
type Policy struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Max caps the computed delay.
	Max time.Duration
	// Factor multiplies the delay after each attempt.
	Factor float64
	// Jitter is a randomization factor in [0.0, 1.0] added to each delay.
	Jitter float64
}

// ConnectPolicy is the schedule used for tool-provider connection attempts:
// 1s, 2s, 4s, ... capped at 30s, no jitter, so delays are strictly
// increasing across attempts.
func ConnectPolicy() Policy {
	return Policy{
		Initial: time.Second,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0,
	}
}

// DefaultPolicy is a general-purpose schedule: 100ms base doubling up to
// 30s with 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 100 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay computes the delay after the given attempt number (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter needs no crypto randomness
}

// delayWithRand computes the delay using the supplied random value in
// [0.0, 1.0); split out so tests can be deterministic.
func (p Policy) delayWithRand(attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	jitter := base * p.Jitter * random
	total := math.Min(float64(p.Max), base+jitter)
	return time.Duration(total)
}

// Sleep waits for the given duration, returning early with ctx.Err() if the
// context is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SleepAfter waits out the policy delay for the given attempt.
func SleepAfter(ctx context.Context, p Policy, attempt int) error {
	return Sleep(ctx, p.Delay(attempt))
}

// Retry runs fn up to maxAttempts times, sleeping the policy delay between
// failures. fn receives the 1-indexed attempt number. The context is checked
// before every attempt so shutdown interrupts the ladder between tries.
func Retry(ctx context.Context, p Policy, maxAttempts int, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(attempt); lastErr == nil {
			return nil
		}
		if attempt < maxAttempts {
			if err := SleepAfter(ctx, p, attempt); err != nil {
				return err
			}
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return ErrAttemptsExhausted
}
