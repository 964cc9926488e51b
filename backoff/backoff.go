// Package backoff provides retry delay strategies for optimistic-concurrency
// retries against the shared Control record. All strategies are stateless and
// safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// Jittered adds proportional random jitter on top of a base strategy.
// Delay = base + random value in [0, Fraction*base). Unlike full jitter,
// the base delay is preserved so contending replicas still spread out
// without ever retrying early.
type Jittered struct {
	Base     Strategy
	Fraction float64
}

// Delay returns the base delay plus up to Fraction of it.
func (j *Jittered) Delay(attempt int) time.Duration {
	base := j.Base.Delay(attempt)
	if j.Fraction <= 0 || base <= 0 {
		return base
	}
	return base + time.Duration(rand.Float64()*j.Fraction*float64(base)) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ForControlRetry returns the strategy used by the Control retry helper:
// 200ms doubling per attempt, capped at 5s, plus up to 10% jitter.
func ForControlRetry() Strategy {
	return &Jittered{
		Base:     &Exponential{Initial: 200 * time.Millisecond, Max: 5 * time.Second},
		Fraction: 0.10,
	}
}
