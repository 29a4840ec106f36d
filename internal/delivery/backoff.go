package delivery

import (
	"math/rand"
	"time"
)

// Scheduler computes retry timestamps. It is a pure calculator: nothing here
// wakes workers, the pool's polling loop discovers due tasks on its own.
type Scheduler struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	// jitter returns a random fraction in [0,1). Overridable in tests.
	jitter func() float64
}

// NewScheduler builds a scheduler with the given policy.
func NewScheduler(base, max time.Duration, maxAttempts int) *Scheduler {
	return &Scheduler{
		BaseDelay:   base,
		MaxDelay:    max,
		MaxAttempts: maxAttempts,
		jitter:      rand.Float64,
	}
}

// Backoff returns the deterministic part of the delay before attempt n+1,
// given that attempt n (1-based) just failed: min(maxDelay, base * 2^(n-1)).
func (s *Scheduler) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := s.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= s.MaxDelay {
			return s.MaxDelay
		}
	}
	if d > s.MaxDelay {
		return s.MaxDelay
	}
	return d
}

// Delay is Backoff plus uniform jitter in [0, baseDelay).
func (s *Scheduler) Delay(n int) time.Duration {
	j := s.jitter
	if j == nil {
		j = rand.Float64
	}
	return s.Backoff(n) + time.Duration(j()*float64(s.BaseDelay))
}

// NextAttemptAt returns when attempt n+1 should run, relative to now.
func (s *Scheduler) NextAttemptAt(now time.Time, n int) time.Time {
	return now.Add(s.Delay(n))
}

// Exhausted reports whether attempt n was the last automatic try.
func (s *Scheduler) Exhausted(n int) bool {
	return n >= s.MaxAttempts
}
