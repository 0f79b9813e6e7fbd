package feed

import (
	"sync"
	"time"
)

// BreakerConfig controls the optional consecutive-failure circuit breaker in
// front of the feed endpoint. It is off unless Trip is positive.
type BreakerConfig struct {
	Trip       int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	ResetAfter time.Duration
}

// breaker opens after trip consecutive failures, for an exponentially
// growing cooldown capped at maxDelay. Any success closes it.
type breaker struct {
	mu sync.Mutex

	trip       int
	baseDelay  time.Duration
	maxDelay   time.Duration
	resetAfter time.Duration

	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

func newBreaker(c BreakerConfig) *breaker {
	if c.Trip <= 0 {
		return nil
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Minute
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Minute
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.ResetAfter <= 0 {
		c.ResetAfter = 30 * time.Minute
	}
	return &breaker{trip: c.Trip, baseDelay: c.BaseDelay, maxDelay: c.MaxDelay, resetAfter: c.ResetAfter}
}

// open reports whether requests should be skipped at now, and until when.
func (b *breaker) open(now time.Time) (bool, time.Time) {
	if b == nil {
		return false, time.Time{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire(now)
	if !b.openUntil.IsZero() && now.Before(b.openUntil) {
		return true, b.openUntil
	}
	return false, time.Time{}
}

// record notes the outcome of one request. It returns true when this failure
// tripped (or re-tripped) the breaker.
func (b *breaker) record(now time.Time, err error) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire(now)

	if err == nil {
		b.fails = 0
		b.openUntil = time.Time{}
		b.lastFailure = time.Time{}
		return false
	}

	b.fails++
	b.lastFailure = now
	if b.fails < b.trip {
		return false
	}

	d := b.baseDelay
	for i := 0; i < b.fails-b.trip; i++ {
		d *= 2
		if d >= b.maxDelay {
			break
		}
	}
	if d > b.maxDelay {
		d = b.maxDelay
	}
	b.openUntil = now.Add(d)
	return true
}

// expire forgets old failures. Caller holds mu.
func (b *breaker) expire(now time.Time) {
	if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.resetAfter {
		b.fails = 0
		b.openUntil = time.Time{}
		b.lastFailure = time.Time{}
	}
}
