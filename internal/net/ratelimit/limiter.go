// Package ratelimit provides per-recipient rate limiting for the Delivery
// Dispatcher: each contact gets its own token bucket so one noisy
// recipient's throttling never affects delivery to anyone else. A
// double-checked-locking map of golang.org/x/time/rate limiters keyed
// by contact.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter hands out one token-bucket limiter per contact, lazily created on
// first use with the same capacity/refill rate for every contact.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter builds a Limiter where each contact may burst up to `burst`
// sends and refills at `rps` per second thereafter. For the dispatcher's
// contract (capacity 15, refill 15 per 60 seconds), pass burst=15,
// rps=15.0/60.0.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

// NewPerMinuteLimiter is a convenience constructor for a refill window phrased
// directly: capacity sends immediately available, refilling at perMinute
// tokens every 60 seconds.
func NewPerMinuteLimiter(capacity, perMinute int) *Limiter {
	return NewLimiter(float64(perMinute)/60.0, capacity)
}

func (l *Limiter) getLimiter(contact string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[contact]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, exists := l.limiters[contact]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[contact] = limiter
	return limiter
}

// Allow reports whether a send to contact is permitted right now, consuming
// a token if so. A false result is the dispatcher's ErrThrottled signal.
func (l *Limiter) Allow(contact string) bool {
	return l.getLimiter(contact).Allow()
}

// Wait blocks until a send to contact is permitted or ctx is cancelled. Not
// used by the in-cycle dispatch path (which must never block on a single
// recipient) but available for batch/backfill tooling.
func (l *Limiter) Wait(ctx context.Context, contact string) error {
	return l.getLimiter(contact).Wait(ctx)
}

// Stats reports current bucket state for every contact seen so far; it is
// not exported on /metrics.
func (l *Limiter) Stats() map[string]ContactStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]ContactStats, len(l.limiters))
	now := time.Now()
	for contact, limiter := range l.limiters {
		out[contact] = ContactStats{
			Contact:         contact,
			TokensAvailable: limiter.TokensAt(now),
			Burst:           limiter.Burst(),
		}
	}
	return out
}

// ContactStats summarizes one contact's current bucket state.
type ContactStats struct {
	Contact         string  `json:"contact"`
	TokensAvailable float64 `json:"tokens_available"`
	Burst           int     `json:"burst"`
}
