// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package safeguards holds the three policies that keep agent loops from
// running away: self-reply suppression, a per-persona rate limit and a
// global circuit breaker.
package safeguards

import (
	"strings"
	"sync"
	"time"
)

// IsSelfReply reports whether a message's from field names the persona it
// would be delivered to. Senders are normalized by stripping a leading
// "agent:" or "@" prefix. An empty or unparseable sender fails open:
// dropping legitimate traffic is worse than an occasional loop, which
// the rate limiter and breaker catch.
func IsSelfReply(from, personaName string) bool {
	if from == "" || personaName == "" {
		return false
	}
	sender := strings.TrimSpace(from)
	sender = strings.TrimPrefix(sender, "agent:")
	sender = strings.TrimPrefix(sender, "@")
	return sender == personaName
}

// RateLimiter enforces at most Limit invocations per key within a
// sliding window. State is in-process only; a daemon restart clears it.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	history map[string][]time.Time
}

// Rate limit and breaker defaults.
const (
	DefaultRateLimit       = 5
	DefaultRateWindow      = 60 * time.Second
	DefaultBreakerLimit    = 10
	DefaultBreakerWindow   = 60 * time.Second
	DefaultBreakerCooldown = 5 * time.Minute
)

// NewRateLimiter returns a limiter allowing limit calls per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		history: make(map[string][]time.Time),
	}
}

// TryInvoke atomically checks the key's window and records the
// invocation. It returns false when the key is over its limit; a refused
// call is not recorded.
func (r *RateLimiter) TryInvoke(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	recent := prune(r.history[key], now.Add(-r.window))
	if len(recent) >= r.limit {
		r.history[key] = recent
		return false
	}
	r.history[key] = append(recent, now)
	return true
}

// CircuitBreaker trips after too many failures inside a window and
// refuses all invocations until the cooldown elapses or Reset is called.
// A success clears the failure buffer.
type CircuitBreaker struct {
	limit    int
	window   time.Duration
	cooldown time.Duration
	now      func() time.Time

	mu        sync.Mutex
	failures  []time.Time
	trippedAt time.Time
	tripped   bool
}

// BreakerState is a snapshot for the status surface.
type BreakerState struct {
	Tripped        bool          `json:"tripped"`
	FailureCount   int           `json:"failureCount"`
	TimeUntilReset time.Duration `json:"timeUntilReset"`
}

// NewCircuitBreaker returns a breaker tripping at limit failures per
// window, with the given cooldown.
func NewCircuitBreaker(limit int, window, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		limit:    limit,
		window:   window,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Allow reports whether an invocation may proceed. A tripped breaker
// auto-resets once its cooldown has elapsed.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tripped {
		if c.now().Sub(c.trippedAt) < c.cooldown {
			return false
		}
		c.resetLocked()
	}
	return true
}

// RecordFailure adds a failure; crossing the threshold trips the breaker.
func (c *CircuitBreaker) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.failures = prune(append(c.failures, now), now.Add(-c.window))
	if len(c.failures) >= c.limit {
		c.tripped = true
		c.trippedAt = now
	}
}

// RecordSuccess clears the failure buffer.
func (c *CircuitBreaker) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = nil
}

// Reset clears the breaker immediately. Operator use.
func (c *CircuitBreaker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// State returns a snapshot of the breaker.
func (c *CircuitBreaker) State() BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := BreakerState{
		FailureCount: len(prune(c.failures, c.now().Add(-c.window))),
	}
	if c.tripped {
		remaining := c.cooldown - c.now().Sub(c.trippedAt)
		if remaining > 0 {
			state.Tripped = true
			state.TimeUntilReset = remaining
		}
	}
	return state
}

func (c *CircuitBreaker) resetLocked() {
	c.tripped = false
	c.trippedAt = time.Time{}
	c.failures = nil
}

// prune drops timestamps at or before cutoff, preserving order.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}
