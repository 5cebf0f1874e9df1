// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package providers

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the circuit breaker position for one provider.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerConfig tunes the per-provider circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker.
	FailureThreshold int
	// CoolDown is how long an open breaker rejects before allowing the
	// half-open probe.
	CoolDown time.Duration
}

// DefaultBreakerConfig matches the failure semantics the consensus engine
// is tested against: two consecutive failures open the breaker.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 2,
		CoolDown:         30 * time.Second,
	}
}

// Breaker is a circuit breaker for one provider. All transitions happen
// under the mutex; callers never read counters directly.
type Breaker struct {
	mu            sync.Mutex
	config        BreakerConfig
	state         BreakerState
	failures      int
	openedAt      time.Time
	probeInFlight bool
	now           func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.CoolDown <= 0 {
		config.CoolDown = DefaultBreakerConfig().CoolDown
	}
	return &Breaker{
		config: config,
		state:  BreakerClosed,
		now:    time.Now,
	}
}

// Allow reports whether a request may be sent. An open breaker whose
// cool-down has elapsed moves to half-open and admits exactly one probe;
// further calls are rejected until that probe reports back.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.config.CoolDown {
			return false
		}
		b.state = BreakerHalfOpen
		b.probeInFlight = true
		return true
	case BreakerHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return false
}

// RecordSuccess closes the breaker and resets the failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probeInFlight = false
}

// RecordFailure counts a failure. Reaching the threshold while closed, or
// failing the half-open probe, opens the breaker and restarts the
// cool-down.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.state {
	case BreakerClosed:
		if b.failures >= b.config.FailureThreshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.probeInFlight = false
	}
}

// State returns the current position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerRegistry holds one breaker per provider.
type BreakerRegistry struct {
	mu       sync.Mutex
	config   BreakerConfig
	breakers map[string]*Breaker
}

// NewBreakerRegistry creates a registry; breakers are created lazily on
// first lookup.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		config:   config,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a provider, creating it closed if needed.
func (r *BreakerRegistry) Get(providerID string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[providerID]
	if !ok {
		b = NewBreaker(r.config)
		r.breakers[providerID] = b
	}
	return b
}

// States snapshots every known breaker for health reporting.
func (r *BreakerRegistry) States() map[string]BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]BreakerState, len(r.breakers))
	for id, b := range r.breakers {
		out[id] = b.State()
	}
	return out
}

// GuardedProvider wraps a Provider with its circuit breaker. The consensus
// engine only ever talks to guarded providers.
type GuardedProvider struct {
	inner   Provider
	breaker *Breaker
}

// NewGuardedProvider binds a provider to its breaker from the registry.
func NewGuardedProvider(inner Provider, registry *BreakerRegistry) *GuardedProvider {
	return &GuardedProvider{
		inner:   inner,
		breaker: registry.Get(inner.ID()),
	}
}

func (g *GuardedProvider) ID() string          { return g.inner.ID() }
func (g *GuardedProvider) CostTier() int       { return g.inner.CostTier() }
func (g *GuardedProvider) State() BreakerState { return g.breaker.State() }

// Generate checks the breaker, forwards the call, and records the outcome.
// An open breaker rejects without touching the network.
func (g *GuardedProvider) Generate(ctx context.Context, req GenerateRequest) (*Candidate, error) {
	if !g.breaker.Allow() {
		return nil, &Error{
			ProviderID: g.inner.ID(),
			Err:        ErrBreakerOpen,
		}
	}
	candidate, err := g.inner.Generate(ctx, req)
	if err != nil {
		g.breaker.RecordFailure()
		slog.Warn("Provider call failed",
			"provider", g.inner.ID(),
			"breaker_state", g.breaker.State(),
			"error", err)
		return nil, err
	}
	g.breaker.RecordSuccess()
	return candidate, nil
}
