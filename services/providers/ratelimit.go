// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package providers

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedProvider paces calls to a provider so a burst of concurrent
// turns cannot blow through an upstream quota. The wait is cooperative:
// a cancelled turn stops waiting immediately.
type RateLimitedProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimitedProvider wraps a provider with a token bucket of rps
// requests per second and the given burst.
func NewRateLimitedProvider(inner Provider, rps float64, burst int) *RateLimitedProvider {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *RateLimitedProvider) ID() string    { return r.inner.ID() }
func (r *RateLimitedProvider) CostTier() int { return r.inner.CostTier() }

// Generate waits for a token, then forwards. A deadline that expires while
// queued surfaces as a provider timeout so the breaker sees it.
func (r *RateLimitedProvider) Generate(ctx context.Context, req GenerateRequest) (*Candidate, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, wrapErr(r.inner.ID(), err)
	}
	return r.inner.Generate(ctx, req)
}
