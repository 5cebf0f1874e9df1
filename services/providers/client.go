// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package providers holds the adapters for the text-generation backends.
// Each adapter implements the same Provider interface so the consensus
// engine can treat them as interchangeable and individually breakable.
package providers

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// GenerateRequest is a single generation call. The knowledge context and
// instructions are already folded into the prompts by the calling agent.
type GenerateRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature *float32
}

// Candidate is one provider's answer for a turn.
type Candidate struct {
	ProviderID string `json:"provider_id"`
	Text       string `json:"text"`
	LatencyMs  int64  `json:"latency_ms"`
}

// Provider is one text-generation backend.
type Provider interface {
	// ID identifies the provider in logs, metrics, and training signals.
	ID() string
	// CostTier orders providers by price, lower is cheaper. Used as the
	// consensus tie-breaker.
	CostTier() int
	// Generate produces one candidate. Must honor ctx cancellation; a
	// deadline overrun returns an error satisfying IsTimeout.
	Generate(ctx context.Context, req GenerateRequest) (*Candidate, error)
}

// ErrBreakerOpen means the provider was skipped without a network call
// because its circuit breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker open")

// Error is a provider failure with enough shape for the breaker and the
// consensus engine to act on.
type Error struct {
	ProviderID string
	Timeout    bool
	Err        error
}

func (e *Error) Error() string {
	kind := "error"
	if e.Timeout {
		kind = "timeout"
	}
	return fmt.Sprintf("provider %s %s: %v", e.ProviderID, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a provider deadline overrun.
func IsTimeout(err error) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Timeout
}

// wrapErr classifies a raw adapter failure. Context expiry counts as a
// timeout for breaker purposes.
func wrapErr(providerID string, err error) error {
	return &Error{
		ProviderID: providerID,
		Timeout:    errors.Is(err, context.DeadlineExceeded),
		Err:        err,
	}
}

// elapsedMs measures latency for Candidate.LatencyMs.
func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
