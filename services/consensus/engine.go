// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package consensus fans one generation request out to several providers,
// validates each answer as it lands, and selects the best survivor. It
// never merges candidates: a turn either ends with one provider's validated
// text or an escalation.
package consensus

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tablefire/concierge/services/pricing"
	"github.com/tablefire/concierge/services/providers"
	"github.com/tablefire/concierge/services/safety"
)

var tracer = otel.Tracer("concierge.consensus")

// DefaultDeadline bounds one consensus round. Slow providers are cancelled
// at the deadline, not awaited.
const DefaultDeadline = 20 * time.Second

// ValidationContext carries the turn state the validator needs to judge
// each candidate.
type ValidationContext struct {
	Knowledge            string
	Ledger               *pricing.Ledger
	ClassifierConfidence float64
}

// ScoredCandidate is one provider's answer together with its verdict.
type ScoredCandidate struct {
	providers.Candidate
	Validation safety.Result `json:"validation_result"`
	costTier   int
}

// Outcome is the result of one consensus round. When Escalate is true,
// Selected is nil and no candidate text may be shown to the customer.
// Candidates holds every judged answer for the training signal.
type Outcome struct {
	Selected   *ScoredCandidate
	Escalate   bool
	Candidates []ScoredCandidate
}

// Engine runs consensus rounds. Stateless apart from configuration; safe
// for concurrent use across conversations.
type Engine struct {
	validator *safety.Validator
	deadline  time.Duration
}

// NewEngine builds an Engine. A zero deadline gets DefaultDeadline.
func NewEngine(validator *safety.Validator, deadline time.Duration) *Engine {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	return &Engine{validator: validator, deadline: deadline}
}

// Resolve issues the request to every provider concurrently under a shared
// deadline, validates answers as they arrive, and picks the approved
// candidate with the highest confidence, tie-broken by lowest cost tier.
//
// Provider failures exclude that provider from the round; the breaker
// wrapping each provider has already counted the failure. If no candidate
// is approved the outcome escalates. The engine never fabricates text from
// partial candidates.
func (e *Engine) Resolve(ctx context.Context, req providers.GenerateRequest, vctx ValidationContext, provs []providers.Provider) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "consensus.Resolve",
		trace.WithAttributes(attribute.Int("providers.count", len(provs))))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	var (
		mu         sync.Mutex
		candidates []ScoredCandidate
	)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, p := range provs {
		p := p
		group.Go(func() error {
			candidate, err := p.Generate(groupCtx, req)
			if err != nil {
				slog.Warn("Provider excluded from consensus round",
					"provider", p.ID(), "error", err)
				return nil
			}
			validation := e.validator.Validate(groupCtx, safety.Input{
				Text:                 candidate.Text,
				Knowledge:            vctx.Knowledge,
				Ledger:               vctx.Ledger,
				ClassifierConfidence: vctx.ClassifierConfidence,
			})
			mu.Lock()
			candidates = append(candidates, ScoredCandidate{
				Candidate:  *candidate,
				Validation: validation,
				costTier:   p.CostTier(),
			})
			mu.Unlock()
			return nil
		})
	}
	// Goroutines only return nil; Wait is the rendezvous point.
	_ = group.Wait()

	selected := selectBest(candidates)
	span.SetAttributes(
		attribute.Int("candidates.count", len(candidates)),
		attribute.Bool("consensus.escalate", selected == nil),
	)

	if selected == nil {
		slog.Warn("Consensus round produced no approved candidate",
			"providers", len(provs), "candidates", len(candidates))
		return &Outcome{Escalate: true, Candidates: candidates}, nil
	}
	return &Outcome{Selected: selected, Candidates: candidates}, nil
}

// selectBest picks the approved candidate with the highest confidence,
// tie-broken by lowest cost tier, then by provider id for determinism.
func selectBest(candidates []ScoredCandidate) *ScoredCandidate {
	approved := make([]ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Validation.Verdict == safety.VerdictApproved {
			approved = append(approved, c)
		}
	}
	if len(approved) == 0 {
		return nil
	}
	sort.Slice(approved, func(i, j int) bool {
		if approved[i].Validation.Confidence != approved[j].Validation.Confidence {
			return approved[i].Validation.Confidence > approved[j].Validation.Confidence
		}
		if approved[i].costTier != approved[j].costTier {
			return approved[i].costTier < approved[j].costTier
		}
		return approved[i].ProviderID < approved[j].ProviderID
	})
	return &approved[0]
}
