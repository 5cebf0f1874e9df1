// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the pipeline.
//
// # Description
//
// Metrics cover the customer-facing turn flow end to end:
//   - Turn counters and latency (by intent and outcome)
//   - Provider call latency and failure counters
//   - Circuit breaker positions
//   - Validation verdict counters
//   - Escalation counters
//
// # Integration
//
// Metrics are exposed on /metrics. Counters that belong to inner services
// are fed through decorators (see MetricsSink and MetricsNotifier) so the
// services themselves stay free of metrics plumbing.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tablefire/concierge/services/escalation"
	"github.com/tablefire/concierge/services/providers"
	"github.com/tablefire/concierge/services/training"
)

const metricsNamespace = "concierge"
const pipelineSubsystem = "pipeline"

// PipelineMetrics holds all Prometheus metrics for the turn pipeline.
// Initialize once at startup via InitMetrics.
type PipelineMetrics struct {
	// TurnsTotal counts processed turns.
	// Labels: intent, status (answered, escalated)
	TurnsTotal *prometheus.CounterVec

	// ProviderLatencySeconds measures generation call latency.
	// Labels: provider, status (success, error, skipped)
	ProviderLatencySeconds *prometheus.HistogramVec

	// BreakerOpen reports 1 when a provider's breaker is open or half-open.
	// Labels: provider
	BreakerOpen *prometheus.GaugeVec

	// VerdictsTotal counts validation verdicts across all candidates.
	// Labels: verdict (APPROVED, REJECTED, ESCALATE)
	VerdictsTotal *prometheus.CounterVec

	// FlaggedTotal counts approved responses queued for human spot-check.
	FlaggedTotal prometheus.Counter

	// EscalationsTotal counts created escalations.
	// Labels: priority
	EscalationsTotal *prometheus.CounterVec

	// EscalationPersistenceFailures counts transitions that exhausted
	// their persistence retries.
	EscalationPersistenceFailures prometheus.Counter

	// TrainingSignalsDropped counts training signals lost to overflow.
	TrainingSignalsDropped prometheus.Counter
}

// DefaultMetrics is the singleton instance, set by InitMetrics.
var DefaultMetrics *PipelineMetrics

// InitMetrics registers all pipeline metrics with the default registry.
// Call once at startup; a second call panics on duplicate registration.
func InitMetrics() *PipelineMetrics {
	DefaultMetrics = &PipelineMetrics{
		TurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "turns_total",
				Help:      "Turns processed by intent and outcome",
			},
			[]string{"intent", "status"},
		),
		ProviderLatencySeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "provider_latency_seconds",
				Help:      "Provider generation latency by provider and status",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"provider", "status"},
		),
		BreakerOpen: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "breaker_open",
				Help:      "1 when the provider's circuit breaker is not closed",
			},
			[]string{"provider"},
		),
		VerdictsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "validation_verdicts_total",
				Help:      "Validation verdicts across all candidates",
			},
			[]string{"verdict"},
		),
		FlaggedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "flagged_responses_total",
				Help:      "Approved responses flagged for human spot-check",
			},
		),
		EscalationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "escalations_total",
				Help:      "Escalations created by priority",
			},
			[]string{"priority"},
		),
		EscalationPersistenceFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "escalation_persistence_failures_total",
				Help:      "Escalation transitions that exhausted persistence retries",
			},
		),
		TrainingSignalsDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "training_signals_dropped_total",
				Help:      "Training signals dropped due to buffer overflow",
			},
		),
	}
	return DefaultMetrics
}

// UpdateBreakerGauges publishes the current breaker positions.
func (m *PipelineMetrics) UpdateBreakerGauges(states map[string]providers.BreakerState) {
	for provider, state := range states {
		v := 0.0
		if state != providers.BreakerClosed {
			v = 1.0
		}
		m.BreakerOpen.WithLabelValues(provider).Set(v)
	}
}

// InstrumentedProvider decorates a Provider with latency and status
// metrics.
type InstrumentedProvider struct {
	inner   providers.Provider
	metrics *PipelineMetrics
}

// NewInstrumentedProvider wraps a provider.
func NewInstrumentedProvider(inner providers.Provider, metrics *PipelineMetrics) *InstrumentedProvider {
	return &InstrumentedProvider{inner: inner, metrics: metrics}
}

func (p *InstrumentedProvider) ID() string    { return p.inner.ID() }
func (p *InstrumentedProvider) CostTier() int { return p.inner.CostTier() }

// Generate implements providers.Provider.
func (p *InstrumentedProvider) Generate(ctx context.Context, req providers.GenerateRequest) (*providers.Candidate, error) {
	start := time.Now()
	candidate, err := p.inner.Generate(ctx, req)
	status := "success"
	switch {
	case err == nil:
	case providers.IsTimeout(err):
		status = "error"
	case isBreakerOpen(err):
		status = "skipped"
	default:
		status = "error"
	}
	p.metrics.ProviderLatencySeconds.WithLabelValues(p.inner.ID(), status).
		Observe(time.Since(start).Seconds())
	return candidate, err
}

func isBreakerOpen(err error) bool {
	return errors.Is(err, providers.ErrBreakerOpen)
}

// MetricsSink decorates a training.Sink with verdict and turn counters.
// The pipeline records exactly one signal per turn, which makes the sink
// the natural tap point.
type MetricsSink struct {
	inner   training.Sink
	metrics *PipelineMetrics
}

// NewMetricsSink wraps a sink.
func NewMetricsSink(inner training.Sink, metrics *PipelineMetrics) *MetricsSink {
	return &MetricsSink{inner: inner, metrics: metrics}
}

// RecordTurn implements training.Sink.
func (s *MetricsSink) RecordTurn(signal training.Signal) {
	status := "answered"
	if signal.Escalated {
		status = "escalated"
	}
	s.metrics.TurnsTotal.WithLabelValues(signal.Intent, status).Inc()
	for _, c := range signal.Candidates {
		s.metrics.VerdictsTotal.WithLabelValues(c.Verdict).Inc()
		if c.Selected && c.Flagged {
			s.metrics.FlaggedTotal.Inc()
		}
	}
	s.inner.RecordTurn(signal)
}

// RecordOutcome implements training.Sink.
func (s *MetricsSink) RecordOutcome(ctx context.Context, outcome training.Outcome) error {
	return s.inner.RecordOutcome(ctx, outcome)
}

// MetricsNotifier decorates an escalation.Notifier with counters.
type MetricsNotifier struct {
	inner   escalation.Notifier
	metrics *PipelineMetrics
}

// NewMetricsNotifier wraps a notifier.
func NewMetricsNotifier(inner escalation.Notifier, metrics *PipelineMetrics) *MetricsNotifier {
	if inner == nil {
		inner = escalation.NopNotifier{}
	}
	return &MetricsNotifier{inner: inner, metrics: metrics}
}

// EscalationCreated implements escalation.Notifier.
func (n *MetricsNotifier) EscalationCreated(e *escalation.Escalation) {
	n.metrics.EscalationsTotal.WithLabelValues(string(e.Priority)).Inc()
	n.inner.EscalationCreated(e)
}

// PersistenceFailure implements escalation.Notifier.
func (n *MetricsNotifier) PersistenceFailure(e *escalation.Escalation, err error) {
	n.metrics.EscalationPersistenceFailures.Inc()
	n.inner.PersistenceFailure(e, err)
}
