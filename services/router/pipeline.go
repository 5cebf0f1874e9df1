// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package router is the pipeline entry point. It classifies each customer
// message, loads business context, drives generation and validation, and
// hands off to a human when the pipeline cannot produce a safe answer.
package router

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tablefire/concierge/pkg/validation"
	"github.com/tablefire/concierge/services/consensus"
	"github.com/tablefire/concierge/services/escalation"
	"github.com/tablefire/concierge/services/knowledge"
	"github.com/tablefire/concierge/services/orchestrator/datatypes"
	"github.com/tablefire/concierge/services/pricing"
	"github.com/tablefire/concierge/services/providers"
	"github.com/tablefire/concierge/services/safety"
	"github.com/tablefire/concierge/services/training"
)

var tracer = otel.Tracer("concierge.router")

// Customer-safe copy. Internal failures never leak past these.
const (
	replyUnavailable = "I'm sorry, I can't pull up our latest details right now. A team member will follow up with you shortly."
	replyHandoff     = "A team member is handling this conversation and will reply shortly."
	replyEscalated   = "I want to make sure you get an exact answer, so I've looped in a team member. They'll reply shortly."
)

const conversationStripes = 64

// TurnRequest is one inbound customer message.
type TurnRequest struct {
	ConversationID string
	StationID      string
	Channel        datatypes.Channel
	Text           string
}

// TurnResult is what a channel adapter sends back to the customer.
type TurnResult struct {
	ResponseText string  `json:"response_text"`
	QuoteID      string  `json:"quote_id,omitempty"`
	Confidence   float64 `json:"confidence"`
	Escalated    bool    `json:"escalated"`
	Flagged      bool    `json:"flagged,omitempty"`
	Intent       Intent  `json:"intent"`
}

// Pipeline wires the turn flow together. Turns for one conversation run
// strictly sequentially; different conversations run in parallel.
type Pipeline struct {
	store       ConversationStore
	loader      *knowledge.Loader
	classifier  *Classifier
	agents      *Registry
	engine      *consensus.Engine
	escalations *escalation.Manager
	recorder    training.Sink
	providers   []providers.Provider
	locks       [conversationStripes]sync.Mutex
}

// PipelineConfig collects the pipeline's collaborators.
type PipelineConfig struct {
	Store       ConversationStore
	Loader      *knowledge.Loader
	Classifier  *Classifier
	Agents      *Registry
	Engine      *consensus.Engine
	Escalations *escalation.Manager
	Recorder    training.Sink
	Providers   []providers.Provider
}

// NewPipeline validates the wiring and builds a Pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("conversation store is required")
	case cfg.Loader == nil:
		return nil, fmt.Errorf("knowledge loader is required")
	case cfg.Engine == nil:
		return nil, fmt.Errorf("consensus engine is required")
	case cfg.Escalations == nil:
		return nil, fmt.Errorf("escalation manager is required")
	case len(cfg.Providers) == 0:
		return nil, fmt.Errorf("at least one provider is required")
	}
	if cfg.Classifier == nil {
		cfg.Classifier = NewClassifier()
	}
	if cfg.Agents == nil {
		return nil, fmt.Errorf("agent registry is required")
	}
	return &Pipeline{
		store:       cfg.Store,
		loader:      cfg.Loader,
		classifier:  cfg.Classifier,
		agents:      cfg.Agents,
		engine:      cfg.Engine,
		escalations: cfg.Escalations,
		recorder:    cfg.Recorder,
		providers:   cfg.Providers,
	}, nil
}

func nowUTC() time.Time { return time.Now().UTC() }

func (p *Pipeline) lockFor(conversationID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(conversationID))
	return &p.locks[h.Sum32()%conversationStripes]
}

// HandleTurn processes one customer message end to end.
//
// A paused conversation short-circuits to hand-off copy without touching a
// model. A knowledge outage escalates rather than answering from stale
// data. A rejected candidate set gets exactly one regeneration round; a
// second rejection escalates.
func (p *Pipeline) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	ctx, span := tracer.Start(ctx, "router.HandleTurn",
		trace.WithAttributes(
			attribute.String("conversation.id", req.ConversationID),
			attribute.String("station.id", req.StationID),
		))
	defer span.End()

	if err := validation.ValidateConversationID(req.ConversationID); err != nil {
		return nil, err
	}
	if err := validation.ValidateStationID(req.StationID); err != nil {
		return nil, err
	}

	lock := p.lockFor(req.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := p.loadOrCreateConversation(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := p.appendMessage(ctx, conv.ID, datatypes.RoleCustomer, req.Text); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if conv.Paused() {
		span.SetAttributes(attribute.Bool("conversation.paused", true))
		return &TurnResult{ResponseText: replyHandoff, Escalated: true, Intent: Intent(conv.LastIntent)}, nil
	}

	classification := p.classifier.Classify(req.Text)
	span.SetAttributes(
		attribute.String("intent", string(classification.Intent)),
		attribute.Float64("intent.confidence", classification.Confidence),
	)
	conv.LastIntent = string(classification.Intent)
	conv.UpdatedAt = nowUTC()
	if err := p.store.PutConversation(ctx, conv); err != nil {
		slog.Error("Failed to update conversation intent", "conversation_id", conv.ID, "error", err)
	}

	agent := p.agents.Get(classification.Intent)
	kctx, err := p.loader.Load(ctx, knowledge.RequestContext{StationID: req.StationID, AsOf: nowUTC()}, agent.Sections())
	if err != nil {
		// Fail closed: no generation without current business data.
		span.RecordError(err)
		span.SetStatus(codes.Error, "knowledge unavailable")
		p.escalate(ctx, conv.ID, "business data unavailable", escalation.PriorityHigh)
		p.recordTurn(conv.ID, classification.Intent, nil, true)
		return &TurnResult{ResponseText: replyUnavailable, Escalated: true, Intent: classification.Intent}, nil
	}

	ledger := pricing.NewLedger()
	genReq, err := agent.Prepare(req.Text, kctx, ledger)
	if err != nil {
		span.RecordError(err)
		p.escalate(ctx, conv.ID, fmt.Sprintf("agent preparation failed: %v", err), escalation.PriorityHigh)
		p.recordTurn(conv.ID, classification.Intent, nil, true)
		return &TurnResult{ResponseText: replyUnavailable, Escalated: true, Intent: classification.Intent}, nil
	}

	vctx := consensus.ValidationContext{
		Knowledge:            kctx.Text,
		Ledger:               ledger,
		ClassifierConfidence: classification.Confidence,
	}

	outcome, err := p.engine.Resolve(ctx, genReq, vctx, p.providers)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	allCandidates := outcome.Candidates

	if outcome.Escalate && hasRejected(outcome.Candidates) {
		// Exactly one regeneration, and only when a rule rejection caused the
		// escalation: low-confidence candidates go straight to a human, since
		// a re-prompt cannot raise classifier confidence.
		span.AddEvent("regeneration")
		retryReq := genReq
		retryReq.Prompt += "\n\nREMINDER: state prices exactly as computed, include the quote marker, mention only items in the business context."
		retry, err := p.engine.Resolve(ctx, retryReq, vctx, p.providers)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		allCandidates = append(allCandidates, retry.Candidates...)
		outcome = retry
	}

	if outcome.Escalate {
		span.SetStatus(codes.Error, "no approved candidate")
		p.escalate(ctx, conv.ID, "no candidate passed validation", escalation.PriorityMedium)
		p.recordTurnCandidates(conv.ID, classification.Intent, allCandidates, "", true)
		return &TurnResult{ResponseText: replyEscalated, Escalated: true, Intent: classification.Intent}, nil
	}

	selected := outcome.Selected
	if err := p.appendMessage(ctx, conv.ID, datatypes.RoleAssistant, selected.Text); err != nil {
		slog.Error("Failed to append assistant message", "conversation_id", conv.ID, "error", err)
	}

	result := &TurnResult{
		ResponseText: selected.Text,
		QuoteID:      selected.Validation.QuoteID,
		Confidence:   selected.Validation.Confidence,
		Flagged:      selected.Validation.Flagged,
		Intent:       classification.Intent,
	}

	// Complaints get answered and handed off: the apology goes out now, a
	// human owns the follow-up.
	if classification.Intent == IntentComplaint {
		p.escalate(ctx, conv.ID, "customer complaint", escalation.PriorityHigh)
		result.Escalated = true
	}

	p.recordTurnCandidates(conv.ID, classification.Intent, allCandidates, selected.ProviderID, result.Escalated)
	return result, nil
}

// EscalateInternalFailure opens a high-priority hand-off after a pipeline
// error so the safe copy the customer received is backed by a real human
// follow-up. Best effort: failures are logged by escalate.
func (p *Pipeline) EscalateInternalFailure(ctx context.Context, conversationID, reason string) {
	p.escalate(ctx, conversationID, reason, escalation.PriorityHigh)
}

// CreateManualEscalation opens a hand-off on explicit customer or agent
// request and returns the escalation id.
func (p *Pipeline) CreateManualEscalation(ctx context.Context, conversationID, reason string) (string, error) {
	if err := validation.ValidateConversationID(conversationID); err != nil {
		return "", err
	}
	if _, err := p.store.GetConversation(ctx, conversationID); err != nil {
		return "", err
	}
	e, err := p.escalations.Create(ctx, conversationID, reason, escalation.PriorityMedium)
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

func (p *Pipeline) loadOrCreateConversation(ctx context.Context, req TurnRequest) (*datatypes.Conversation, error) {
	conv, err := p.store.GetConversation(ctx, req.ConversationID)
	if err == nil {
		return conv, nil
	}
	if !errorsIsNotFound(err) {
		return nil, err
	}
	channel := req.Channel
	if channel == "" {
		channel = datatypes.ChannelChat
	}
	now := nowUTC()
	conv = &datatypes.Conversation{
		ID:        req.ConversationID,
		StationID: req.StationID,
		Channel:   channel,
		State:     datatypes.ConversationActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.PutConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (p *Pipeline) appendMessage(ctx context.Context, conversationID string, role datatypes.Role, text string) error {
	return p.store.AppendMessage(ctx, &datatypes.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Text:           text,
		Timestamp:      nowUTC(),
	})
}

// escalate opens an escalation and logs on failure. The customer already
// gets safe copy either way; a persistence failure here alerts operations
// through the manager's notifier.
func (p *Pipeline) escalate(ctx context.Context, conversationID, reason string, priority escalation.Priority) {
	if _, err := p.escalations.Create(ctx, conversationID, reason, priority); err != nil {
		slog.Error("Failed to create escalation",
			"conversation_id", conversationID, "reason", reason, "error", err)
	}
}

func (p *Pipeline) recordTurn(conversationID string, intent Intent, candidates []training.CandidateRecord, escalated bool) {
	if p.recorder == nil {
		return
	}
	p.recorder.RecordTurn(training.Signal{
		ConversationID: conversationID,
		Intent:         string(intent),
		Candidates:     candidates,
		Escalated:      escalated,
		TurnAt:         nowUTC(),
	})
}

func (p *Pipeline) recordTurnCandidates(conversationID string, intent Intent, candidates []consensus.ScoredCandidate, selectedProvider string, escalated bool) {
	if p.recorder == nil {
		return
	}
	records := make([]training.CandidateRecord, 0, len(candidates))
	for _, c := range candidates {
		records = append(records, training.CandidateRecord{
			ProviderID: c.ProviderID,
			Text:       c.Text,
			LatencyMs:  c.LatencyMs,
			Verdict:    string(c.Validation.Verdict),
			Confidence: c.Validation.Confidence,
			Selected:   selectedProvider != "" && c.ProviderID == selectedProvider && c.Validation.Verdict == safety.VerdictApproved,
			Flagged:    c.Validation.Flagged,
		})
	}
	p.recordTurn(conversationID, intent, records, escalated)
}

func hasRejected(candidates []consensus.ScoredCandidate) bool {
	for _, c := range candidates {
		if c.Validation.Verdict == safety.VerdictRejected {
			return true
		}
	}
	return false
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, ErrConversationNotFound)
}
