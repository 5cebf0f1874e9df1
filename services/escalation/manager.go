// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package escalation

import (
	"context"
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
)

var tracer = otel.Tracer("concierge.escalation")

// Notifier is the fire-and-forget alert path to on-call staff. Delivery
// mechanics live outside this service.
type Notifier interface {
	// EscalationCreated announces a new hand-off.
	EscalationCreated(e *Escalation)
	// PersistenceFailure reports a transition that could not be saved
	// after retries.
	PersistenceFailure(e *Escalation, err error)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) EscalationCreated(*Escalation)         {}
func (NopNotifier) PersistenceFailure(*Escalation, error) {}

// ConversationPauser flips a conversation's AI auto-response state. The
// router owns conversations; this is the narrow slice the manager needs.
type ConversationPauser interface {
	Pause(ctx context.Context, conversationID string) error
	Resume(ctx context.Context, conversationID string) error
}

const (
	persistAttempts = 3
	persistBaseWait = 50 * time.Millisecond
)

const lockStripes = 32

// Manager drives the escalation state machine. Transitions for one
// escalation id are strictly ordered via striped locks; concurrent assign
// and cancel on the same id cannot both succeed.
type Manager struct {
	store    Store
	notifier Notifier
	pauser   ConversationPauser
	locks    [lockStripes]sync.Mutex
}

// NewManager wires a Manager. notifier may be nil for NopNotifier.
func NewManager(store Store, notifier Notifier, pauser ConversationPauser) *Manager {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Manager{store: store, notifier: notifier, pauser: pauser}
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &m.locks[h.Sum32()%lockStripes]
}

// Create opens a PENDING escalation and pauses the conversation's AI
// auto-response.
func (m *Manager) Create(ctx context.Context, conversationID, reason string, priority Priority) (*Escalation, error) {
	ctx, span := tracer.Start(ctx, "escalation.Create",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	if !ValidPriority(priority) {
		return nil, fmt.Errorf("unknown priority %q", priority)
	}
	now := time.Now()
	e := &Escalation{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Reason:         reason,
		Priority:       priority,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := m.persistWithRetry(ctx, e); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "escalation persistence failed")
		return nil, err
	}

	if m.pauser != nil {
		if err := m.pauser.Pause(ctx, conversationID); err != nil {
			// The escalation exists and staff will see it; a pause failure
			// is logged but does not roll it back.
			slog.Error("Failed to pause conversation for escalation",
				"conversation_id", conversationID, "escalation_id", e.ID, "error", err)
		}
	}

	slog.Info("Escalation created",
		"escalation_id", e.ID,
		"conversation_id", conversationID,
		"priority", priority,
		"reason", reason)
	m.notifier.EscalationCreated(e)
	return e, nil
}

// Assign moves PENDING to ASSIGNED.
func (m *Manager) Assign(ctx context.Context, escalationID, staffID string) (*Escalation, error) {
	return m.transition(ctx, escalationID, "assign", func(e *Escalation) error {
		if e.Status != StatusPending {
			return &TransitionError{EscalationID: e.ID, From: e.Status, Attempted: "assign"}
		}
		e.Status = StatusAssigned
		e.AssignedTo = staffID
		return nil
	})
}

// Start moves ASSIGNED to IN_PROGRESS.
func (m *Manager) Start(ctx context.Context, escalationID string) (*Escalation, error) {
	return m.transition(ctx, escalationID, "start", func(e *Escalation) error {
		if e.Status != StatusAssigned {
			return &TransitionError{EscalationID: e.ID, From: e.Status, Attempted: "start"}
		}
		e.Status = StatusInProgress
		return nil
	})
}

// Resolve moves IN_PROGRESS to RESOLVED. With resumeAI the conversation
// goes back to ACTIVE; otherwise it stays paused until a manual resume.
func (m *Manager) Resolve(ctx context.Context, escalationID, resolvedBy string, resumeAI bool) (*Escalation, error) {
	e, err := m.transition(ctx, escalationID, "resolve", func(e *Escalation) error {
		if e.Status != StatusInProgress {
			return &TransitionError{EscalationID: e.ID, From: e.Status, Attempted: "resolve"}
		}
		e.Status = StatusResolved
		e.ResolvedBy = resolvedBy
		e.ResumeAI = resumeAI
		return nil
	})
	if err != nil {
		return nil, err
	}

	if resumeAI && m.pauser != nil {
		if err := m.pauser.Resume(ctx, e.ConversationID); err != nil {
			slog.Error("Failed to resume conversation after escalation",
				"conversation_id", e.ConversationID, "escalation_id", e.ID, "error", err)
		}
	}
	return e, nil
}

// Cancel moves any non-terminal state to CANCELLED. The conversation is
// not resumed implicitly; an explicit resume is still required.
func (m *Manager) Cancel(ctx context.Context, escalationID string) (*Escalation, error) {
	return m.transition(ctx, escalationID, "cancel", func(e *Escalation) error {
		if e.Status.Terminal() {
			return &TransitionError{EscalationID: e.ID, From: e.Status, Attempted: "cancel"}
		}
		e.Status = StatusCancelled
		return nil
	})
}

// Get returns a copy of the escalation.
func (m *Manager) Get(ctx context.Context, escalationID string) (*Escalation, error) {
	return m.store.Get(ctx, escalationID)
}

// List returns escalations filtered by status; empty status lists all.
func (m *Manager) List(ctx context.Context, status Status) ([]*Escalation, error) {
	return m.store.List(ctx, status)
}

// transition loads, mutates, and persists under the id's stripe lock. A
// persistence failure after retries leaves the stored state untouched and
// alerts the operational path.
func (m *Manager) transition(ctx context.Context, escalationID, name string, mutate func(*Escalation) error) (*Escalation, error) {
	ctx, span := tracer.Start(ctx, "escalation."+name,
		trace.WithAttributes(attribute.String("escalation.id", escalationID)))
	defer span.End()

	lock := m.lockFor(escalationID)
	lock.Lock()
	defer lock.Unlock()

	e, err := m.store.Get(ctx, escalationID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := mutate(e); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid transition")
		return nil, err
	}
	e.UpdatedAt = time.Now()

	if err := m.persistWithRetry(ctx, e); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "escalation persistence failed")
		return nil, err
	}

	slog.Info("Escalation transition",
		"escalation_id", e.ID, "transition", name, "status", e.Status)
	return e, nil
}

// persistWithRetry retries Put with bounded exponential backoff. On
// exhaustion it alerts and returns the final error.
func (m *Manager) persistWithRetry(ctx context.Context, e *Escalation) error {
	var lastErr error
	wait := persistBaseWait
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		lastErr = m.store.Put(ctx, e)
		if lastErr == nil {
			return nil
		}
		e.RetryCount++
		slog.Warn("Escalation persistence attempt failed",
			"escalation_id", e.ID, "attempt", attempt, "error", lastErr)
		if attempt == persistAttempts {
			break
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("escalation persistence aborted: %w", ctx.Err())
		}
		wait *= 2
	}
	m.notifier.PersistenceFailure(e, lastErr)
	return fmt.Errorf("escalation persistence exhausted retries: %w", lastErr)
}
