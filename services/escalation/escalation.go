// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package escalation models the human hand-off lifecycle. While an
// escalation is live its conversation is paused and the pipeline will not
// auto-respond.
package escalation

import (
	"errors"
	"fmt"
	"time"
)

// Status is the escalation lifecycle position.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAssigned   Status = "ASSIGNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusResolved   Status = "RESOLVED"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusCancelled
}

// Priority orders the human work queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ValidPriority reports whether p is a known priority.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Escalation is one hand-off unit. Mutated only by the Manager; readers
// get copies.
type Escalation struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Reason         string    `json:"reason"`
	Priority       Priority  `json:"priority"`
	Status         Status    `json:"status"`
	AssignedTo     string    `json:"assigned_to,omitempty"`
	ResolvedBy     string    `json:"resolved_by,omitempty"`
	ResumeAI       bool      `json:"resume_ai"`
	RetryCount     int       `json:"retry_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ErrNotFound means the escalation id is unknown to the store.
var ErrNotFound = errors.New("escalation not found")

// TransitionError is returned for a lifecycle move the state machine does
// not allow. The stored state is unchanged.
type TransitionError struct {
	EscalationID string
	From         Status
	Attempted    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("escalation %s: cannot %s from %s", e.EscalationID, e.Attempted, e.From)
}
