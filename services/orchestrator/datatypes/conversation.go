// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"time"
)

// ConversationState describes whether the assistant is allowed to answer
// automatically. A paused conversation only accepts human replies until a
// staff member resumes it.
type ConversationState string

const (
	ConversationActive ConversationState = "ACTIVE"
	ConversationPaused ConversationState = "PAUSED_FOR_ESCALATION"
)

// Channel identifies the inbound transport a conversation arrived on.
// Transport mechanics live outside this service; the channel is carried for
// formatting and audit only.
type Channel string

const (
	ChannelChat  Channel = "chat"
	ChannelSMS   Channel = "sms"
	ChannelVoice Channel = "voice"
)

// Role of a message author within a conversation.
type Role string

const (
	RoleCustomer  Role = "customer"
	RoleAssistant Role = "assistant"
)

// Conversation is the unit of customer dialogue. It is never deleted here;
// archival happens upstream.
type Conversation struct {
	ID         string            `json:"id"`
	StationID  string            `json:"station_id"`
	Channel    Channel           `json:"channel"`
	State      ConversationState `json:"state"`
	LastIntent string            `json:"last_intent,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Message is a single turn entry. Messages are append-only and immutable
// once written.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
}

// Paused reports whether AI auto-response is currently suspended.
func (c *Conversation) Paused() bool {
	return c.State == ConversationPaused
}
