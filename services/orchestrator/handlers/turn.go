// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers contains the gin HTTP handlers for the orchestrator
// API. Handlers translate between the wire format and the services; no
// business rules live here.
package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tablefire/concierge/services/orchestrator/datatypes"
	"github.com/tablefire/concierge/services/router"
	"github.com/tablefire/concierge/services/training"
)

// turnRequest is the POST /v1/turn body. Channel adapters (web chat, SMS
// gateway) call this endpoint once per inbound customer message.
type turnRequest struct {
	ConversationID string `json:"conversation_id" binding:"required,identifier"`
	StationID      string `json:"station_id" binding:"required,identifier"`
	Channel        string `json:"channel" binding:"omitempty,oneof=chat sms voice"`
	Text           string `json:"text" binding:"required,max=4000"`
}

// HandleTurn processes one customer message through the pipeline.
//
// Internal failures never reach the customer as errors: the adapter still
// gets 200 with safe hand-off copy, and the failure is logged and traced
// server-side.
func HandleTurn(pipeline *router.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req turnRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := pipeline.HandleTurn(c.Request.Context(), router.TurnRequest{
			ConversationID: req.ConversationID,
			StationID:      req.StationID,
			Channel:        datatypes.Channel(req.Channel),
			Text:           req.Text,
		})
		if err != nil {
			slog.Error("Turn failed", "conversation_id", req.ConversationID, "error", err)
			// The copy promises a follow-up, so open the hand-off now rather
			// than leaving the customer waiting on a log line.
			pipeline.EscalateInternalFailure(c.Request.Context(), req.ConversationID,
				fmt.Sprintf("internal pipeline failure: %v", err))
			c.JSON(http.StatusOK, router.TurnResult{
				ResponseText: "I'm sorry, something went wrong on our end. A team member will follow up with you shortly.",
				Escalated:    true,
			})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// outcomeRequest is the POST /v1/conversations/:id/outcome body, reported
// by staff tooling once a conversation concludes.
type outcomeRequest struct {
	Booked       bool `json:"booked"`
	Satisfaction int  `json:"satisfaction" binding:"omitempty,min=1,max=5"`
}

// HandleOutcome records whether a conversation converted to a booking.
func HandleOutcome(sink training.Sink) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("id")
		var req outcomeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := sink.RecordOutcome(c.Request.Context(), training.Outcome{
			ConversationID: conversationID,
			Booked:         req.Booked,
			Satisfaction:   req.Satisfaction,
		})
		if err != nil {
			slog.Error("Failed to record outcome", "conversation_id", conversationID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record outcome"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
	}
}
