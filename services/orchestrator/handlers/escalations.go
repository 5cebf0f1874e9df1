// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tablefire/concierge/services/escalation"
	"github.com/tablefire/concierge/services/router"
)

// createEscalationRequest is the POST /v1/escalations body for manual
// hand-off requests from staff tooling or a "talk to a human" button.
type createEscalationRequest struct {
	ConversationID string `json:"conversation_id" binding:"required,identifier"`
	Reason         string `json:"reason" binding:"required,max=500"`
}

// CreateEscalation opens a manual escalation on an existing conversation.
func CreateEscalation(pipeline *router.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createEscalationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := pipeline.CreateManualEscalation(c.Request.Context(), req.ConversationID, req.Reason)
		if err != nil {
			if errors.Is(err, router.ErrConversationNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create escalation"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"escalation_id": id})
	}
}

type assignRequest struct {
	StaffID string `json:"staff_id" binding:"required,max=64"`
}

// AssignEscalation moves PENDING to ASSIGNED.
func AssignEscalation(manager *escalation.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req assignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		e, err := manager.Assign(c.Request.Context(), c.Param("id"), req.StaffID)
		respondTransition(c, e, err)
	}
}

// StartEscalation moves ASSIGNED to IN_PROGRESS.
func StartEscalation(manager *escalation.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, err := manager.Start(c.Request.Context(), c.Param("id"))
		respondTransition(c, e, err)
	}
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by" binding:"required,max=64"`
	ResumeAI   bool   `json:"resume_ai"`
}

// ResolveEscalation moves IN_PROGRESS to RESOLVED, optionally resuming
// AI auto-response on the conversation.
func ResolveEscalation(manager *escalation.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req resolveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		e, err := manager.Resolve(c.Request.Context(), c.Param("id"), req.ResolvedBy, req.ResumeAI)
		respondTransition(c, e, err)
	}
}

// CancelEscalation moves any non-terminal state to CANCELLED.
func CancelEscalation(manager *escalation.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, err := manager.Cancel(c.Request.Context(), c.Param("id"))
		respondTransition(c, e, err)
	}
}

// GetEscalation returns a single escalation.
func GetEscalation(manager *escalation.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, err := manager.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, escalation.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "escalation not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load escalation"})
			return
		}
		c.JSON(http.StatusOK, e)
	}
}

// ListEscalations lists escalations, optionally filtered by ?status=.
func ListEscalations(manager *escalation.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := escalation.Status(c.Query("status"))
		list, err := manager.List(c.Request.Context(), status)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list escalations"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"escalations": list, "count": len(list)})
	}
}

// respondTransition maps transition outcomes to HTTP statuses: unknown id
// is 404, an illegal transition is 409 with the current state, anything
// else is a 500.
func respondTransition(c *gin.Context, e *escalation.Escalation, err error) {
	if err == nil {
		c.JSON(http.StatusOK, e)
		return
	}
	var terr *escalation.TransitionError
	switch {
	case errors.Is(err, escalation.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "escalation not found"})
	case errors.As(err, &terr):
		c.JSON(http.StatusConflict, gin.H{
			"error":          terr.Error(),
			"current_status": string(terr.From),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "escalation update failed"})
	}
}
