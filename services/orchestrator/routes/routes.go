// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires HTTP routes to their handlers.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tablefire/concierge/services/escalation"
	"github.com/tablefire/concierge/services/orchestrator/handlers"
	"github.com/tablefire/concierge/services/orchestrator/middleware"
	"github.com/tablefire/concierge/services/orchestrator/observability"
	"github.com/tablefire/concierge/services/providers"
	"github.com/tablefire/concierge/services/router"
	"github.com/tablefire/concierge/services/training"
)

// Dependencies carries the wired services the handlers need.
type Dependencies struct {
	Pipeline    *router.Pipeline
	Escalations *escalation.Manager
	Recorder    training.Sink
	Breakers    *providers.BreakerRegistry
	Metrics     *observability.PipelineMetrics
}

// SetupRoutes registers all endpoints.
//
// /health and /metrics are unauthenticated for load balancers and scrapers;
// everything under /v1 requires the API token when one is configured.
func SetupRoutes(r *gin.Engine, deps Dependencies) {
	r.GET("/health", handlers.Health(deps.Breakers, deps.Metrics))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(middleware.RequireToken())
	{
		v1.POST("/turn", handlers.HandleTurn(deps.Pipeline))
		v1.POST("/conversations/:id/outcome", handlers.HandleOutcome(deps.Recorder))

		v1.POST("/escalations", handlers.CreateEscalation(deps.Pipeline))
		v1.GET("/escalations", handlers.ListEscalations(deps.Escalations))
		v1.GET("/escalations/:id", handlers.GetEscalation(deps.Escalations))
		v1.POST("/escalations/:id/assign", handlers.AssignEscalation(deps.Escalations))
		v1.POST("/escalations/:id/start", handlers.StartEscalation(deps.Escalations))
		v1.POST("/escalations/:id/resolve", handlers.ResolveEscalation(deps.Escalations))
		v1.POST("/escalations/:id/cancel", handlers.CancelEscalation(deps.Escalations))
	}
}
