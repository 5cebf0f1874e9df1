// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tablefire/concierge/services/orchestrator/observability"
	"github.com/tablefire/concierge/services/providers"
)

// Health reports liveness plus the circuit breaker position of every
// provider. Degraded means at least one breaker is not closed; the
// service still answers with the remaining providers.
func Health(registry *providers.BreakerRegistry, metrics *observability.PipelineMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		states := registry.States()
		if metrics != nil {
			metrics.UpdateBreakerGauges(states)
		}
		status := "ok"
		breakers := make(map[string]string, len(states))
		for provider, state := range states {
			breakers[provider] = string(state)
			if state != providers.BreakerClosed {
				status = "degraded"
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   status,
			"breakers": breakers,
		})
	}
}
