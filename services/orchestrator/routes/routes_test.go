// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/tablefire/concierge/services/escalation"
	"github.com/tablefire/concierge/services/providers"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	SetupRoutes(r, Dependencies{
		Escalations: escalation.NewManager(escalation.NewMemoryStore(), nil, nil),
		Breakers:    providers.NewBreakerRegistry(providers.DefaultBreakerConfig()),
	})
	return r
}

func get(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthIsUnauthenticated(t *testing.T) {
	t.Setenv("ORCHESTRATOR_API_TOKEN", "s3cret")
	r := newTestRouter(t)

	w := get(r, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestMetricsIsUnauthenticated(t *testing.T) {
	t.Setenv("ORCHESTRATOR_API_TOKEN", "s3cret")
	r := newTestRouter(t)

	w := get(r, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestV1RequiresToken(t *testing.T) {
	t.Setenv("ORCHESTRATOR_API_TOKEN", "s3cret")
	r := newTestRouter(t)

	assert.Equal(t, http.StatusUnauthorized, get(r, "/v1/escalations", "").Code)
	assert.Equal(t, http.StatusOK, get(r, "/v1/escalations", "s3cret").Code)
}
