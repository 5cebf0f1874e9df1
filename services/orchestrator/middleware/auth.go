// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the orchestrator API.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// # Description
//   RequireToken returns middleware enforcing a static bearer token on
//   every request. The expected token comes from the ORCHESTRATOR_API_TOKEN
//   environment variable, with a /run/secrets/orchestrator_api_token file
//   fallback for container deployments.
//
//   When no token is configured the middleware logs a warning once and
//   admits all requests. That is the local development mode; production
//   deployments must set the token.
//
// # Outputs
//   - 401 with a JSON error body when the header is missing or malformed
//   - 403 when the presented token does not match
func RequireToken() gin.HandlerFunc {
	expected := loadToken()
	if expected == "" {
		slog.Warn("No API token configured, authentication disabled")
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		token, ok := extractBearer(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or malformed Authorization header",
			})
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "invalid token",
			})
			return
		}
		c.Next()
	}
}

func loadToken() string {
	if v := os.Getenv("ORCHESTRATOR_API_TOKEN"); v != "" {
		return v
	}
	data, err := os.ReadFile("/run/secrets/orchestrator_api_token")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// extractBearer pulls the token out of "Bearer <token>". The scheme
// comparison is case-insensitive per RFC 7235.
func extractBearer(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
