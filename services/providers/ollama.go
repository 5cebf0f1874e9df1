// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ollamaTracer = otel.Tracer("concierge.providers.ollama")

// OllamaProvider calls a local Ollama instance. Cheapest tier: it runs on
// hardware the business already pays for.
type OllamaProvider struct {
	httpClient *http.Client
	baseURL    string
	model      string
	costTier   int
}

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaProvider reads OLLAMA_BASE_URL and OLLAMA_MODEL.
func NewOllamaProvider() (*OllamaProvider, error) {
	baseURL := os.Getenv("OLLAMA_BASE_URL")
	model := os.Getenv("OLLAMA_MODEL")
	if baseURL == "" {
		return nil, fmt.Errorf("OLLAMA_BASE_URL environment variable not set")
	}
	if model == "" {
		model = "llama3.1"
		slog.Warn("OLLAMA_MODEL not set, defaulting to", "model", model)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing Ollama provider", "base_url", baseURL, "model", model)
	return &OllamaProvider{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		baseURL:    baseURL,
		model:      model,
		costTier:   0,
	}, nil
}

func (o *OllamaProvider) ID() string    { return "ollama" }
func (o *OllamaProvider) CostTier() int { return o.costTier }

// Generate implements Provider.
func (o *OllamaProvider) Generate(ctx context.Context, req GenerateRequest) (*Candidate, error) {
	ctx, span := ollamaTracer.Start(ctx, "OllamaProvider.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))
	slog.Debug("Generating text via Ollama", "model", o.model)

	options := make(map[string]interface{})
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	} else {
		options["temperature"] = float32(0.2)
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	payload := ollamaGenerateRequest{
		Model:   o.model,
		Prompt:  req.Prompt,
		System:  req.System,
		Stream:  false,
		Options: options,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ollama call failed")
		return nil, wrapErr(o.ID(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapErr(o.ID(), fmt.Errorf("reading response body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("ollama API status %d: %s", resp.StatusCode, respBody)
		span.RecordError(err)
		span.SetStatus(codes.Error, "ollama API error")
		return nil, wrapErr(o.ID(), err)
	}

	var parsed ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, wrapErr(o.ID(), fmt.Errorf("parsing response: %w", err))
	}
	if strings.TrimSpace(parsed.Response) == "" {
		return nil, wrapErr(o.ID(), fmt.Errorf("ollama returned empty response"))
	}

	return &Candidate{
		ProviderID: o.ID(),
		Text:       parsed.Response,
		LatencyMs:  elapsedMs(start),
	}, nil
}
