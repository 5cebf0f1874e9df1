// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package providers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var openaiTracer = otel.Tracer("concierge.providers.openai")

// OpenAIProvider calls the OpenAI chat completions API via the
// go-openai client.
type OpenAIProvider struct {
	client   *openai.Client
	model    string
	costTier int
}

// NewOpenAIProvider reads OPENAI_API_KEY (falling back to the container
// secret path) and OPENAI_MODEL.
func NewOpenAIProvider() (*OpenAIProvider, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL")

	if apiKey == "" {
		if content, err := os.ReadFile("/run/secrets/openai_api_key"); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read OpenAI API key from container secrets")
		}
	}
	if apiKey == "" {
		slog.Warn("OpenAI API key is missing.")
		return nil, fmt.Errorf("OPENAI_API_KEY is missing")
	}
	if model == "" {
		model = openai.GPT4oMini
		slog.Info("OPENAI_MODEL not set, defaulting to", "model", model)
	}

	return &OpenAIProvider{
		client:   openai.NewClient(apiKey),
		model:    model,
		costTier: 1,
	}, nil
}

func (o *OpenAIProvider) ID() string    { return "openai" }
func (o *OpenAIProvider) CostTier() int { return o.costTier }

// Generate implements Provider.
func (o *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (*Candidate, error) {
	ctx, span := openaiTracer.Start(ctx, "OpenAIProvider.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = *req.Temperature
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "openai call failed")
		return nil, wrapErr(o.ID(), err)
	}
	if len(resp.Choices) == 0 {
		return nil, wrapErr(o.ID(), fmt.Errorf("openai returned no choices"))
	}

	return &Candidate{
		ProviderID: o.ID(),
		Text:       resp.Choices[0].Message.Content,
		LatencyMs:  elapsedMs(start),
	}, nil
}
