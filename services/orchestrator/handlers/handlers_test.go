// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablefire/concierge/services/consensus"
	"github.com/tablefire/concierge/services/escalation"
	"github.com/tablefire/concierge/services/knowledge"
	"github.com/tablefire/concierge/services/orchestrator/datatypes"
	"github.com/tablefire/concierge/services/pricing"
	"github.com/tablefire/concierge/services/providers"
	"github.com/tablefire/concierge/services/router"
	"github.com/tablefire/concierge/services/safety"
	"github.com/tablefire/concierge/services/training"
)

const testStation = "austin-north"

// staticProvider returns a canned menu answer with no dollar figures, so
// every rule passes and the pipeline approves it.
type staticProvider struct{ text string }

func (p *staticProvider) ID() string    { return "static" }
func (p *staticProvider) CostTier() int { return 0 }
func (p *staticProvider) Generate(_ context.Context, _ providers.GenerateRequest) (*providers.Candidate, error) {
	return &providers.Candidate{ProviderID: "static", Text: p.text, LatencyMs: 5}, nil
}

type memorySink struct {
	mu       sync.Mutex
	outcomes []training.Outcome
}

func (s *memorySink) RecordTurn(training.Signal) {}
func (s *memorySink) RecordOutcome(_ context.Context, o training.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

type testHarness struct {
	engine  *gin.Engine
	manager *escalation.Manager
	sink    *memorySink
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	return newHarnessWithStore(t, router.NewMemoryConversationStore())
}

func newHarnessWithStore(t *testing.T, convStore router.ConversationStore) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	kstore := knowledge.NewMemoryStore()
	kstore.SetSection(testStation, knowledge.SectionMenu, "Proteins: chicken, steak, shrimp.")
	kstore.SetSection(testStation, knowledge.SectionPricing, "Adults $50, children $30.")
	kstore.SetSection(testStation, knowledge.SectionFAQ, "We travel within 60 km.")
	kstore.SetSection(testStation, knowledge.SectionPolicy, "Deposits are refundable up to 7 days out.")
	loader := knowledge.NewLoader(kstore, knowledge.NewMemoryCache(time.Minute))

	calc := pricing.NewCalculator(pricing.DefaultRateCard())
	validator, err := safety.NewValidator(calc)
	require.NoError(t, err)

	manager := escalation.NewManager(escalation.NewMemoryStore(), nil, router.NewStorePauser(convStore))

	sink := &memorySink{}
	pipeline, err := router.NewPipeline(router.PipelineConfig{
		Store:       convStore,
		Loader:      loader,
		Agents:      router.NewRegistry(calc),
		Engine:      consensus.NewEngine(validator, 2*time.Second),
		Escalations: manager,
		Recorder:    sink,
		Providers:   []providers.Provider{&staticProvider{text: "We serve chicken, steak, and shrimp."}},
	})
	require.NoError(t, err)

	r := gin.New()
	r.POST("/v1/turn", HandleTurn(pipeline))
	r.POST("/v1/conversations/:id/outcome", HandleOutcome(sink))
	r.POST("/v1/escalations", CreateEscalation(pipeline))
	r.GET("/v1/escalations", ListEscalations(manager))
	r.GET("/v1/escalations/:id", GetEscalation(manager))
	r.POST("/v1/escalations/:id/assign", AssignEscalation(manager))
	r.POST("/v1/escalations/:id/start", StartEscalation(manager))
	r.POST("/v1/escalations/:id/resolve", ResolveEscalation(manager))
	r.POST("/v1/escalations/:id/cancel", CancelEscalation(manager))
	return &testHarness{engine: r, manager: manager, sink: sink}
}

func (h *testHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHandleTurn_Answers(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/v1/turn", gin.H{
		"conversation_id": "conv-1",
		"station_id":      testStation,
		"text":            "What proteins are on the menu?",
	})

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Contains(t, body["response_text"], "chicken")
	assert.Equal(t, false, body["escalated"])
}

// brokenAppendStore fails every message append, simulating a storage
// outage mid-turn.
type brokenAppendStore struct {
	router.ConversationStore
}

func (s *brokenAppendStore) AppendMessage(context.Context, *datatypes.Message) error {
	return errors.New("disk full")
}

func TestHandleTurn_InternalFailureOpensEscalation(t *testing.T) {
	h := newHarnessWithStore(t, &brokenAppendStore{router.NewMemoryConversationStore()})

	w := h.do(t, http.MethodPost, "/v1/turn", gin.H{
		"conversation_id": "conv-broken",
		"station_id":      testStation,
		"text":            "What proteins are on the menu?",
	})

	// The customer still gets safe copy, never an error.
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["escalated"])
	assert.Contains(t, body["response_text"], "team member will follow up")

	// The promised follow-up is a real high-priority hand-off.
	pending, err := h.manager.List(context.Background(), escalation.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "conv-broken", pending[0].ConversationID)
	assert.Equal(t, escalation.PriorityHigh, pending[0].Priority)
}

func TestHandleTurn_MissingFields(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/v1/turn", gin.H{"conversation_id": "conv-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleTurn_BadIdentifier(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/v1/turn", gin.H{
		"conversation_id": "conv one!",
		"station_id":      testStation,
		"text":            "hello",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleTurn_BadChannel(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/v1/turn", gin.H{
		"conversation_id": "conv-1",
		"station_id":      testStation,
		"channel":         "carrier-pigeon",
		"text":            "hello",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleOutcome_Recorded(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/v1/conversations/conv-1/outcome", gin.H{
		"booked":       true,
		"satisfaction": 5,
	})

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, h.sink.outcomes, 1)
	assert.Equal(t, "conv-1", h.sink.outcomes[0].ConversationID)
	assert.True(t, h.sink.outcomes[0].Booked)
	assert.Equal(t, 5, h.sink.outcomes[0].Satisfaction)
}

func TestHandleOutcome_SatisfactionOutOfRange(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/v1/conversations/conv-1/outcome", gin.H{
		"booked":       true,
		"satisfaction": 9,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateEscalation_UnknownConversation(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/v1/escalations", gin.H{
		"conversation_id": "ghost",
		"reason":          "customer asked for a human",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEscalationLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)

	// A turn creates the conversation the escalation hangs off.
	w := h.do(t, http.MethodPost, "/v1/turn", gin.H{
		"conversation_id": "conv-esc",
		"station_id":      testStation,
		"text":            "What proteins are on the menu?",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodPost, "/v1/escalations", gin.H{
		"conversation_id": "conv-esc",
		"reason":          "customer asked for a human",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["escalation_id"].(string)
	require.NotEmpty(t, id)

	// Resolving straight from PENDING is an illegal transition.
	w = h.do(t, http.MethodPost, "/v1/escalations/"+id+"/resolve", gin.H{
		"resolved_by": "staff-7", "resume_ai": true,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "PENDING", decode(t, w)["current_status"])

	w = h.do(t, http.MethodPost, "/v1/escalations/"+id+"/assign", gin.H{"staff_id": "staff-7"})
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodPost, "/v1/escalations/"+id+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodPost, "/v1/escalations/"+id+"/resolve", gin.H{
		"resolved_by": "staff-7", "resume_ai": true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Terminal states reject cancellation.
	w = h.do(t, http.MethodPost, "/v1/escalations/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(t, http.MethodGet, "/v1/escalations/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestGetEscalation_NotFound(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/v1/escalations/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListEscalations_StatusFilter(t *testing.T) {
	h := newHarness(t)

	_, err := h.manager.Create(context.Background(), "conv-a", "reason", escalation.PriorityLow)
	require.NoError(t, err)
	e, err := h.manager.Create(context.Background(), "conv-b", "reason", escalation.PriorityHigh)
	require.NoError(t, err)
	_, err = h.manager.Cancel(context.Background(), e.ID)
	require.NoError(t, err)

	w := h.do(t, http.MethodGet, "/v1/escalations?status=PENDING", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = h.do(t, http.MethodGet, "/v1/escalations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["count"])
}
