// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Store reads the business-data snapshot for a station. The store is owned
// by the surrounding application; this service only reads from it.
type Store interface {
	// FetchSections returns the requested sections' raw text, keyed by
	// section. A transport or upstream failure wraps ErrUnavailable.
	FetchSections(ctx context.Context, stationID string, sections []Section) (map[Section]string, error)
}

// HTTPStore reads snapshots from the business-data service over HTTP.
type HTTPStore struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPStore builds a store client for the given base URL, e.g.
// "http://business-data:8080". The per-request timeout is deliberately
// short: a slow store must not stall the turn past its knowledge budget.
func NewHTTPStore(baseURL string) (*HTTPStore, error) {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("business data store URL not set")
	}
	slog.Info("Initializing business-data store client", "base_url", baseURL)
	return &HTTPStore{
		httpClient: &http.Client{Timeout: 3 * time.Second},
		baseURL:    baseURL,
	}, nil
}

type snapshotResponse struct {
	Sections map[string]string `json:"sections"`
}

// FetchSections implements Store.
func (s *HTTPStore) FetchSections(ctx context.Context, stationID string, sections []Section) (map[Section]string, error) {
	names := make([]string, 0, len(sections))
	for _, sec := range sections {
		names = append(names, string(sec))
	}
	fetchURL := fmt.Sprintf("%s/stations/%s/snapshot?sections=%s",
		s.baseURL, url.PathEscape(stationID), url.QueryEscape(strings.Join(names, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Error("Business-data store call failed", "station_id", stationID, "error", err)
		return nil, fmt.Errorf("snapshot fetch for station %s: %w: %v", stationID, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("snapshot body read: %w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("Business-data store returned an error",
			"station_id", stationID, "status_code", resp.StatusCode)
		return nil, fmt.Errorf("snapshot fetch failed with status %d: %w", resp.StatusCode, ErrUnavailable)
	}

	var snap snapshotResponse
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("snapshot parse: %w: %v", ErrUnavailable, err)
	}

	out := make(map[Section]string, len(sections))
	for _, sec := range sections {
		text, ok := snap.Sections[string(sec)]
		if !ok || strings.TrimSpace(text) == "" {
			// A missing section is a data problem upstream; treat it the
			// same as an unreachable store so the turn fails closed.
			return nil, fmt.Errorf("section %q missing for station %s: %w", sec, stationID, ErrUnavailable)
		}
		out[sec] = text
	}
	return out, nil
}

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	stations map[string]map[Section]string
	fail     bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stations: make(map[string]map[Section]string)}
}

// SetSection stores section text for a station.
func (m *MemoryStore) SetSection(stationID string, section Section, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stations[stationID] == nil {
		m.stations[stationID] = make(map[Section]string)
	}
	m.stations[stationID][section] = text
}

// SetFailing makes every fetch return ErrUnavailable, for outage tests.
func (m *MemoryStore) SetFailing(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

// FetchSections implements Store.
func (m *MemoryStore) FetchSections(_ context.Context, stationID string, sections []Section) (map[Section]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fail {
		return nil, fmt.Errorf("memory store forced failure: %w", ErrUnavailable)
	}
	station, ok := m.stations[stationID]
	if !ok {
		return nil, fmt.Errorf("unknown station %s: %w", stationID, ErrUnavailable)
	}
	out := make(map[Section]string, len(sections))
	for _, sec := range sections {
		text, ok := station[sec]
		if !ok {
			return nil, fmt.Errorf("section %q missing for station %s: %w", sec, stationID, ErrUnavailable)
		}
		out[sec] = text
	}
	return out, nil
}
