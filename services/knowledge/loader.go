// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("concierge.knowledge")

// MaxContextBytes bounds the formatted snapshot injected into a prompt.
const MaxContextBytes = 10 * 1024

// Loader assembles prompt-ready business context for a station.
type Loader struct {
	store Store
	cache Cache
}

// NewLoader wires a Loader over a store and a cache. Cache may be nil, in
// which case every load hits the store.
func NewLoader(store Store, cache Cache) *Loader {
	return &Loader{store: store, cache: cache}
}

// Load fetches and formats the requested sections for rc.StationID.
//
// The formatted text is capped at MaxContextBytes. When the assembled blob
// runs over budget, sections are trimmed in reverse priority order (FAQ
// first, menu last) rather than cut mid-sentence across the whole blob.
//
// Any store failure returns an error wrapping ErrUnavailable. There is no
// default or stale fallback; a turn that cannot see current business data
// must not answer.
func (l *Loader) Load(ctx context.Context, rc RequestContext, sections []Section) (*Context, error) {
	ctx, span := tracer.Start(ctx, "knowledge.Load",
		trace.WithAttributes(
			attribute.String("station.id", rc.StationID),
			attribute.Int("sections.count", len(sections)),
		))
	defer span.End()

	if len(sections) == 0 {
		sections = AllSections
	}
	key := SectionKey(sections)

	if l.cache != nil {
		if text, ok := l.cache.Get(ctx, rc.StationID, key); ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return &Context{
				StationID:   rc.StationID,
				Sections:    sections,
				Text:        text,
				GeneratedAt: time.Now(),
				SizeBytes:   len(text),
			}, nil
		}
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	raw, err := l.store.FetchSections(ctx, rc.StationID, sections)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot fetch failed")
		slog.Error("Knowledge load failed", "station_id", rc.StationID, "error", err)
		return nil, fmt.Errorf("loading business context: %w", err)
	}

	text := format(raw, sections)
	span.SetAttributes(attribute.Int("context.bytes", len(text)))

	if l.cache != nil {
		l.cache.Set(ctx, rc.StationID, key, text)
	}

	return &Context{
		StationID:   rc.StationID,
		Sections:    sections,
		Text:        text,
		GeneratedAt: time.Now(),
		SizeBytes:   len(text),
	}, nil
}

// format renders sections as labelled blocks in priority order and enforces
// the byte budget. Low-priority sections lose their budget first; a section
// that still cannot fit whole is truncated at a line boundary.
func format(raw map[Section]string, requested []Section) string {
	ordered := make([]Section, 0, len(requested))
	for _, sec := range AllSections {
		for _, want := range requested {
			if sec == want {
				ordered = append(ordered, sec)
				break
			}
		}
	}

	var b strings.Builder
	for _, sec := range ordered {
		block := fmt.Sprintf("## %s\n%s\n\n", strings.ToUpper(string(sec)), strings.TrimSpace(raw[sec]))
		remaining := MaxContextBytes - b.Len()
		if remaining <= 0 {
			break
		}
		if len(block) > remaining {
			block = truncateAtLine(block, remaining)
			if block == "" {
				break
			}
		}
		b.WriteString(block)
	}
	return strings.TrimRight(b.String(), "\n")
}

// truncateAtLine cuts text to at most limit bytes, backing up to the last
// complete line so the model never sees a half-finished price or rule.
func truncateAtLine(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(text) <= limit {
		return text
	}
	cut := text[:limit]
	if idx := strings.LastIndexByte(cut, '\n'); idx > 0 {
		return cut[:idx+1]
	}
	return ""
}
