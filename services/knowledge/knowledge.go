// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package knowledge loads the business-data snapshot (menu, pricing notes,
// FAQ, policies) that gets injected into generation prompts. Loads are pure
// reads against an external store, fronted by a short-TTL cache. A load
// failure is surfaced as ErrUnavailable and never papered over with default
// data; the caller fails closed.
package knowledge

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// Section is a selectable slice of the business snapshot. Loading only the
// sections an intent needs keeps prompt context under the token budget.
type Section string

const (
	SectionMenu    Section = "menu"
	SectionPricing Section = "pricing"
	SectionFAQ     Section = "faq"
	SectionPolicy  Section = "policy"
)

// AllSections in truncation priority order: when the formatted blob exceeds
// the byte budget, later sections are trimmed first.
var AllSections = []Section{SectionMenu, SectionPricing, SectionPolicy, SectionFAQ}

// ErrUnavailable means the business-data store could not be reached or
// returned no data. Callers must escalate, not fall back to stale defaults.
var ErrUnavailable = errors.New("knowledge store unavailable")

// RequestContext carries the per-request business scope. It is threaded
// explicitly through router, loader, and calculator calls; there is no
// process-wide "current station".
type RequestContext struct {
	StationID string
	AsOf      time.Time
}

// Context is the formatted snapshot injected into a generation request.
// It is ephemeral and never persisted.
type Context struct {
	StationID   string
	Sections    []Section
	Text        string
	GeneratedAt time.Time
	SizeBytes   int
}

// SectionKey renders a deterministic cache-key suffix for a section set.
// Sections are sorted so (menu,faq) and (faq,menu) share an entry.
func SectionKey(sections []Section) string {
	names := make([]string, 0, len(sections))
	for _, s := range sections {
		names = append(names, string(s))
	}
	sort.Strings(names)
	return strings.Join(names, "+")
}
