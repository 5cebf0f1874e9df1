// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tablefire/concierge/services/knowledge"
	"github.com/tablefire/concierge/services/pricing"
	"github.com/tablefire/concierge/services/providers"
)

// Agent is one specialized responder. Agents decide which knowledge
// sections a turn needs and how the generation prompt is built; the
// pricing agent additionally pins a calculator quote into the prompt.
type Agent interface {
	Intent() Intent
	// Sections lists the knowledge sections this agent's prompts need.
	Sections() []knowledge.Section
	// Prepare builds the generation request for a customer message. Any
	// quote the agent computes is recorded in the turn's ledger.
	Prepare(message string, kctx *knowledge.Context, ledger *pricing.Ledger) (providers.GenerateRequest, error)
}

// Registry maps intents to agents, with the general agent as the fallback
// for unknown or unregistered intents.
type Registry struct {
	agents  map[Intent]Agent
	general Agent
}

// NewRegistry builds the default agent set around the given calculator.
func NewRegistry(calc *pricing.Calculator) *Registry {
	general := &generalAgent{}
	r := &Registry{
		agents:  make(map[Intent]Agent),
		general: general,
	}
	for _, a := range []Agent{
		general,
		&pricingAgent{calc: calc},
		&menuAgent{},
		&schedulingAgent{},
		&complaintAgent{},
	} {
		r.agents[a.Intent()] = a
	}
	return r
}

// Get returns the agent for an intent, falling back to general.
func (r *Registry) Get(intent Intent) Agent {
	if a, ok := r.agents[intent]; ok {
		return a
	}
	return r.general
}

const systemPrompt = `You are the booking assistant for a hibachi catering company.
Answer only from the business context provided. Be warm and concise.
Never invent prices, menu items, or availability. If you cannot answer
from the context, say a team member will follow up.`

func basePrompt(kctx *knowledge.Context, message, instructions string) string {
	var b strings.Builder
	b.WriteString("BUSINESS CONTEXT:\n")
	b.WriteString(kctx.Text)
	b.WriteString("\n\nCUSTOMER MESSAGE:\n")
	b.WriteString(message)
	if instructions != "" {
		b.WriteString("\n\nINSTRUCTIONS:\n")
		b.WriteString(instructions)
	}
	return b.String()
}

// --- general ---

type generalAgent struct{}

func (a *generalAgent) Intent() Intent { return IntentGeneral }

func (a *generalAgent) Sections() []knowledge.Section {
	return []knowledge.Section{knowledge.SectionFAQ, knowledge.SectionPolicy}
}

func (a *generalAgent) Prepare(message string, kctx *knowledge.Context, _ *pricing.Ledger) (providers.GenerateRequest, error) {
	return providers.GenerateRequest{
		System: systemPrompt,
		Prompt: basePrompt(kctx, message, "Do not state any prices or dollar amounts."),
	}, nil
}

// --- menu ---

type menuAgent struct{}

func (a *menuAgent) Intent() Intent { return IntentMenu }

func (a *menuAgent) Sections() []knowledge.Section {
	return []knowledge.Section{knowledge.SectionMenu, knowledge.SectionFAQ}
}

func (a *menuAgent) Prepare(message string, kctx *knowledge.Context, _ *pricing.Ledger) (providers.GenerateRequest, error) {
	return providers.GenerateRequest{
		System: systemPrompt,
		Prompt: basePrompt(kctx, message,
			"Describe only items present in the MENU section. Do not state any prices or dollar amounts."),
	}, nil
}

// --- scheduling ---

type schedulingAgent struct{}

func (a *schedulingAgent) Intent() Intent { return IntentScheduling }

func (a *schedulingAgent) Sections() []knowledge.Section {
	return []knowledge.Section{knowledge.SectionPolicy, knowledge.SectionFAQ}
}

func (a *schedulingAgent) Prepare(message string, kctx *knowledge.Context, _ *pricing.Ledger) (providers.GenerateRequest, error) {
	return providers.GenerateRequest{
		System: systemPrompt,
		Prompt: basePrompt(kctx, message,
			"Explain booking policies from the context. Do not confirm a specific date yourself; say a team member confirms final availability. Do not state any prices."),
	}, nil
}

// --- complaint ---

type complaintAgent struct{}

func (a *complaintAgent) Intent() Intent { return IntentComplaint }

func (a *complaintAgent) Sections() []knowledge.Section {
	return []knowledge.Section{knowledge.SectionPolicy}
}

func (a *complaintAgent) Prepare(message string, kctx *knowledge.Context, _ *pricing.Ledger) (providers.GenerateRequest, error) {
	return providers.GenerateRequest{
		System: systemPrompt,
		Prompt: basePrompt(kctx, message,
			"Apologize sincerely and acknowledge the problem. Tell the customer a team member is being looped in right now. Do not promise refunds or credits and do not state any dollar amounts."),
	}, nil
}

// --- pricing ---

type pricingAgent struct {
	calc *pricing.Calculator
}

func (a *pricingAgent) Intent() Intent { return IntentPricing }

func (a *pricingAgent) Sections() []knowledge.Section {
	return []knowledge.Section{knowledge.SectionMenu, knowledge.SectionPricing}
}

// Prepare computes the quote when the message carries a party composition
// and pins its exact figures and token into the prompt. Without counts the
// agent asks for them instead of guessing.
func (a *pricingAgent) Prepare(message string, kctx *knowledge.Context, ledger *pricing.Ledger) (providers.GenerateRequest, error) {
	party, ok := parseParty(message)
	if !ok {
		return providers.GenerateRequest{
			System: systemPrompt,
			Prompt: basePrompt(kctx, message,
				"Ask how many adults and how many children will attend. Do not state any prices or dollar amounts yet."),
		}, nil
	}

	quote, err := a.calc.Quote(party)
	if err != nil {
		return providers.GenerateRequest{}, fmt.Errorf("computing quote: %w", err)
	}
	ledger.Record(quote)

	var lines strings.Builder
	for _, item := range quote.LineItems {
		fmt.Fprintf(&lines, "- %s x%d: %s\n", item.Label, item.Quantity, item.Amount)
	}
	instructions := fmt.Sprintf(
		`A verified quote was computed for this party. Use these exact figures and no others:
%sTotal: %s
State the total exactly as %s. End your answer with the marker [quote:%s] on the same line as the total or after it. Do not hedge the price with words like "approximately" or "around".`,
		lines.String(), quote.Total, quote.Total, quote.QuoteID)

	return providers.GenerateRequest{
		System: systemPrompt,
		Prompt: basePrompt(kctx, message, instructions),
	}, nil
}

var (
	adultsPattern   = regexp.MustCompile(`(\d+)\s*(?:adults?|grown[- ]?ups?|people|guests?)`)
	childrenPattern = regexp.MustCompile(`(\d+)\s*(?:kids?|children|child)`)
)

// parseParty extracts party composition from free text. "people"/"guests"
// counts as adults unless children are broken out separately.
func parseParty(message string) (pricing.Request, bool) {
	lower := strings.ToLower(message)
	var req pricing.Request

	if m := adultsPattern.FindStringSubmatch(lower); m != nil {
		req.Adults, _ = strconv.Atoi(m[1])
	}
	if m := childrenPattern.FindStringSubmatch(lower); m != nil {
		req.Children, _ = strconv.Atoi(m[1])
	}
	return req, req.PartySize() > 0
}
