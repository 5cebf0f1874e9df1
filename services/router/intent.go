// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"strings"
)

// Intent is the classified purpose of a customer message.
type Intent string

const (
	IntentPricing    Intent = "pricing"
	IntentMenu       Intent = "menu"
	IntentScheduling Intent = "scheduling"
	IntentComplaint  Intent = "complaint"
	IntentGeneral    Intent = "general"
)

// Classification is the classifier's output. Confidence feeds the
// validator's final score, so chit-chat classified with low confidence
// naturally lands in the flagged or escalate bands downstream.
type Classification struct {
	Intent     Intent
	Confidence float64
}

type intentRule struct {
	intent   Intent
	keywords []string
	// priority breaks ties between intents matching the same count;
	// higher wins. Complaints outrank everything.
	priority int
}

// Classifier is a deterministic keyword classifier. Cheap enough to run on
// every message; ambiguity falls back to the general intent rather than
// erroring.
type Classifier struct {
	rules []intentRule
}

// NewClassifier builds the default rule set.
func NewClassifier() *Classifier {
	return &Classifier{rules: []intentRule{
		{
			intent:   IntentComplaint,
			priority: 4,
			keywords: []string{
				"complaint", "unhappy", "disappointed", "terrible", "awful",
				"refund", "manager", "unacceptable", "rude", "never again",
			},
		},
		{
			intent:   IntentPricing,
			priority: 3,
			keywords: []string{
				"price", "cost", "how much", "quote", "total", "charge",
				"rate", "fee", "expensive", "budget", "per person", "deposit",
			},
		},
		{
			intent:   IntentScheduling,
			priority: 2,
			keywords: []string{
				"schedule", "available", "availability", "date", "book",
				"reserve", "reschedule", "cancel my booking", "when can",
				"weekend", "saturday", "sunday",
			},
		},
		{
			intent:   IntentMenu,
			priority: 1,
			keywords: []string{
				"menu", "protein", "chicken", "steak", "shrimp", "lobster",
				"filet", "vegetarian", "vegan", "allergy", "gluten", "options",
			},
		},
	}}
}

// Classify scores each intent by matched keywords, tie-breaking on match
// specificity (longer phrases beat single words) and then rule priority.
// No match yields the general intent at low confidence; Classify never
// fails.
func (c *Classifier) Classify(message string) Classification {
	lower := strings.ToLower(message)

	best := Classification{Intent: IntentGeneral, Confidence: 0.3}
	bestMatches, bestSpecificity, bestPriority := 0, 0, -1

	for _, rule := range c.rules {
		matches, specificity := 0, 0
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				matches++
				specificity += len(kw)
			}
		}
		if matches == 0 {
			continue
		}
		better := matches > bestMatches ||
			(matches == bestMatches && specificity > bestSpecificity) ||
			(matches == bestMatches && specificity == bestSpecificity && rule.priority > bestPriority)
		if better {
			bestMatches = matches
			bestSpecificity = specificity
			bestPriority = rule.priority
			best = Classification{
				Intent:     rule.intent,
				Confidence: confidenceFor(matches),
			}
		}
	}
	return best
}

// confidenceFor maps match count to a confidence: one keyword is a decent
// signal, each extra keyword strengthens it, capped below certainty.
func confidenceFor(matches int) float64 {
	conf := 0.6 + 0.15*float64(matches-1)
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}
