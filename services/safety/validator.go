// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package safety validates candidate responses before they reach a
// customer. The rule battery is deterministic and short-circuits on the
// first hard failure; model output is guilty until proven priced.
package safety

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	"github.com/tablefire/concierge/services/pricing"
)

var tracer = otel.Tracer("concierge.safety")

// Verdict is the validation outcome for one candidate response.
type Verdict string

const (
	VerdictApproved Verdict = "APPROVED"
	VerdictRejected Verdict = "REJECTED"
	VerdictEscalate Verdict = "ESCALATE"
)

// Rule names reported in Result.Violations.
const (
	RuleToolProof     = "tool_proof"
	RuleSanityBounds  = "sanity_bounds"
	RuleHedgedPricing = "hedged_pricing"
	RuleContradiction = "contradiction"
)

// Result is the outcome of validating one candidate.
type Result struct {
	Verdict    Verdict  `json:"verdict"`
	Violations []string `json:"violations,omitempty"`
	Confidence float64  `json:"confidence"`
	// Flagged marks an approved response for async human spot-check.
	Flagged bool `json:"flagged"`
	// QuoteID is the resolved quote token, if the candidate priced anything.
	QuoteID string `json:"quote_id,omitempty"`
}

// Input is everything the validator needs to judge one candidate.
type Input struct {
	// Text is the candidate response.
	Text string
	// Knowledge is the formatted business context the candidate was
	// generated against.
	Knowledge string
	// Ledger holds the quotes the calculator produced this turn.
	Ledger *pricing.Ledger
	// ClassifierConfidence is the intent classifier's confidence for the
	// turn, folded into the final score.
	ClassifierConfidence float64
}

type rulesConfig struct {
	HedgePhrases []string `yaml:"hedge_phrases"`
	MenuLexicon  []string `yaml:"menu_lexicon"`
	Thresholds   struct {
		Approve       float64 `yaml:"approve"`
		EscalateBelow float64 `yaml:"escalate_below"`
	} `yaml:"thresholds"`
	Confidence struct {
		RuleWeight       float64 `yaml:"rule_weight"`
		ClassifierWeight float64 `yaml:"classifier_weight"`
	} `yaml:"confidence"`
}

// quoteTokenPattern matches the quote reference agents embed in response
// text, e.g. "[quote:3f2b9d1e-8a4c-4f0e-9c7d-2b1a0e9f8d7c]".
var quoteTokenPattern = regexp.MustCompile(`\[quote:([0-9a-fA-F-]{36})\]`)

// dollarPattern matches dollar figures like $55, $1,160.00, $80/person.
var dollarPattern = regexp.MustCompile(`\$\d[\d,]*(?:\.\d{1,2})?`)

// Validator runs the rule battery. Immutable after construction, safe for
// concurrent use across consensus candidates.
type Validator struct {
	rules rulesConfig
	calc  *pricing.Calculator
}

// NewValidator parses the embedded rules and binds the calculator used for
// sanity bounds.
func NewValidator(calc *pricing.Calculator) (*Validator, error) {
	return NewValidatorFromYAML(RulesYAML, calc)
}

// NewValidatorFromYAML builds a Validator from explicit rule bytes.
func NewValidatorFromYAML(data []byte, calc *pricing.Calculator) (*Validator, error) {
	var rules rulesConfig
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse validation rules: %w", err)
	}
	if rules.Thresholds.Approve <= rules.Thresholds.EscalateBelow {
		return nil, fmt.Errorf("approve threshold must exceed escalate threshold")
	}
	if len(rules.HedgePhrases) == 0 {
		return nil, fmt.Errorf("validation rules carry no hedge phrases")
	}
	return &Validator{rules: rules, calc: calc}, nil
}

// Validate runs the battery against one candidate.
//
// Rules fire in severity order and short-circuit: tool proof, sanity
// bounds, hedged pricing, contradiction. A candidate that survives them is
// scored; the score decides APPROVED, APPROVED-but-flagged, or ESCALATE.
func (v *Validator) Validate(ctx context.Context, in Input) Result {
	_, span := tracer.Start(ctx, "safety.Validate")
	defer span.End()

	sentences := splitSentences(in.Text)
	pricingSentences := make([]string, 0, len(sentences))
	for _, s := range sentences {
		if dollarPattern.MatchString(s) {
			pricingSentences = append(pricingSentences, s)
		}
	}

	quote, violation := v.checkToolProof(in, pricingSentences)
	if violation == "" && quote != nil {
		violation = v.checkSanityBounds(quote)
	}
	if violation == "" {
		violation = v.checkHedging(pricingSentences)
	}
	if violation == "" {
		violation = v.checkContradiction(sentences, in.Knowledge)
	}
	if violation != "" {
		span.SetAttributes(attribute.String("validation.violation", violation))
		return Result{
			Verdict:    VerdictRejected,
			Violations: []string{violation},
			Confidence: 0,
		}
	}

	confidence := v.score(in.ClassifierConfidence)
	span.SetAttributes(attribute.Float64("validation.confidence", confidence))

	result := Result{Confidence: confidence}
	if quote != nil {
		result.QuoteID = quote.QuoteID
	}
	switch {
	case confidence >= v.rules.Thresholds.Approve:
		result.Verdict = VerdictApproved
	case confidence >= v.rules.Thresholds.EscalateBelow:
		result.Verdict = VerdictApproved
		result.Flagged = true
	default:
		result.Verdict = VerdictEscalate
	}
	return result
}

// checkToolProof enforces that any priced response embeds a resolvable
// quote token and that every dollar figure traces to that quote.
func (v *Validator) checkToolProof(in Input, pricingSentences []string) (*pricing.Quote, string) {
	hasPricing := len(pricingSentences) > 0
	tokens := quoteTokenPattern.FindStringSubmatch(in.Text)

	if !hasPricing {
		return nil, ""
	}
	if tokens == nil {
		return nil, RuleToolProof
	}
	if in.Ledger == nil {
		return nil, RuleToolProof
	}
	quote, ok := in.Ledger.Resolve(tokens[1])
	if !ok {
		return nil, RuleToolProof
	}

	allowed := allowedAmounts(quote)
	stated := make(map[pricing.Cents]bool)
	for _, sentence := range pricingSentences {
		for _, figure := range dollarPattern.FindAllString(sentence, -1) {
			cents, err := parseDollars(figure)
			if err != nil {
				return nil, RuleToolProof
			}
			if !allowed[cents] {
				return nil, RuleToolProof
			}
			stated[cents] = true
		}
	}
	// When the party minimum kicked in, the floor total must actually be
	// stated: a response quoting only the pre-floor figures would present
	// the customer with a total below the minimum.
	if quote.MinimumApplied && !stated[quote.Total] {
		return nil, RuleToolProof
	}
	return quote, ""
}

func (v *Validator) checkSanityBounds(quote *pricing.Quote) string {
	low, high := v.calc.Bounds(quote.PartySize)
	if quote.Total < low || quote.Total > high {
		return RuleSanityBounds
	}
	return ""
}

func (v *Validator) checkHedging(pricingSentences []string) string {
	for _, sentence := range pricingSentences {
		lower := strings.ToLower(sentence)
		for _, hedge := range v.rules.HedgePhrases {
			if strings.Contains(lower, hedge) {
				return RuleHedgedPricing
			}
		}
	}
	return ""
}

// checkContradiction flags any sentence that names a lexicon item the
// knowledge context does not offer, priced or not. Keyword overlap is
// crude but it is deterministic, and the failure mode is a false
// escalation, not a false price.
func (v *Validator) checkContradiction(sentences []string, knowledge string) string {
	if knowledge == "" {
		return ""
	}
	lowerKnowledge := strings.ToLower(knowledge)
	for _, sentence := range sentences {
		lower := strings.ToLower(sentence)
		for _, item := range v.rules.MenuLexicon {
			if !strings.Contains(lower, item) {
				continue
			}
			if !strings.Contains(lowerKnowledge, item) {
				return RuleContradiction
			}
			if strings.Contains(lowerKnowledge, "no "+item) || strings.Contains(lowerKnowledge, "not offer "+item) {
				return RuleContradiction
			}
		}
	}
	return ""
}

// score folds the hard-rule pass rate (always 1.0 here, since rejections
// short-circuit) together with classifier confidence.
func (v *Validator) score(classifierConfidence float64) float64 {
	if classifierConfidence < 0 {
		classifierConfidence = 0
	}
	if classifierConfidence > 1 {
		classifierConfidence = 1
	}
	rw := v.rules.Confidence.RuleWeight
	cw := v.rules.Confidence.ClassifierWeight
	if rw+cw == 0 {
		rw, cw = 0.5, 0.5
	}
	return (rw*1.0 + cw*classifierConfidence) / (rw + cw)
}

// allowedAmounts collects every figure a response may legitimately quote:
// the total, the raw base total, each line item, and per-unit prices. When
// the minimum floor applied, the pre-floor base is excluded: it reads like
// a total below the minimum.
func allowedAmounts(quote *pricing.Quote) map[pricing.Cents]bool {
	allowed := map[pricing.Cents]bool{
		quote.Total: true,
	}
	if !quote.MinimumApplied {
		allowed[quote.BaseTotal] = true
	}
	for _, item := range quote.LineItems {
		allowed[item.Amount] = true
		if item.Quantity > 0 {
			unit := item.Amount / pricing.Cents(item.Quantity)
			if unit*pricing.Cents(item.Quantity) == item.Amount {
				allowed[unit] = true
			}
		}
	}
	return allowed
}

func parseDollars(figure string) (pricing.Cents, error) {
	cleaned := strings.TrimPrefix(figure, "$")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	parts := strings.SplitN(cleaned, ".", 2)
	whole, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable dollar figure %q: %w", figure, err)
	}
	cents := whole * 100
	if len(parts) == 2 {
		frac := parts[1]
		if len(frac) == 1 {
			frac += "0"
		}
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("unparseable dollar figure %q: %w", figure, err)
		}
		cents += f
	}
	return pricing.Cents(cents), nil
}

// splitSentences breaks text on sentence punctuation and newlines. Rough,
// but the rules only need dollar figures and hedges to land in the same
// fragment.
func splitSentences(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '!' || r == '?' || r == '\n' || r == ';'
	})
	// Periods need care: they end sentences but also appear in "$550.00".
	var out []string
	for _, f := range fields {
		out = append(out, splitOnPeriods(f)...)
	}
	return out
}

func splitOnPeriods(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if r != '.' {
			continue
		}
		// A period followed by a digit is a decimal point, not an end.
		if i+1 < len(runes) && runes[i+1] >= '0' && runes[i+1] <= '9' {
			continue
		}
		if s := strings.TrimSpace(string(runes[start:i])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}
