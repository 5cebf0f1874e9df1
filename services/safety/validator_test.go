// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package safety

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablefire/concierge/services/pricing"
)

const testKnowledge = `## MENU
Chicken, steak, shrimp. Premium upgrades: filet mignon, lobster, scallops.

## PRICING
Adults $55, children $30. Party minimum $550.`

func newTestValidator(t *testing.T) (*Validator, *pricing.Calculator) {
	t.Helper()
	calc := pricing.NewCalculator(pricing.DefaultRateCard())
	v, err := NewValidator(calc)
	require.NoError(t, err)
	return v, calc
}

func quotedParty(t *testing.T, calc *pricing.Calculator, ledger *pricing.Ledger, adults, children int) *pricing.Quote {
	t.Helper()
	q, err := calc.Quote(pricing.Request{Adults: adults, Children: children})
	require.NoError(t, err)
	ledger.Record(q)
	return q
}

func TestValidate_ApprovedWithQuote(t *testing.T) {
	v, calc := newTestValidator(t)
	ledger := pricing.NewLedger()
	q := quotedParty(t, calc, ledger, 20, 2)

	text := fmt.Sprintf(
		"For 20 adults and 2 children the total is %s. [quote:%s]",
		q.Total, q.QuoteID)

	result := v.Validate(context.Background(), Input{
		Text:                 text,
		Knowledge:            testKnowledge,
		Ledger:               ledger,
		ClassifierConfidence: 0.9,
	})

	assert.Equal(t, VerdictApproved, result.Verdict)
	assert.False(t, result.Flagged)
	assert.Empty(t, result.Violations)
	assert.Equal(t, q.QuoteID, result.QuoteID)
	assert.GreaterOrEqual(t, result.Confidence, 0.8)
}

func TestValidate_PricingClaimWithoutQuoteToken(t *testing.T) {
	v, _ := newTestValidator(t)

	result := v.Validate(context.Background(), Input{
		Text:                 "That would come to $1160.00 for your party.",
		Knowledge:            testKnowledge,
		Ledger:               pricing.NewLedger(),
		ClassifierConfidence: 0.95,
	})

	assert.Equal(t, VerdictRejected, result.Verdict)
	assert.Contains(t, result.Violations, RuleToolProof)
}

func TestValidate_FabricatedQuoteID(t *testing.T) {
	v, _ := newTestValidator(t)

	result := v.Validate(context.Background(), Input{
		Text:      "Total is $1160.00. [quote:00000000-0000-0000-0000-000000000000]",
		Knowledge: testKnowledge,
		Ledger:    pricing.NewLedger(),
	})

	assert.Equal(t, VerdictRejected, result.Verdict)
	assert.Contains(t, result.Violations, RuleToolProof)
}

func TestValidate_FigureNotInQuote(t *testing.T) {
	v, calc := newTestValidator(t)
	ledger := pricing.NewLedger()
	q := quotedParty(t, calc, ledger, 20, 2)

	// Valid token, but the model invented a different number.
	text := fmt.Sprintf("Your total is $999.00. [quote:%s]", q.QuoteID)

	result := v.Validate(context.Background(), Input{
		Text:      text,
		Knowledge: testKnowledge,
		Ledger:    ledger,
	})

	assert.Equal(t, VerdictRejected, result.Verdict)
	assert.Contains(t, result.Violations, RuleToolProof)
}

func TestValidate_UnitPricesAllowed(t *testing.T) {
	v, calc := newTestValidator(t)
	ledger := pricing.NewLedger()
	q := quotedParty(t, calc, ledger, 20, 2)

	text := fmt.Sprintf(
		"Adults are $55.00 each and children $30.00, so the total is $1,160.00. [quote:%s]",
		q.QuoteID)

	result := v.Validate(context.Background(), Input{
		Text:                 text,
		Knowledge:            testKnowledge,
		Ledger:               ledger,
		ClassifierConfidence: 0.9,
	})

	assert.Equal(t, VerdictApproved, result.Verdict)
}

func TestValidate_MinimumFloorMustBeStated(t *testing.T) {
	v, calc := newTestValidator(t)
	ledger := pricing.NewLedger()
	q := quotedParty(t, calc, ledger, 1, 0)
	require.True(t, q.MinimumApplied)

	// $55.00 is a legitimate line-item figure, but presenting it without
	// the $550.00 floor reads like a total below the minimum.
	text := fmt.Sprintf("Your total comes to $55.00. [quote:%s]", q.QuoteID)

	result := v.Validate(context.Background(), Input{
		Text:                 text,
		Knowledge:            testKnowledge,
		Ledger:               ledger,
		ClassifierConfidence: 0.95,
	})

	assert.Equal(t, VerdictRejected, result.Verdict)
	assert.Contains(t, result.Violations, RuleToolProof)
}

func TestValidate_MinimumFloorWithItemizationApproved(t *testing.T) {
	v, calc := newTestValidator(t)
	ledger := pricing.NewLedger()
	q := quotedParty(t, calc, ledger, 1, 0)
	require.True(t, q.MinimumApplied)

	text := fmt.Sprintf(
		"One adult is $55.00, and with our $550.00 party minimum the total is $550.00. [quote:%s]",
		q.QuoteID)

	result := v.Validate(context.Background(), Input{
		Text:                 text,
		Knowledge:            testKnowledge,
		Ledger:               ledger,
		ClassifierConfidence: 0.95,
	})

	assert.Equal(t, VerdictApproved, result.Verdict)
	assert.Equal(t, q.QuoteID, result.QuoteID)
}

func TestValidate_HedgeAdjacentToDollarAmount(t *testing.T) {
	v, calc := newTestValidator(t)
	ledger := pricing.NewLedger()
	q := quotedParty(t, calc, ledger, 20, 2)

	text := fmt.Sprintf("It would be approximately %s for your group. [quote:%s]",
		q.Total, q.QuoteID)

	result := v.Validate(context.Background(), Input{
		Text:                 text,
		Knowledge:            testKnowledge,
		Ledger:               ledger,
		ClassifierConfidence: 0.95,
	})

	assert.Equal(t, VerdictRejected, result.Verdict)
	assert.Contains(t, result.Violations, RuleHedgedPricing)
}

func TestValidate_HedgeAwayFromPricingIsFine(t *testing.T) {
	v, _ := newTestValidator(t)

	result := v.Validate(context.Background(), Input{
		Text:                 "We usually arrive around 30 minutes early to set up.",
		Knowledge:            testKnowledge,
		ClassifierConfidence: 0.9,
	})

	assert.Equal(t, VerdictApproved, result.Verdict)
}

func TestValidate_ContradictionWithMenu(t *testing.T) {
	v, calc := newTestValidator(t)
	ledger := pricing.NewLedger()
	q := quotedParty(t, calc, ledger, 10, 0)

	// Menu has no wagyu; pricing it is a contradiction even with a
	// legitimate quote token present.
	text := fmt.Sprintf("We offer wagyu for $55.00 per person. [quote:%s]", q.QuoteID)

	result := v.Validate(context.Background(), Input{
		Text:                 text,
		Knowledge:            testKnowledge,
		Ledger:               ledger,
		ClassifierConfidence: 0.95,
	})

	assert.Equal(t, VerdictRejected, result.Verdict)
	assert.Contains(t, result.Violations, RuleContradiction)
}

func TestValidate_ContradictionWithoutPrice(t *testing.T) {
	v, _ := newTestValidator(t)

	// No dollar figure anywhere, so the pricing rules are silent; the
	// contradiction check still covers the whole candidate.
	result := v.Validate(context.Background(), Input{
		Text:                 "Absolutely, our chefs prepare wagyu beef tableside for your whole party!",
		Knowledge:            testKnowledge,
		Ledger:               pricing.NewLedger(),
		ClassifierConfidence: 0.95,
	})

	assert.Equal(t, VerdictRejected, result.Verdict)
	assert.Contains(t, result.Violations, RuleContradiction)
}

func TestValidate_ExplicitNegationInKnowledge(t *testing.T) {
	v, calc := newTestValidator(t)
	ledger := pricing.NewLedger()
	q := quotedParty(t, calc, ledger, 10, 0)

	knowledge := testKnowledge + "\nWe have no lobster this season."
	text := fmt.Sprintf("Lobster runs $55.00 per guest. [quote:%s]", q.QuoteID)

	result := v.Validate(context.Background(), Input{
		Text:      text,
		Knowledge: knowledge,
		Ledger:    ledger,
	})

	assert.Equal(t, VerdictRejected, result.Verdict)
	assert.Contains(t, result.Violations, RuleContradiction)
}

func TestValidate_ConfidenceBands(t *testing.T) {
	v, _ := newTestValidator(t)

	// Non-pricing text passes every hard rule; verdict rides on the score.
	input := func(conf float64) Input {
		return Input{
			Text:                 "We serve parties of ten or more most weekends.",
			Knowledge:            testKnowledge,
			ClassifierConfidence: conf,
		}
	}

	high := v.Validate(context.Background(), input(1.0))
	assert.Equal(t, VerdictApproved, high.Verdict)
	assert.False(t, high.Flagged)

	mid := v.Validate(context.Background(), input(0.5))
	assert.Equal(t, VerdictApproved, mid.Verdict)
	assert.True(t, mid.Flagged, "mid-band approvals are flagged for spot-check")

	low := v.Validate(context.Background(), input(0.0))
	assert.Equal(t, VerdictEscalate, low.Verdict)
}

func TestValidate_OutOfBoundsQuoteRejected(t *testing.T) {
	calc := pricing.NewCalculator(pricing.DefaultRateCard())
	// A rule file with an impossible band forces the bounds check to fire.
	rules := []byte(`
hedge_phrases: [approximately]
menu_lexicon: [wagyu]
thresholds: {approve: 0.8, escalate_below: 0.6}
confidence: {rule_weight: 0.5, classifier_weight: 0.5}
`)
	v, err := NewValidatorFromYAML(rules, calc)
	require.NoError(t, err)

	narrowCard, err := pricing.LoadRateCard([]byte(`
base: {adult_price: 55.00, child_price: 30.00, minimum_total: 550.00, included_protein_slots: 2}
extra_protein_surcharge: 10.00
sanity_bands: {per_guest_min: 100.00, per_guest_max: 120.00}
`))
	require.NoError(t, err)
	v, err = NewValidatorFromYAML(rules, pricing.NewCalculator(narrowCard))
	require.NoError(t, err)

	ledger := pricing.NewLedger()
	q, err := calc.Quote(pricing.Request{Adults: 20})
	require.NoError(t, err)
	ledger.Record(q)

	text := fmt.Sprintf("Total is %s. [quote:%s]", q.Total, q.QuoteID)
	result := v.Validate(context.Background(), Input{Text: text, Knowledge: testKnowledge, Ledger: ledger})

	assert.Equal(t, VerdictRejected, result.Verdict)
	assert.Contains(t, result.Violations, RuleSanityBounds)
}

func TestNewValidatorFromYAML_Broken(t *testing.T) {
	calc := pricing.NewCalculator(pricing.DefaultRateCard())

	_, err := NewValidatorFromYAML([]byte("thresholds: {approve: 0.5, escalate_below: 0.6}"), calc)
	assert.Error(t, err)

	_, err = NewValidatorFromYAML([]byte("not: [valid"), calc)
	assert.Error(t, err)
}

func TestParseDollars(t *testing.T) {
	cases := map[string]pricing.Cents{
		"$55":       5500,
		"$1,160.00": 116000,
		"$0.5":      50,
		"$550.00":   55000,
	}
	for figure, want := range cases {
		got, err := parseDollars(figure)
		require.NoError(t, err, figure)
		assert.Equal(t, want, got, figure)
	}
}
