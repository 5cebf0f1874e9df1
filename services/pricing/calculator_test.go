// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCalculator(t *testing.T) *Calculator {
	t.Helper()
	card, err := LoadRateCard(RateCardYAML)
	require.NoError(t, err)
	return NewCalculator(card)
}

func TestQuote_StandardParty(t *testing.T) {
	calc := newTestCalculator(t)

	// 20 adults, 2 children, no upgrades: 20*$55 + 2*$30 = $1160.
	q, err := calc.Quote(Request{Adults: 20, Children: 2})
	require.NoError(t, err)

	assert.Equal(t, Cents(116000), q.Total)
	assert.Equal(t, Cents(116000), q.BaseTotal)
	assert.Equal(t, 22, q.PartySize)
	assert.False(t, q.MinimumApplied)
	assert.NotEmpty(t, q.QuoteID)
}

func TestQuote_MinimumFloor(t *testing.T) {
	calc := newTestCalculator(t)

	// A single adult is $55 raw but the party minimum is $550.
	q, err := calc.Quote(Request{Adults: 1})
	require.NoError(t, err)

	assert.Equal(t, Cents(55000), q.Total)
	assert.True(t, q.MinimumApplied)
	assert.Equal(t, Cents(5500), q.BaseTotal, "base total records the raw figure")

	var adjustment *LineItem
	for i := range q.LineItems {
		if q.LineItems[i].Label == "party minimum adjustment" {
			adjustment = &q.LineItems[i]
		}
	}
	require.NotNil(t, adjustment, "floor must show up as an explicit line item")
	assert.Equal(t, Cents(49500), adjustment.Amount)
}

func TestQuote_UpgradesAndSurcharge(t *testing.T) {
	calc := newTestCalculator(t)

	q, err := calc.Quote(Request{
		Adults: 10,
		Upgrades: []Upgrade{
			{Protein: "lobster", Quantity: 4},
			{Protein: "filet_mignon", Quantity: 2},
		},
		ExtraProteins: 3,
	})
	require.NoError(t, err)

	// 10*$55 + 4*$10 + 2*$5 + 3*$10 = $630.
	assert.Equal(t, Cents(63000), q.Total)
	assert.False(t, q.MinimumApplied)
}

func TestQuote_TravelFee(t *testing.T) {
	calc := newTestCalculator(t)

	within, err := calc.Quote(Request{Adults: 15, DistanceKm: 25})
	require.NoError(t, err)
	beyond, err := calc.Quote(Request{Adults: 15, DistanceKm: 50})
	require.NoError(t, err)

	assert.Equal(t, within.BaseTotal, within.Total, "no fee inside the free radius")
	// 20 km past the 30 km radius at $2/km = $40.
	assert.Equal(t, within.Total+Cents(4000), beyond.Total)

	// The fee is capped.
	far, err := calc.Quote(Request{Adults: 15, DistanceKm: 500})
	require.NoError(t, err)
	assert.Equal(t, within.Total+Cents(20000), far.Total)
}

func TestQuote_Deterministic(t *testing.T) {
	calc := newTestCalculator(t)
	req := Request{
		Adults:        12,
		Children:      3,
		DistanceKm:    42,
		Upgrades:      []Upgrade{{Protein: "filet_mignon", Quantity: 5}},
		ExtraProteins: 2,
	}

	a, err := calc.Quote(req)
	require.NoError(t, err)
	b, err := calc.Quote(req)
	require.NoError(t, err)

	assert.Equal(t, a.Total, b.Total)
	assert.Equal(t, a.LineItems, b.LineItems)
	assert.NotEqual(t, a.QuoteID, b.QuoteID, "ids are unique per call")

	// Upgrade slice order must not change the output.
	req.Upgrades = append(req.Upgrades, Upgrade{Protein: "lobster", Quantity: 1})
	c1, err := calc.Quote(req)
	require.NoError(t, err)
	req.Upgrades[0], req.Upgrades[1] = req.Upgrades[1], req.Upgrades[0]
	c2, err := calc.Quote(req)
	require.NoError(t, err)
	assert.Equal(t, c1.LineItems, c2.LineItems)
}

func TestQuote_TotalsStayInsideSanityBand(t *testing.T) {
	calc := newTestCalculator(t)

	for n := 10; n <= 100; n++ {
		q, err := calc.Quote(Request{Adults: n, ExtraProteins: n / 2})
		require.NoError(t, err)
		low, high := calc.Bounds(q.PartySize)
		assert.GreaterOrEqual(t, q.Total, low, "party of %d below band", n)
		assert.LessOrEqual(t, q.Total, high, "party of %d above band", n)
	}
}

func TestQuote_InvalidRequests(t *testing.T) {
	calc := newTestCalculator(t)

	cases := []Request{
		{},
		{Adults: -1, Children: 5},
		{Adults: 5, DistanceKm: -1},
		{Adults: 5, ExtraProteins: -2},
		{Adults: 5, Upgrades: []Upgrade{{Protein: "wagyu", Quantity: 1}}},
	}
	for _, req := range cases {
		_, err := calc.Quote(req)
		assert.Error(t, err, "request %+v should be rejected", req)
	}
}

func TestBounds_FloorRaisesMinimum(t *testing.T) {
	calc := newTestCalculator(t)

	low, _ := calc.Bounds(2)
	assert.Equal(t, Cents(55000), low, "band floor never dips below the party minimum")
}

func TestLoadRateCard_RejectsBroken(t *testing.T) {
	_, err := LoadRateCard([]byte("base:\n  adult_price: 0\n"))
	assert.Error(t, err)

	_, err = LoadRateCard([]byte("not: [valid"))
	assert.Error(t, err)
}

func TestCents_String(t *testing.T) {
	assert.Equal(t, "$1160.00", Cents(116000).String())
	assert.Equal(t, "$0.05", Cents(5).String())
	assert.Equal(t, "-$2.50", Cents(-250).String())
}

func TestLedger(t *testing.T) {
	calc := newTestCalculator(t)
	ledger := NewLedger()

	q, err := calc.Quote(Request{Adults: 20, Children: 2})
	require.NoError(t, err)
	ledger.Record(q)

	got, ok := ledger.Resolve(q.QuoteID)
	require.True(t, ok)
	assert.Equal(t, q.Total, got.Total)

	_, ok = ledger.Resolve("made-up-id")
	assert.False(t, ok, "ids the calculator never issued must not resolve")
	assert.Equal(t, 1, ledger.Len())
}
