// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	c := NewClassifier()

	cases := []struct {
		message string
		want    Intent
	}{
		{"How much would it cost for 20 adults?", IntentPricing},
		{"What proteins are on the menu?", IntentMenu},
		{"Do you have availability next saturday?", IntentScheduling},
		{"This is unacceptable, I want a refund", IntentComplaint},
		{"Hi there!", IntentGeneral},
		{"asdf qwerty", IntentGeneral},
	}
	for _, tc := range cases {
		t.Run(tc.message, func(t *testing.T) {
			got := c.Classify(tc.message)
			assert.Equal(t, tc.want, got.Intent)
		})
	}
}

func TestClassify_ConfidenceGrowsWithMatches(t *testing.T) {
	c := NewClassifier()

	one := c.Classify("what's the price?")
	many := c.Classify("what's the price, the total cost per person, and the deposit?")

	assert.Equal(t, IntentPricing, one.Intent)
	assert.Equal(t, IntentPricing, many.Intent)
	assert.Greater(t, many.Confidence, one.Confidence)
	assert.LessOrEqual(t, many.Confidence, 0.95)
}

func TestClassify_NeverErrorsAndFallsBack(t *testing.T) {
	c := NewClassifier()

	got := c.Classify("")
	assert.Equal(t, IntentGeneral, got.Intent)
	assert.Greater(t, got.Confidence, 0.0)
}

func TestClassify_Deterministic(t *testing.T) {
	c := NewClassifier()
	msg := "can I book a date and what does it cost?"

	first := c.Classify(msg)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Classify(msg))
	}
}

func TestParseParty(t *testing.T) {
	cases := []struct {
		message  string
		adults   int
		children int
		ok       bool
	}{
		{"price for 20 adults, 2 kids, no upgrades", 20, 2, true},
		{"price for 1 adult", 1, 0, true},
		{"we are 15 people", 15, 0, true},
		{"just 3 children", 0, 3, true},
		{"how much does it cost?", 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.message, func(t *testing.T) {
			req, ok := parseParty(tc.message)
			assert.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.adults, req.Adults)
				assert.Equal(t, tc.children, req.Children)
			}
		})
	}
}
