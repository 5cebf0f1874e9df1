// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pricing is the single authority for quoted prices. Every monetary
// figure in an outbound response must trace to a Quote produced here; model
// output is never trusted with arithmetic.
package pricing

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Cents is a monetary amount in US cents. Integer math end to end so the
// same request always yields the same total.
type Cents int64

// Dollars renders the amount as a float for serialization boundaries only.
func (c Cents) Dollars() float64 { return float64(c) / 100 }

// String renders "$1160.00" style text for prompts and line items.
func (c Cents) String() string {
	sign := ""
	v := c
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%d.%02d", sign, v/100, v%100)
}

func centsFromDollars(d float64) Cents {
	return Cents(math.Round(d * 100))
}

// RateCard holds the tunable numbers the calculator works from. Parsed from
// the embedded default card; stations may ship an override card.
type RateCard struct {
	Base struct {
		AdultPrice           float64 `yaml:"adult_price"`
		ChildPrice           float64 `yaml:"child_price"`
		MinimumTotal         float64 `yaml:"minimum_total"`
		IncludedProteinSlots int     `yaml:"included_protein_slots"`
	} `yaml:"base"`
	ProteinUpgrades       map[string]float64 `yaml:"protein_upgrades"`
	ExtraProteinSurcharge float64            `yaml:"extra_protein_surcharge"`
	Travel                struct {
		FreeRadiusKm float64 `yaml:"free_radius_km"`
		PerKmFee     float64 `yaml:"per_km_fee"`
		MaxFee       float64 `yaml:"max_fee"`
	} `yaml:"travel"`
	SanityBands struct {
		PerGuestMin float64 `yaml:"per_guest_min"`
		PerGuestMax float64 `yaml:"per_guest_max"`
	} `yaml:"sanity_bands"`
}

// LoadRateCard parses a YAML rate card and checks it for obviously broken
// values that would make every quote fail validation.
func LoadRateCard(data []byte) (*RateCard, error) {
	var card RateCard
	if err := yaml.Unmarshal(data, &card); err != nil {
		return nil, fmt.Errorf("failed to parse rate card: %w", err)
	}
	if card.Base.AdultPrice <= 0 || card.Base.ChildPrice <= 0 {
		return nil, fmt.Errorf("rate card has non-positive base prices")
	}
	if card.SanityBands.PerGuestMax <= card.SanityBands.PerGuestMin {
		return nil, fmt.Errorf("rate card sanity band is inverted")
	}
	return &card, nil
}

// DefaultRateCard parses the compiled-in card. Panics on failure since a
// broken embedded card is a build defect, not a runtime condition.
func DefaultRateCard() *RateCard {
	card, err := LoadRateCard(RateCardYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded rate card is invalid: %v", err))
	}
	return card
}

// Upgrade is one premium protein selection: Quantity guests chose Protein.
type Upgrade struct {
	Protein  string
	Quantity int
}

// Request is a quote request. DistanceKm is one-way travel from the station
// to the event; ExtraProteins counts selections beyond each guest's
// included slots, party-wide.
type Request struct {
	Adults        int
	Children      int
	DistanceKm    float64
	Upgrades      []Upgrade
	ExtraProteins int
}

// PartySize returns total guest count.
func (r Request) PartySize() int { return r.Adults + r.Children }

// LineItem is one priced component of a quote.
type LineItem struct {
	Label    string `json:"label"`
	Quantity int    `json:"quantity"`
	Amount   Cents  `json:"amount_cents"`
}

// Quote is an immutable pricing result. Monetary values are a pure function
// of the request and the rate card; only QuoteID and CreatedAt vary per call.
type Quote struct {
	QuoteID        string     `json:"quote_id"`
	PartySize      int        `json:"party_size"`
	BaseTotal      Cents      `json:"base_total_cents"`
	LineItems      []LineItem `json:"line_items"`
	Total          Cents      `json:"total_cents"`
	MinimumApplied bool       `json:"minimum_applied"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Calculator computes quotes from a rate card. It holds no mutable state
// and is safe for unlimited concurrent use.
type Calculator struct {
	card *RateCard
}

// NewCalculator builds a Calculator over the given card.
func NewCalculator(card *RateCard) *Calculator {
	return &Calculator{card: card}
}

// Quote computes a quote for the request. Deterministic: identical requests
// yield identical totals and line items.
func (c *Calculator) Quote(req Request) (*Quote, error) {
	if req.Adults < 0 || req.Children < 0 {
		return nil, fmt.Errorf("party counts cannot be negative")
	}
	if req.PartySize() == 0 {
		return nil, fmt.Errorf("party must have at least one guest")
	}
	if req.DistanceKm < 0 {
		return nil, fmt.Errorf("distance cannot be negative")
	}
	if req.ExtraProteins < 0 {
		return nil, fmt.Errorf("extra protein count cannot be negative")
	}

	var items []LineItem

	adultUnit := centsFromDollars(c.card.Base.AdultPrice)
	childUnit := centsFromDollars(c.card.Base.ChildPrice)
	baseTotal := Cents(req.Adults)*adultUnit + Cents(req.Children)*childUnit
	if req.Adults > 0 {
		items = append(items, LineItem{
			Label:    fmt.Sprintf("adults @ %s", adultUnit),
			Quantity: req.Adults,
			Amount:   Cents(req.Adults) * adultUnit,
		})
	}
	if req.Children > 0 {
		items = append(items, LineItem{
			Label:    fmt.Sprintf("children @ %s", childUnit),
			Quantity: req.Children,
			Amount:   Cents(req.Children) * childUnit,
		})
	}

	total := baseTotal

	// Deterministic line-item order regardless of request slice order.
	upgrades := make([]Upgrade, len(req.Upgrades))
	copy(upgrades, req.Upgrades)
	sort.Slice(upgrades, func(i, j int) bool { return upgrades[i].Protein < upgrades[j].Protein })
	for _, up := range upgrades {
		if up.Quantity <= 0 {
			continue
		}
		perGuest, ok := c.card.ProteinUpgrades[up.Protein]
		if !ok {
			return nil, fmt.Errorf("unknown protein upgrade %q", up.Protein)
		}
		amount := Cents(up.Quantity) * centsFromDollars(perGuest)
		items = append(items, LineItem{
			Label:    fmt.Sprintf("%s upgrade", up.Protein),
			Quantity: up.Quantity,
			Amount:   amount,
		})
		total += amount
	}

	if req.ExtraProteins > 0 {
		amount := Cents(req.ExtraProteins) * centsFromDollars(c.card.ExtraProteinSurcharge)
		items = append(items, LineItem{
			Label:    "extra protein beyond included slots",
			Quantity: req.ExtraProteins,
			Amount:   amount,
		})
		total += amount
	}

	if fee := c.travelFee(req.DistanceKm); fee > 0 {
		items = append(items, LineItem{
			Label:    fmt.Sprintf("travel fee (%.0f km)", req.DistanceKm),
			Quantity: 1,
			Amount:   fee,
		})
		total += fee
	}

	minimumApplied := false
	floor := centsFromDollars(c.card.Base.MinimumTotal)
	if total < floor {
		items = append(items, LineItem{
			Label:    "party minimum adjustment",
			Quantity: 1,
			Amount:   floor - total,
		})
		total = floor
		minimumApplied = true
	}

	return &Quote{
		QuoteID:        uuid.NewString(),
		PartySize:      req.PartySize(),
		BaseTotal:      baseTotal,
		LineItems:      items,
		Total:          total,
		MinimumApplied: minimumApplied,
		CreatedAt:      time.Now(),
	}, nil
}

// Bounds returns the [min, max] plausible total for a party of the given
// size. The validator rejects any quoted total outside this band.
func (c *Calculator) Bounds(partySize int) (Cents, Cents) {
	low := Cents(partySize) * centsFromDollars(c.card.SanityBands.PerGuestMin)
	floor := centsFromDollars(c.card.Base.MinimumTotal)
	if low < floor {
		low = floor
	}
	high := Cents(partySize) * centsFromDollars(c.card.SanityBands.PerGuestMax)
	if high < low {
		high = low
	}
	return low, high
}

func (c *Calculator) travelFee(distanceKm float64) Cents {
	extra := distanceKm - c.card.Travel.FreeRadiusKm
	if extra <= 0 {
		return 0
	}
	fee := centsFromDollars(extra * c.card.Travel.PerKmFee)
	if maxFee := centsFromDollars(c.card.Travel.MaxFee); fee > maxFee {
		fee = maxFee
	}
	return fee
}
