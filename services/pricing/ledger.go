// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pricing

import "sync"

// Ledger tracks the quotes produced during a single turn. The validator
// resolves quote tokens in candidate text against it, which is what makes a
// price claim provable: a figure with no ledger entry came from the model,
// not the calculator.
//
// A Ledger is created per turn and discarded with it. Safe for concurrent
// use since consensus candidates validate in parallel.
type Ledger struct {
	mu     sync.RWMutex
	quotes map[string]*Quote
}

// NewLedger creates an empty per-turn ledger.
func NewLedger() *Ledger {
	return &Ledger{quotes: make(map[string]*Quote)}
}

// Record registers a quote produced this turn.
func (l *Ledger) Record(q *Quote) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quotes[q.QuoteID] = q
}

// Resolve looks up a quote by id. ok is false for ids not produced this
// turn, including ids fabricated by a model.
func (l *Ledger) Resolve(quoteID string) (*Quote, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	q, ok := l.quotes[quoteID]
	return q, ok
}

// Len reports the number of quotes recorded this turn.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.quotes)
}
