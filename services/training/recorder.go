// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package training records candidate responses, verdicts, and booking
// outcomes as an append-only stream for later model evaluation. Recording
// is best-effort: a full buffer drops the signal and bumps a counter
// rather than stalling a customer turn.
package training

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// CandidateRecord is one judged candidate, flattened for storage.
type CandidateRecord struct {
	ProviderID string  `json:"provider_id"`
	Text       string  `json:"text"`
	LatencyMs  int64   `json:"latency_ms"`
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Selected   bool    `json:"selected"`
	// Flagged marks an approved answer in the spot-check confidence band.
	Flagged bool `json:"flagged,omitempty"`
}

// Signal is everything recorded about one turn.
type Signal struct {
	ConversationID string            `json:"conversation_id"`
	Intent         string            `json:"intent"`
	Candidates     []CandidateRecord `json:"candidates"`
	Escalated      bool              `json:"escalated"`
	TurnAt         time.Time         `json:"turn_at"`
}

// Outcome closes the loop on a conversation: did it book, and how happy
// was the customer.
type Outcome struct {
	ConversationID string    `json:"conversation_id"`
	Booked         bool      `json:"booked"`
	// Satisfaction is 1-5; zero means not reported.
	Satisfaction int       `json:"satisfaction,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Sink is the write side the router depends on.
type Sink interface {
	// RecordTurn enqueues a turn signal; never blocks.
	RecordTurn(signal Signal)
	// RecordOutcome durably stores a conversation outcome.
	RecordOutcome(ctx context.Context, outcome Outcome) error
}

const (
	signalKeyPrefix  = "signal:"
	outcomeKeyPrefix = "outcome:"
	defaultBuffer    = 256
)

// Recorder persists signals to Badger via a single background writer and
// mirrors outcomes to InfluxDB when a write API is configured.
type Recorder struct {
	db      *badger.DB
	influx  api.WriteAPI
	ch      chan Signal
	dropped atomic.Uint64
	seq     atomic.Uint64
	closed  atomic.Bool
	wg      sync.WaitGroup
	// onDrop fires once per dropped signal; wired to a metric in main.
	onDrop func()
}

// NewRecorder starts the background writer. influx may be nil. bufferSize
// <= 0 gets the default.
func NewRecorder(db *badger.DB, influx api.WriteAPI, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = defaultBuffer
	}
	r := &Recorder{
		db:     db,
		influx: influx,
		ch:     make(chan Signal, bufferSize),
	}
	r.wg.Add(1)
	go r.writeLoop()
	return r
}

// RecordTurn implements Sink. Overflow and post-Close calls drop the
// signal and count it; turn latency is never spent on training data.
func (r *Recorder) RecordTurn(signal Signal) {
	if r.closed.Load() {
		r.noteDrop()
		return
	}
	select {
	case r.ch <- signal:
	default:
		r.noteDrop()
		slog.Warn("Training signal buffer full, dropping",
			"conversation_id", signal.ConversationID,
			"dropped_total", r.dropped.Load())
	}
}

// SetDropHook registers a callback invoked on every dropped signal. Call
// before the recorder is shared across goroutines.
func (r *Recorder) SetDropHook(h func()) {
	r.onDrop = h
}

func (r *Recorder) noteDrop() {
	r.dropped.Add(1)
	if r.onDrop != nil {
		r.onDrop()
	}
}

// RecordOutcome implements Sink. The Badger write is the durable record;
// the Influx point is a fire-and-forget mirror for dashboards.
func (r *Recorder) RecordOutcome(ctx context.Context, outcome Outcome) error {
	if outcome.RecordedAt.IsZero() {
		outcome.RecordedAt = time.Now()
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}
	key := fmt.Sprintf("%s%s:%d", outcomeKeyPrefix, outcome.ConversationID, outcome.RecordedAt.UnixNano())
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to persist outcome for %s: %w", outcome.ConversationID, err)
	}

	if r.influx != nil {
		point := influxdb2.NewPoint("booking_outcome",
			map[string]string{"conversation_id": outcome.ConversationID},
			map[string]interface{}{
				"booked":       outcome.Booked,
				"satisfaction": outcome.Satisfaction,
			},
			outcome.RecordedAt)
		r.influx.WritePoint(point)
	}
	return nil
}

// Dropped reports the number of signals lost to overflow.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close drains the buffer and stops the writer. Further RecordTurn calls
// are counted as drops.
func (r *Recorder) Close() {
	if r.closed.Swap(true) {
		return
	}
	close(r.ch)
	r.wg.Wait()
	if r.influx != nil {
		r.influx.Flush()
	}
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()
	for signal := range r.ch {
		if err := r.write(signal); err != nil {
			slog.Error("Failed to persist training signal",
				"conversation_id", signal.ConversationID, "error", err)
		}
	}
}

// write stores one signal under a monotonic key so iteration replays turns
// in arrival order.
func (r *Recorder) write(signal Signal) error {
	if signal.TurnAt.IsZero() {
		signal.TurnAt = time.Now()
	}
	data, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}
	key := fmt.Sprintf("%s%020d:%012d", signalKeyPrefix, signal.TurnAt.UnixNano(), r.seq.Add(1))
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// Signals replays stored signals in write order, for offline export jobs.
func (r *Recorder) Signals(_ context.Context) ([]Signal, error) {
	var out []Signal
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(signalKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var s Signal
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			})
			if err != nil {
				return err
			}
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list training signals: %w", err)
	}
	return out, nil
}

// Outcomes replays stored outcomes for a conversation.
func (r *Recorder) Outcomes(_ context.Context, conversationID string) ([]Outcome, error) {
	var out []Outcome
	prefix := []byte(outcomeKeyPrefix + conversationID + ":")
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var o Outcome
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &o)
			})
			if err != nil {
				return err
			}
			out = append(out, o)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	return out, nil
}
