// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package training

import (
	"context"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRecordTurn_PersistsInOrder(t *testing.T) {
	db := openTestDB(t)
	recorder := NewRecorder(db, nil, 16)

	base := time.Now()
	for i, conv := range []string{"conv-1", "conv-2", "conv-3"} {
		recorder.RecordTurn(Signal{
			ConversationID: conv,
			Intent:         "pricing",
			TurnAt:         base.Add(time.Duration(i) * time.Millisecond),
			Candidates: []CandidateRecord{
				{ProviderID: "openai", Verdict: "APPROVED", Confidence: 0.9, Selected: true},
			},
		})
	}
	recorder.Close()

	signals, err := recorder.Signals(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 3)
	assert.Equal(t, "conv-1", signals[0].ConversationID)
	assert.Equal(t, "conv-3", signals[2].ConversationID)
	assert.Equal(t, uint64(0), recorder.Dropped())
}

func TestRecordTurn_AfterCloseDrops(t *testing.T) {
	db := openTestDB(t)
	recorder := NewRecorder(db, nil, 16)
	recorder.Close()

	recorder.RecordTurn(Signal{ConversationID: "conv-late"})
	assert.Equal(t, uint64(1), recorder.Dropped())

	signals, err := recorder.Signals(context.Background())
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestRecordTurn_DropHookFires(t *testing.T) {
	db := openTestDB(t)
	recorder := NewRecorder(db, nil, 16)
	var hookCalls int
	recorder.SetDropHook(func() { hookCalls++ })
	recorder.Close()

	recorder.RecordTurn(Signal{ConversationID: "conv-a"})
	recorder.RecordTurn(Signal{ConversationID: "conv-b"})

	assert.Equal(t, 2, hookCalls)
	assert.Equal(t, uint64(2), recorder.Dropped())
}

func TestRecordOutcome_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	recorder := NewRecorder(db, nil, 16)
	defer recorder.Close()

	err := recorder.RecordOutcome(context.Background(), Outcome{
		ConversationID: "conv-1",
		Booked:         true,
		Satisfaction:   5,
	})
	require.NoError(t, err)
	err = recorder.RecordOutcome(context.Background(), Outcome{
		ConversationID: "conv-2",
		Booked:         false,
	})
	require.NoError(t, err)

	outcomes, err := recorder.Outcomes(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Booked)
	assert.Equal(t, 5, outcomes[0].Satisfaction)
	assert.False(t, outcomes[0].RecordedAt.IsZero())
}

func TestClose_Idempotent(t *testing.T) {
	db := openTestDB(t)
	recorder := NewRecorder(db, nil, 16)
	recorder.Close()
	recorder.Close()
}
