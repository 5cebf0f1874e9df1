// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
)

// Store persists escalations. Implementations must make Put atomic per
// escalation; the Manager serializes transitions per id above this layer.
type Store interface {
	Put(ctx context.Context, e *Escalation) error
	Get(ctx context.Context, id string) (*Escalation, error)
	// List returns escalations with the given status, newest first. An
	// empty status lists everything.
	List(ctx context.Context, status Status) ([]*Escalation, error)
}

const escalationKeyPrefix = "escalation:"

func escalationKey(id string) []byte {
	return []byte(escalationKeyPrefix + id)
}

// BadgerStore persists escalations in an embedded Badger database.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore wraps an open database owned by the caller.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Put implements Store.
func (s *BadgerStore) Put(_ context.Context, e *Escalation) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal escalation %s: %w", e.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(escalationKey(e.ID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to persist escalation %s: %w", e.ID, err)
	}
	return nil
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context, id string) (*Escalation, error) {
	var e Escalation
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(escalationKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("escalation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load escalation %s: %w", id, err)
	}
	return &e, nil
}

// List implements Store.
func (s *BadgerStore) List(_ context.Context, status Status) ([]*Escalation, error) {
	var out []*Escalation
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(escalationKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var e Escalation
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return err
			}
			if status != "" && e.Status != status {
				continue
			}
			out = append(out, &e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}
	sortNewestFirst(out)
	return out, nil
}

// MemoryStore is an in-process Store for tests, with injectable failures
// for exercising the Manager's retry path.
type MemoryStore struct {
	mu           sync.Mutex
	escalations  map[string]Escalation
	failuresLeft int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{escalations: make(map[string]Escalation)}
}

// FailNextPuts makes the next n Put calls fail.
func (m *MemoryStore) FailNextPuts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failuresLeft = n
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, e *Escalation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failuresLeft > 0 {
		m.failuresLeft--
		return fmt.Errorf("injected persistence failure")
	}
	m.escalations[e.ID] = *e
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*Escalation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escalations[id]
	if !ok {
		return nil, fmt.Errorf("escalation %s: %w", id, ErrNotFound)
	}
	copied := e
	return &copied, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, status Status) ([]*Escalation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Escalation
	for _, e := range m.escalations {
		if status != "" && e.Status != status {
			continue
		}
		copied := e
		out = append(out, &copied)
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(escalations []*Escalation) {
	sort.Slice(escalations, func(i, j int) bool {
		if !escalations[i].CreatedAt.Equal(escalations[j].CreatedAt) {
			return escalations[i].CreatedAt.After(escalations[j].CreatedAt)
		}
		return escalations[i].ID < escalations[j].ID
	})
}
