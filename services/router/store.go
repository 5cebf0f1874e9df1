// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/tablefire/concierge/services/orchestrator/datatypes"
)

// ErrConversationNotFound means the conversation id is unknown.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationStore persists conversations and their append-only message
// log. Conversations are never deleted here; archival happens externally.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*datatypes.Conversation, error)
	PutConversation(ctx context.Context, c *datatypes.Conversation) error
	AppendMessage(ctx context.Context, m *datatypes.Message) error
	Messages(ctx context.Context, conversationID string) ([]datatypes.Message, error)
}

const (
	conversationKeyPrefix = "conversation:"
	messageKeyPrefix      = "message:"
)

// BadgerConversationStore keeps conversations in an embedded Badger
// database shared with the other stores.
type BadgerConversationStore struct {
	db *badger.DB
}

// NewBadgerConversationStore wraps an open database owned by the caller.
func NewBadgerConversationStore(db *badger.DB) *BadgerConversationStore {
	return &BadgerConversationStore{db: db}
}

func (s *BadgerConversationStore) GetConversation(_ context.Context, id string) (*datatypes.Conversation, error) {
	var c datatypes.Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(conversationKeyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &c)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrConversationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}
	return &c, nil
}

func (s *BadgerConversationStore) PutConversation(_ context.Context, c *datatypes.Conversation) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation %s: %w", c.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(conversationKeyPrefix+c.ID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to persist conversation %s: %w", c.ID, err)
	}
	return nil
}

func (s *BadgerConversationStore) AppendMessage(_ context.Context, m *datatypes.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message %s: %w", m.ID, err)
	}
	key := fmt.Sprintf("%s%s:%020d:%s", messageKeyPrefix, m.ConversationID, m.Timestamp.UnixNano(), m.ID)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to append message %s: %w", m.ID, err)
	}
	return nil
}

func (s *BadgerConversationStore) Messages(_ context.Context, conversationID string) ([]datatypes.Message, error) {
	var out []datatypes.Message
	prefix := []byte(messageKeyPrefix + conversationID + ":")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var m datatypes.Message
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for %s: %w", conversationID, err)
	}
	return out, nil
}

// MemoryConversationStore is an in-process store for tests.
type MemoryConversationStore struct {
	mu            sync.Mutex
	conversations map[string]datatypes.Conversation
	messages      map[string][]datatypes.Message
}

// NewMemoryConversationStore creates an empty store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{
		conversations: make(map[string]datatypes.Conversation),
		messages:      make(map[string][]datatypes.Message),
	}
}

func (s *MemoryConversationStore) GetConversation(_ context.Context, id string) (*datatypes.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrConversationNotFound)
	}
	copied := c
	return &copied, nil
}

func (s *MemoryConversationStore) PutConversation(_ context.Context, c *datatypes.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = *c
	return nil
}

func (s *MemoryConversationStore) AppendMessage(_ context.Context, m *datatypes.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], *m)
	return nil
}

func (s *MemoryConversationStore) Messages(_ context.Context, conversationID string) ([]datatypes.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]datatypes.Message, len(s.messages[conversationID]))
	copy(out, s.messages[conversationID])
	return out, nil
}

// StorePauser adapts a ConversationStore to the escalation manager's
// pause/resume hook.
type StorePauser struct {
	store ConversationStore
}

// NewStorePauser wraps a store.
func NewStorePauser(store ConversationStore) *StorePauser {
	return &StorePauser{store: store}
}

// Pause flips the conversation to PAUSED_FOR_ESCALATION.
func (p *StorePauser) Pause(ctx context.Context, conversationID string) error {
	return p.setState(ctx, conversationID, datatypes.ConversationPaused)
}

// Resume flips the conversation back to ACTIVE.
func (p *StorePauser) Resume(ctx context.Context, conversationID string) error {
	return p.setState(ctx, conversationID, datatypes.ConversationActive)
}

func (p *StorePauser) setState(ctx context.Context, conversationID string, state datatypes.ConversationState) error {
	c, err := p.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	c.State = state
	c.UpdatedAt = nowUTC()
	return p.store.PutConversation(ctx, c)
}
