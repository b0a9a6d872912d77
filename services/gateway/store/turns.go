// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/stellarbyte/stellarserve/services/gateway/datatypes"
)

// keySegment escapes a client-supplied id for use inside a composite
// key. Ids may contain the '/' delimiter; unescaped, session "a/b"
// would land inside session "a"'s prefix scan.
func keySegment(id string) string {
	return url.QueryEscape(id)
}

// turnKey builds a lexicographically ordered key so that prefix scans
// return turns in append order. Zero-padded to 12 digits.
func turnKey(sessionID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%012d", turnKeyPrefix, keySegment(sessionID), seq))
}

// turnPrefix is the scan prefix covering exactly one session's turns.
func turnPrefix(sessionID string) []byte {
	return []byte(turnKeyPrefix + keySegment(sessionID) + "/")
}

func turnSeqKey(sessionID string) []byte {
	return []byte(turnSeqKeyPrefix + keySegment(sessionID))
}

// TurnStore persists conversation turns in BadgerDB.
type TurnStore struct {
	db *badger.DB
}

// NewTurnStore creates a turn store backed by db.
func NewTurnStore(db *badger.DB) *TurnStore {
	return &TurnStore{db: db}
}

// Append stores a new turn at the end of the session's history and
// returns the stored turn with its assigned sequence number.
func (s *TurnStore) Append(ctx context.Context, sessionID, role, content string, tokens int, metadata map[string]string) (*datatypes.Turn, error) {
	turn := &datatypes.Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Tokens:    tokens,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		seq, err := nextSeq(txn, sessionID)
		if err != nil {
			return err
		}
		turn.Seq = seq

		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		return txn.Set(turnKey(sessionID, seq), data)
	})
	if err != nil {
		return nil, fmt.Errorf("append turn to session %s: %w", sessionID, err)
	}
	return turn, nil
}

// List returns all turns for a session in append order. A session with
// no stored turns yields an empty slice, not an error.
func (s *TurnStore) List(ctx context.Context, sessionID string) ([]*datatypes.Turn, error) {
	return s.ListRange(ctx, sessionID, 0, 0)
}

// ListRange returns a page of the session's turns in append order.
// A zero or negative limit means no cap.
func (s *TurnStore) ListRange(ctx context.Context, sessionID string, offset, limit int) ([]*datatypes.Turn, error) {
	var turns []*datatypes.Turn
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = turnPrefix(sessionID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var turn datatypes.Turn
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &turn)
			})
			if err != nil {
				return err
			}
			turns = append(turns, &turn)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list turns for session %s: %w", sessionID, err)
	}
	return pageSlice(turns, offset, limit), nil
}

// Messages returns the session's turns converted to chat messages in
// append order.
func (s *TurnStore) Messages(ctx context.Context, sessionID string) ([]datatypes.Message, error) {
	turns, err := s.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	messages := make([]datatypes.Message, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, t.Message())
	}
	return messages, nil
}

// nextSeq increments and returns the per-session sequence counter
// within the given transaction.
func nextSeq(txn *badger.Txn, sessionID string) (uint64, error) {
	key := turnSeqKey(sessionID)

	var seq uint64
	item, err := txn.Get(key)
	switch {
	case err == nil:
		err = item.Value(func(val []byte) error {
			if len(val) != 8 {
				return errors.New("malformed sequence counter")
			}
			seq = binary.BigEndian.Uint64(val)
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("read turn sequence: %w", err)
		}
	case errors.Is(err, badger.ErrKeyNotFound):
		seq = 0
	default:
		return 0, fmt.Errorf("read turn sequence: %w", err)
	}

	seq++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	if err := txn.Set(key, buf); err != nil {
		return 0, fmt.Errorf("store turn sequence: %w", err)
	}
	return seq, nil
}
