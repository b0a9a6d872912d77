// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/stellarbyte/stellarserve/services/gateway/datatypes"
)

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("session not found")

const (
	sessionKeyPrefix = "session/"
	turnKeyPrefix    = "turn/"
	turnSeqKeyPrefix = "turnseq/"
)

func sessionKey(id string) []byte {
	return []byte(sessionKeyPrefix + id)
}

// SessionStore persists chat sessions in BadgerDB.
type SessionStore struct {
	db *badger.DB
}

// NewSessionStore creates a session store backed by db.
func NewSessionStore(db *badger.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create creates a new session. If title is empty a placeholder is
// used. The generated session id is a UUID.
func (s *SessionStore) Create(ctx context.Context, title string) (*datatypes.Session, error) {
	if title == "" {
		title = "New conversation"
	}
	now := time.Now().UTC()
	sess := &datatypes.Session{
		ID:        uuid.NewString(),
		Title:     title,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.put(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Ensure returns the session with the given id, creating it with a
// placeholder title if it does not exist. Used by the completion path
// so that clients may supply their own session ids.
func (s *SessionStore) Ensure(ctx context.Context, id string) (*datatypes.Session, error) {
	sess, err := s.Get(ctx, id)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	sess = &datatypes.Session{
		ID:        id,
		Title:     "New conversation",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.put(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns the session with the given id, or ErrSessionNotFound.
func (s *SessionStore) Get(ctx context.Context, id string) (*datatypes.Session, error) {
	var sess datatypes.Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &sess, nil
}

// ListOptions filters and pages a session listing.
type ListOptions struct {
	// ActiveOnly drops deactivated sessions from the result.
	ActiveOnly bool
	// Offset skips that many sessions after sorting.
	Offset int
	// Limit caps the result size; zero or negative means no cap.
	Limit int
}

// List returns sessions most recently updated first, filtered and
// paged per opts.
func (s *SessionStore) List(ctx context.Context, listOpts ListOptions) ([]*datatypes.Session, error) {
	var sessions []*datatypes.Session
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var sess datatypes.Session
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			})
			if err != nil {
				return err
			}
			if listOpts.ActiveOnly && !sess.IsActive {
				continue
			}
			sessions = append(sessions, &sess)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return pageSlice(sessions, listOpts.Offset, listOpts.Limit), nil
}

// pageSlice applies offset/limit bounds without going out of range.
func pageSlice[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// UpdateTitle renames a session.
func (s *SessionStore) UpdateTitle(ctx context.Context, id, title string) (*datatypes.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Title = title
	sess.UpdatedAt = time.Now().UTC()
	if err := s.put(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Touch bumps a session's UpdatedAt. Missing sessions are ignored.
func (s *SessionStore) Touch(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
	sess.UpdatedAt = time.Now().UTC()
	return s.put(sess)
}

// Delete removes a session and all of its turns.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		// Collect turn keys first; deleting during iteration is not safe.
		var keys [][]byte
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = turnPrefix(id)
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return fmt.Errorf("delete turn: %w", err)
			}
		}
		if err := txn.Delete(turnSeqKey(id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete turn sequence: %w", err)
		}
		if err := txn.Delete(sessionKey(id)); err != nil {
			return fmt.Errorf("delete session %s: %w", id, err)
		}
		return nil
	})
}

func (s *SessionStore) put(sess *datatypes.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(sess.ID), data)
	})
	if err != nil {
		return fmt.Errorf("store session %s: %w", sess.ID, err)
	}
	return nil
}
