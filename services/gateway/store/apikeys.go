// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/stellarbyte/stellarserve/services/gateway/datatypes"
)

// ErrKeyNotFound is returned when an API key id or value does not exist.
var ErrKeyNotFound = errors.New("api key not found")

const (
	apiKeyPrefix      = "apikey/"
	apiKeyValuePrefix = "apikeyval/"
	apiKeyValueLen    = 32 // random bytes before hex encoding
)

func apiKeyIDKey(id string) []byte {
	return []byte(apiKeyPrefix + id)
}

func apiKeyValueKey(value string) []byte {
	return []byte(apiKeyValuePrefix + value)
}

// APIKeyStore persists gateway API keys in BadgerDB. Keys are stored
// under their id; a secondary index maps the key value back to the id
// so request validation is a single point lookup.
type APIKeyStore struct {
	db *badger.DB
}

// NewAPIKeyStore creates an API key store backed by db.
func NewAPIKeyStore(db *badger.DB) *APIKeyStore {
	return &APIKeyStore{db: db}
}

// Create generates a new API key with the given display name. The key
// value is returned only from this call; subsequent reads omit it.
func (s *APIKeyStore) Create(ctx context.Context, name string) (*datatypes.APIKey, error) {
	raw := make([]byte, apiKeyValueLen)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}
	value := "sb-" + hex.EncodeToString(raw)

	key := &datatypes.APIKey{
		ID:        uuid.NewString(),
		Name:      name,
		Key:       value,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}

	record := *key
	data, err := json.Marshal(&record)
	if err != nil {
		return nil, fmt.Errorf("marshal api key: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(apiKeyIDKey(key.ID), data); err != nil {
			return err
		}
		return txn.Set(apiKeyValueKey(value), []byte(key.ID))
	})
	if err != nil {
		return nil, fmt.Errorf("store api key: %w", err)
	}
	return key, nil
}

// Get returns the API key with the given id. The key value is redacted.
func (s *APIKeyStore) Get(ctx context.Context, id string) (*datatypes.APIKey, error) {
	key, err := s.get(id)
	if err != nil {
		return nil, err
	}
	key.Key = ""
	return key, nil
}

// List returns all API keys, newest first, with key values redacted.
func (s *APIKeyStore) List(ctx context.Context) ([]*datatypes.APIKey, error) {
	var keys []*datatypes.APIKey
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(apiKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var key datatypes.APIKey
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &key)
			})
			if err != nil {
				return err
			}
			key.Key = ""
			keys = append(keys, &key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

// Validate checks whether value corresponds to an active API key and
// returns that key (value redacted). Inactive or unknown keys return
// ErrKeyNotFound.
func (s *APIKeyStore) Validate(ctx context.Context, value string) (*datatypes.APIKey, error) {
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(apiKeyValueKey(value))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("validate api key: %w", err)
	}

	key, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if !key.IsActive {
		return nil, ErrKeyNotFound
	}
	key.Key = ""
	return key, nil
}

// Activate marks a key active.
func (s *APIKeyStore) Activate(ctx context.Context, id string) error {
	return s.setActive(id, true)
}

// Deactivate marks a key inactive without deleting it, so it can be
// re-enabled later.
func (s *APIKeyStore) Deactivate(ctx context.Context, id string) error {
	return s.setActive(id, false)
}

// Delete removes an API key and its value index entry.
func (s *APIKeyStore) Delete(ctx context.Context, id string) error {
	key, err := s.get(id)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if key.Key != "" {
			if err := txn.Delete(apiKeyValueKey(key.Key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return txn.Delete(apiKeyIDKey(id))
	})
}

func (s *APIKeyStore) setActive(id string, active bool) error {
	key, err := s.get(id)
	if err != nil {
		return err
	}
	key.IsActive = active

	data, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("marshal api key: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(apiKeyIDKey(id), data)
	})
	if err != nil {
		return fmt.Errorf("store api key %s: %w", id, err)
	}
	return nil
}

// get returns the stored record including the key value. Internal
// callers redact before returning to the API surface.
func (s *APIKeyStore) get(id string) (*datatypes.APIKey, error) {
	var key datatypes.APIKey
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(apiKeyIDKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &key)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("get api key %s: %w", id, err)
	}
	return &key, nil
}
