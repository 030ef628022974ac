// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

// Package checkpoint persists per-device poll watermarks in BadgerDB.
//
// A watermark is the newest event time a device poll fully processed. It
// narrows the next Hikvision event search and lets the connection
// supervisor skip records that were already written before a restart.
// It is an optimization only; the dedup guard is still the authority.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/gymbridge/internal/config"
)

const watermarkKeyPrefix = "watermark:"

// ErrNotFound is returned when a device has no stored watermark.
var ErrNotFound = errors.New("checkpoint not found")

// Watermark is the stored progress marker for one device.
type Watermark struct {
	DeviceID     string    `json:"device_id"`
	EventTime    time.Time `json:"event_time"`
	LastEventKey string    `json:"last_event_key,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store is a BadgerDB-backed watermark store.
type Store struct {
	db *badger.DB
}

// Open opens the store described by cfg. InMemory keeps nothing on disk.
func Open(cfg config.CheckpointConfig) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("checkpoint path is required")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = nil // Suppress BadgerDB logs

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for checkpoints: %w", err)
	}
	return &Store{db: db}, nil
}

// NewFromDB wraps an already open BadgerDB.
func NewFromDB(db *badger.DB) *Store {
	return &Store{db: db}
}

// Get returns the watermark for deviceID, or ErrNotFound.
func (s *Store) Get(_ context.Context, deviceID string) (*Watermark, error) {
	var wm Watermark
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(watermarkKeyPrefix + deviceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get watermark: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &wm)
		})
	})
	if err != nil {
		return nil, err
	}
	return &wm, nil
}

// Set stores wm. An older EventTime than the stored one is ignored so a
// slow writer cannot move a device backwards.
func (s *Store) Set(_ context.Context, wm *Watermark) error {
	if wm.DeviceID == "" {
		return fmt.Errorf("watermark device id is required")
	}
	if wm.UpdatedAt.IsZero() {
		wm.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(wm)
	if err != nil {
		return fmt.Errorf("marshal watermark: %w", err)
	}

	key := []byte(watermarkKeyPrefix + wm.DeviceID)
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return fmt.Errorf("get watermark: %w", err)
		default:
			var cur Watermark
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &cur) }); err != nil {
				return fmt.Errorf("decode watermark: %w", err)
			}
			if wm.EventTime.Before(cur.EventTime) {
				return nil
			}
		}
		return txn.Set(key, data)
	})
}

// Delete removes the watermark for deviceID.
func (s *Store) Delete(_ context.Context, deviceID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(watermarkKeyPrefix + deviceID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete watermark: %w", err)
		}
		return nil
	})
}

// List returns every stored watermark.
func (s *Store) List(_ context.Context) ([]Watermark, error) {
	var out []Watermark
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(watermarkKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var wm Watermark
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &wm)
			}); err != nil {
				return err
			}
			out = append(out, wm)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list watermarks: %w", err)
	}
	return out, nil
}

// Close closes the underlying BadgerDB.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
