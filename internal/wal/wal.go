// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package wal

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/gymbridge/internal/logging"
)

// Entry is one outbox record.
type Entry struct {
	ID string `json:"id"`

	// Payload is the JSON-encoded event.
	Payload json.RawMessage `json:"payload"`

	CreatedAt     time.Time  `json:"created_at"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt time.Time  `json:"last_attempt_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	Confirmed     bool       `json:"confirmed"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
}

// UnmarshalPayload decodes the payload into v.
func (e *Entry) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Stats is a point-in-time view of the outbox.
type Stats struct {
	PendingCount   int64
	ConfirmedCount int64
	TotalWrites    int64
	TotalConfirms  int64
	TotalRetries   int64
	DBSizeBytes    int64
}

const (
	prefixPending   = "pending:"
	prefixConfirmed = "confirmed:"
)

var (
	// ErrWALClosed is returned by operations on a closed WAL.
	ErrWALClosed = errors.New("WAL is closed")

	// ErrNilEvent is returned when Write is given nil.
	ErrNilEvent = errors.New("event cannot be nil")

	// ErrEmptyEntryID is returned when an entry ID is required but empty.
	ErrEmptyEntryID = errors.New("entry ID cannot be empty")

	// ErrEntryNotFound is returned when no pending entry has the given ID.
	ErrEntryNotFound = errors.New("entry not found")
)

// BadgerWAL is a BadgerDB-backed outbox. Entries move from the pending to
// the confirmed prefix on Confirm; the Compactor deletes confirmed entries.
type BadgerWAL struct {
	db     *badger.DB
	config Config

	totalWrites   atomic.Int64
	totalConfirms atomic.Int64
	totalRetries  atomic.Int64

	mu     sync.RWMutex
	closed bool

	// entry ID -> claim time; keeps the inline publish and the retry loop
	// off the same entry.
	processing sync.Map
}

// Open opens or creates the outbox described by cfg.
func Open(cfg Config) (*BadgerWAL, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid WAL config: %w", err)
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
		opts.SyncWrites = cfg.SyncWrites
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("WAL opened")

	return &BadgerWAL{db: db, config: cfg}, nil
}

func (w *BadgerWAL) isClosed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.closed
}

// Write persists event as a new pending entry and returns its ID.
func (w *BadgerWAL) Write(_ context.Context, event interface{}) (string, error) {
	start := time.Now()
	defer func() { walWriteLatency.Observe(time.Since(start).Seconds()) }()

	if w.isClosed() {
		return "", ErrWALClosed
	}
	if event == nil {
		return "", ErrNilEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	entry := &Entry{
		ID:        uuid.New().String(),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}

	err = w.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(prefixPending+entry.ID), data)
		if w.config.EntryTTL > 0 {
			e = e.WithTTL(w.config.EntryTTL)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return "", fmt.Errorf("write to BadgerDB: %w", err)
	}

	w.totalWrites.Add(1)
	walWrites.Inc()
	return entry.ID, nil
}

// Confirm moves a pending entry to the confirmed prefix.
func (w *BadgerWAL) Confirm(_ context.Context, entryID string) error {
	if w.isClosed() {
		return ErrWALClosed
	}
	if entryID == "" {
		return ErrEmptyEntryID
	}

	pendingKey := []byte(prefixPending + entryID)
	err := w.db.Update(func(txn *badger.Txn) error {
		entry, err := getEntry(txn, pendingKey)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		entry.Confirmed = true
		entry.ConfirmedAt = &now

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal confirmed entry: %w", err)
		}
		if err := txn.Set([]byte(prefixConfirmed+entryID), data); err != nil {
			return fmt.Errorf("set confirmed entry: %w", err)
		}
		return txn.Delete(pendingKey)
	})
	if err != nil {
		return err
	}

	w.totalConfirms.Add(1)
	walConfirms.Inc()
	return nil
}

// GetPending returns unconfirmed entries, oldest first, from one snapshot.
func (w *BadgerWAL) GetPending(ctx context.Context) ([]*Entry, error) {
	if w.isClosed() {
		return nil, ErrWALClosed
	}

	var entries []*Entry
	err := w.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var entry Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("WAL failed to unmarshal entry")
				continue
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate pending entries: %w", err)
	}

	slices.SortFunc(entries, func(a, b *Entry) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return entries, nil
}

// UpdateAttempt records a failed publish on a pending entry.
func (w *BadgerWAL) UpdateAttempt(_ context.Context, entryID, lastError string) error {
	if w.isClosed() {
		return ErrWALClosed
	}

	key := []byte(prefixPending + entryID)
	err := w.db.Update(func(txn *badger.Txn) error {
		entry, err := getEntry(txn, key)
		if err != nil {
			return err
		}
		entry.Attempts++
		entry.LastAttemptAt = time.Now().UTC()
		entry.LastError = lastError

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		e := badger.NewEntry(key, data)
		if w.config.EntryTTL > 0 {
			if remaining := w.config.EntryTTL - time.Since(entry.CreatedAt); remaining > 0 {
				e = e.WithTTL(remaining)
			}
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return err
	}

	w.totalRetries.Add(1)
	walRetries.Inc()
	return nil
}

// DeleteEntry removes an entry in either state.
func (w *BadgerWAL) DeleteEntry(_ context.Context, entryID string) error {
	if w.isClosed() {
		return ErrWALClosed
	}

	return w.db.Update(func(txn *badger.Txn) error {
		for _, key := range [][]byte{[]byte(prefixPending + entryID), []byte(prefixConfirmed + entryID)} {
			if _, err := txn.Get(key); err == nil {
				return txn.Delete(key)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("get entry: %w", err)
			}
		}
		return ErrEntryNotFound
	})
}

// TryClaimEntry reserves entryID for the caller. It returns false while
// another goroutine holds the claim. Callers must ReleaseEntry.
func (w *BadgerWAL) TryClaimEntry(entryID string) bool {
	_, already := w.processing.LoadOrStore(entryID, time.Now())
	return !already
}

// ReleaseEntry drops a claim taken with TryClaimEntry.
func (w *BadgerWAL) ReleaseEntry(entryID string) {
	w.processing.Delete(entryID)
}

// Stats counts entries and refreshes the outbox gauges.
func (w *BadgerWAL) Stats() Stats {
	if w.isClosed() {
		return Stats{}
	}

	var pending, confirmed int64
	if err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for p, n := range map[string]*int64{prefixPending: &pending, prefixConfirmed: &confirmed} {
			prefix := []byte(p)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				*n++
			}
		}
		return nil
	}); err != nil {
		logging.Warn().Err(err).Msg("WAL Stats failed to count entries")
	}

	lsm, vlog := w.db.Size()
	walPending.Set(float64(pending))
	walDBSize.Set(float64(lsm + vlog))

	return Stats{
		PendingCount:   pending,
		ConfirmedCount: confirmed,
		TotalWrites:    w.totalWrites.Load(),
		TotalConfirms:  w.totalConfirms.Load(),
		TotalRetries:   w.totalRetries.Load(),
		DBSizeBytes:    lsm + vlog,
	}
}

// Config returns the configuration the WAL was opened with.
func (w *BadgerWAL) Config() Config {
	return w.config
}

// RunGC reclaims value log space. It is a no-op for in-memory stores.
func (w *BadgerWAL) RunGC() error {
	if w.isClosed() {
		return ErrWALClosed
	}
	if w.config.InMemory {
		return nil
	}
	ratio := w.config.GCRatio
	if ratio <= 0 {
		ratio = 0.5
	}
	for {
		err := w.db.RunValueLogGC(ratio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Close closes the store, giving up after CloseTimeout.
func (w *BadgerWAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	timeout := w.config.CloseTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	w.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- w.db.Close() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("WAL closed")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("badgerdb close timeout after %v", timeout)
	}
}

func getEntry(txn *badger.Txn, key []byte) (*Entry, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	var entry Entry
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return &entry, nil
}
