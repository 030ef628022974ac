// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package wal

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/gymbridge/internal/logging"
)

// Compactor deletes confirmed and expired entries and runs value log GC.
type Compactor struct {
	wal    *BadgerWAL
	config Config

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	lastRun     time.Time
	lastDeleted int64
}

// CompactorStats describes the last compaction run.
type CompactorStats struct {
	LastRun     time.Time
	LastDeleted int64
}

// NewCompactor creates a compactor over w.
func NewCompactor(w *BadgerWAL) *Compactor {
	return &Compactor{wal: w, config: w.Config()}
}

// Start launches the compaction loop.
func (c *Compactor) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.wg.Add(1)
	go c.run(loopCtx)

	logging.Info().Dur("interval", c.config.CompactInterval).Msg("WAL compactor started")
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (c *Compactor) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
	logging.Info().Msg("WAL compactor stopped")
}

// IsRunning reports whether the loop is active.
func (c *Compactor) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Compactor) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CompactInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunNow()
		}
	}
}

// RunNow compacts immediately and returns the number of deleted entries.
func (c *Compactor) RunNow() int64 {
	start := time.Now()

	confirmed, err := c.deleteByPrefix(prefixConfirmed, nil)
	if err != nil {
		logging.Error().Err(err).Msg("WAL compaction failed to delete confirmed entries")
	}

	cutoff := time.Now().Add(-c.config.EntryTTL)
	expired, err := c.deleteByPrefix(prefixPending, func(e *Entry) bool { return e.CreatedAt.Before(cutoff) })
	if err != nil {
		logging.Error().Err(err).Msg("WAL compaction failed to delete expired entries")
	}
	if expired > 0 {
		walDropped.WithLabelValues("expired").Add(float64(expired))
	}

	if err := c.wal.RunGC(); err != nil {
		logging.Error().Err(err).Msg("WAL compaction GC error")
	}

	total := confirmed + expired
	c.mu.Lock()
	c.lastRun = time.Now()
	c.lastDeleted = total
	c.mu.Unlock()

	walCompactions.Inc()
	if total > 0 {
		walEntriesCompacted.Add(float64(total))
		logging.Info().
			Int64("confirmed", confirmed).
			Int64("expired", expired).
			Dur("duration", time.Since(start)).
			Msg("WAL compaction removed entries")
	}
	c.wal.Stats()
	return total
}

// deleteByPrefix deletes entries under prefix. A nil match deletes all of
// them without decoding values.
func (c *Compactor) deleteByPrefix(prefix string, match func(*Entry) bool) (int64, error) {
	if c.wal.isClosed() {
		return 0, ErrWALClosed
	}

	var count int64
	err := c.wal.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = match != nil
		it := txn.NewIterator(opts)

		var keys [][]byte
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			if match != nil {
				var entry Entry
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &entry)
				}); err != nil || !match(&entry) {
					continue
				}
			}
			keys = append(keys, item.KeyCopy(nil))
		}
		it.Close()

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// Stats returns the last run summary.
func (c *Compactor) Stats() CompactorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CompactorStats{LastRun: c.lastRun, LastDeleted: c.lastDeleted}
}
