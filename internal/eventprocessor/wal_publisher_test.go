// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package eventprocessor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/gymbridge/internal/models"
	"github.com/tomtom215/gymbridge/internal/wal"
)

// flakyCheckInPublisher fails while down is set and records delivered IDs.
type flakyCheckInPublisher struct {
	mu        sync.Mutex
	down      bool
	delivered []string
}

func (f *flakyCheckInPublisher) PublishCheckIn(_ context.Context, ev *models.CheckInRecorded) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errors.New("nats: connection closed")
	}
	f.delivered = append(f.delivered, ev.CheckInID)
	return nil
}

func (f *flakyCheckInPublisher) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *flakyCheckInPublisher) Delivered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.delivered...)
}

func openOutbox(t *testing.T) *wal.BadgerWAL {
	t.Helper()
	cfg := wal.DefaultConfig()
	cfg.InMemory = true
	cfg.RetryInterval = 10 * time.Millisecond
	cfg.RetryBackoff = time.Millisecond
	w, err := wal.Open(cfg)
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestWALEnabledPublisher_ConfirmsOnSuccess(t *testing.T) {
	t.Parallel()
	inner := &flakyCheckInPublisher{}
	w := openOutbox(t)
	pub, err := NewWALEnabledPublisher(inner, w)
	if err != nil {
		t.Fatal(err)
	}

	if err := pub.PublishCheckIn(context.Background(), testEvent("c-1")); err != nil {
		t.Fatalf("PublishCheckIn: %v", err)
	}
	if got := inner.Delivered(); len(got) != 1 || got[0] != "c-1" {
		t.Errorf("delivered = %v", got)
	}
	stats := w.Stats()
	if stats.PendingCount != 0 || stats.ConfirmedCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if err := pub.PublishCheckIn(context.Background(), nil); err != nil {
		t.Errorf("nil event: %v", err)
	}
}

func TestWALEnabledPublisher_RetriesAfterOutage(t *testing.T) {
	t.Parallel()
	inner := &flakyCheckInPublisher{down: true}
	w := openOutbox(t)
	pub, err := NewWALEnabledPublisher(inner, w)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	// The caller never sees the outage.
	for _, id := range []string{"c-1", "c-2"} {
		if err := pub.PublishCheckIn(ctx, testEvent(id)); err != nil {
			t.Fatalf("PublishCheckIn(%s): %v", id, err)
		}
	}
	if got := w.Stats().PendingCount; got != 2 {
		t.Fatalf("pending = %d, want 2", got)
	}

	inner.setDown(false)
	loop := wal.NewRetryLoop(w, pub.RetryPublisher())
	if err := loop.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer loop.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(inner.Delivered()) < 2 {
		time.Sleep(10 * time.Millisecond)
	}
	got := inner.Delivered()
	if len(got) != 2 || got[0] != "c-1" || got[1] != "c-2" {
		t.Fatalf("delivered = %v, want [c-1 c-2]", got)
	}
	if p := w.Stats().PendingCount; p != 0 {
		t.Errorf("pending after retry = %d", p)
	}
}

func TestNewWALEnabledPublisher_RequiresParts(t *testing.T) {
	t.Parallel()
	if _, err := NewWALEnabledPublisher(nil, openOutbox(t)); err == nil {
		t.Error("expected error for nil inner")
	}
	if _, err := NewWALEnabledPublisher(&flakyCheckInPublisher{}, nil); err == nil {
		t.Error("expected error for nil WAL")
	}
}
