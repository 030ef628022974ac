// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/gymbridge/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.CheckpointConfig{Enabled: true, InMemory: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_SetGet(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	ts := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	if err := s.Set(ctx, &Watermark{DeviceID: "front", EventTime: ts, LastEventKey: "7|2024-01-01T09:00:00Z"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	wm, err := s.Get(ctx, "front")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !wm.EventTime.Equal(ts) || wm.LastEventKey != "7|2024-01-01T09:00:00Z" || wm.UpdatedAt.IsZero() {
		t.Errorf("watermark = %+v", wm)
	}
}

func TestStore_SetNeverMovesBackwards(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	newer := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)
	if err := s.Set(ctx, &Watermark{DeviceID: "d", EventTime: newer}); err != nil {
		t.Fatalf("Set newer: %v", err)
	}
	if err := s.Set(ctx, &Watermark{DeviceID: "d", EventTime: older}); err != nil {
		t.Fatalf("Set older: %v", err)
	}

	wm, _ := s.Get(ctx, "d")
	if !wm.EventTime.Equal(newer) {
		t.Errorf("event time = %v, want %v", wm.EventTime, newer)
	}
}

func TestStore_ListAndDelete(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := s.Set(ctx, &Watermark{DeviceID: id, EventTime: time.Now()}); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	all, err := s.List(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("List = %v, %v", all, err)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Errorf("second Delete should be a no-op: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_Validation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if err := s.Set(context.Background(), &Watermark{}); err == nil {
		t.Error("expected error for missing device id")
	}
	if _, err := Open(config.CheckpointConfig{Enabled: true}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := config.CheckpointConfig{Enabled: true, Path: dir}
	ctx := context.Background()
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set(ctx, &Watermark{DeviceID: "d", EventTime: ts}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()
	wm, err := s2.Get(ctx, "d")
	if err != nil || !wm.EventTime.Equal(ts) {
		t.Errorf("after reopen: %+v %v", wm, err)
	}
}
