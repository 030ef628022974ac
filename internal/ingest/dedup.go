// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package ingest

import (
	"context"
	"fmt"
	"time"
)

// DefaultDedupWindow is the half-width of the duplicate window.
const DefaultDedupWindow = 60 * time.Second

// DedupGuard decides whether a check-in already exists near a timestamp.
type DedupGuard struct {
	checkIns CheckInFinder
	window   time.Duration
}

// NewDedupGuard creates a guard. A non-positive window uses the default.
func NewDedupGuard(checkIns CheckInFinder, window time.Duration) *DedupGuard {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &DedupGuard{checkIns: checkIns, window: window}
}

// Window returns the configured half-width.
func (g *DedupGuard) Window() time.Duration { return g.window }

// IsDuplicate reports whether memberID has a check-in within
// [t-window, t+window]. Both bounds are inclusive.
func (g *DedupGuard) IsDuplicate(ctx context.Context, memberID string, t time.Time) (bool, error) {
	rows, err := g.checkIns.FindCheckInsInWindow(ctx, memberID, t.Add(-g.window), t.Add(g.window))
	if err != nil {
		return false, fmt.Errorf("dedup query for member %s: %w", memberID, err)
	}
	return len(rows) > 0, nil
}
