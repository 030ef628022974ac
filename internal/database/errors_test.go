// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package database

import (
	"errors"
	"fmt"
	"testing"
)

// mockCloser implements io.Closer for testing
type mockCloser struct {
	closed bool
	err    error
}

func (m *mockCloser) Close() error {
	m.closed = true
	return m.err
}

func TestCloseWithLog(t *testing.T) {
	t.Run("nil closer does not panic", func(t *testing.T) {
		closeWithLog(nil, "test")
	})

	t.Run("closer is closed even when it fails", func(t *testing.T) {
		closer := &mockCloser{err: errors.New("close failed")}
		closeWithLog(closer, "test resource")
		if !closer.closed {
			t.Error("Expected closer to be closed")
		}
	})
}

func TestCloseQuietly(t *testing.T) {
	closer := &mockCloser{err: errors.New("ignored")}
	closeQuietly(closer)
	if !closer.closed {
		t.Error("Expected closer to be closed")
	}
	closeQuietly(nil)
}

func TestIsUniqueConstraintError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Constraint Error: Duplicate key \"member_id: m1, check_in_bucket: 1\" violates unique constraint."), true},
		{fmt.Errorf("wrapped: %w", errors.New("PRIMARY KEY or UNIQUE constraint violated")), true},
		{errors.New("Catalog Error: Table with name checkins does not exist"), false},
	}
	for _, tt := range tests {
		if got := isUniqueConstraintError(tt.err); got != tt.want {
			t.Errorf("isUniqueConstraintError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
