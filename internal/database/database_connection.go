// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

/*
database_connection.go - Connection pool configuration and transient error
classification.

Write paths retry DuckDB transaction conflicts a few times; anything else
is returned to the caller, which reports the event as failed.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"runtime"
	"strings"
	"time"
)

// configureConnectionPool sets connection pool parameters
func (db *DB) configureConnectionPool() error {
	db.conn.SetMaxOpenConns(runtime.NumCPU())
	db.conn.SetMaxIdleConns(2)
	db.conn.SetConnMaxLifetime(time.Hour)
	db.conn.SetConnMaxIdleTime(5 * time.Minute)
	return nil
}

// isTransactionConflict checks if an error is a DuckDB transaction conflict
func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Transaction conflict") ||
		strings.Contains(errStr, "Conflict on update") ||
		strings.Contains(errStr, "cannot update a table that has been altered")
}

// withConflictRetry runs fn up to three times while it fails with a
// transaction conflict.
func withConflictRetry(ctx context.Context, fn func() error) error {
	const maxRetries = 3
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt*50) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = fn()
		if !isTransactionConflict(err) {
			return err
		}
	}
	return err
}
