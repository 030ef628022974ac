// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

/*
database_schema.go - Database Schema Management

Tables:
  - members: gym members. member_id is the external biometric identifier
    enrolled on the terminals. It is not unique; the resolver treats
    several matches as unresolved.
  - checkins: one row per physical attendance event.

check_in_bucket is floor(unix(check_in_time) / 60). The unique index on
(member_id, check_in_bucket) closes the gap between the dedup query and
the insert when two writers race: two scans in the same minute bucket are
always inside the dedup window, so the index never rejects a legitimate
row.

Timestamps are stored as UTC TIMESTAMP values.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range getTableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func getTableCreationQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS members (
			id TEXT PRIMARY KEY,
			member_id TEXT,
			name TEXT,
			last_seen TIMESTAMP,
			total_visits INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS checkins (
			id TEXT PRIMARY KEY,
			member_id TEXT NOT NULL,
			check_in_time TIMESTAMP NOT NULL,
			check_in_bucket BIGINT NOT NULL,
			entry_method TEXT NOT NULL,
			scanner_id TEXT,
			device_name TEXT,
			notes TEXT,
			created_at TIMESTAMP NOT NULL
		);`,
	}
}

// createIndexes creates indexes for the dedup and resolver queries
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_checkins_member_time ON checkins(member_id, check_in_time);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_checkins_member_bucket ON checkins(member_id, check_in_bucket);`,
	}
	for _, query := range indexes {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// checkInBucket returns the minute bucket used by the unique index.
func checkInBucket(t time.Time) int64 {
	sec := t.Unix()
	if sec < 0 && sec%60 != 0 {
		return sec/60 - 1
	}
	return sec / 60
}
