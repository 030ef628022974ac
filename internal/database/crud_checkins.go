// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/gymbridge/internal/models"
)

const checkInColumns = `id, member_id, check_in_time, entry_method, scanner_id, device_name, notes, created_at`

// InsertCheckIn writes a check-in row. A collision on the per-minute
// unique index returns ErrDuplicateCheckIn.
func (db *DB) InsertCheckIn(ctx context.Context, c *models.CheckIn) (*models.CheckIn, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.EntryMethod == "" {
		c.EntryMethod = models.EntryMethodBiometric
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.CheckInTime = c.CheckInTime.UTC()

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	err := withConflictRetry(ctx, func() error {
		_, execErr := db.conn.ExecContext(ctx, `
			INSERT INTO checkins (id, member_id, check_in_time, check_in_bucket, entry_method, scanner_id, device_name, notes, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.MemberID, c.CheckInTime, checkInBucket(c.CheckInTime),
			c.EntryMethod, c.ScannerID, c.DeviceName, c.Notes, c.CreatedAt.UTC())
		return execErr
	})
	if isUniqueConstraintError(err) {
		observe("insert", "checkins", start, nil)
		return nil, ErrDuplicateCheckIn
	}
	observe("insert", "checkins", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to insert check-in: %w", err)
	}
	return c, nil
}

// FindCheckInsInWindow returns check-ins for memberID with check_in_time in
// [from, to], both ends inclusive.
func (db *DB) FindCheckInsInWindow(ctx context.Context, memberID string, from, to time.Time) (out []models.CheckIn, err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	defer func(start time.Time) { observe("select", "checkins", start, err) }(time.Now())

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+checkInColumns+` FROM checkins
		WHERE member_id = ? AND check_in_time BETWEEN ? AND ?
		ORDER BY check_in_time`,
		memberID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query check-ins: %w", err)
	}
	defer closeWithLog(rows, "rows")
	return scanCheckIns(rows)
}

// ListCheckInsForMember returns the newest check-ins for a member.
func (db *DB) ListCheckInsForMember(ctx context.Context, memberID string, limit int) (out []models.CheckIn, err error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	defer func(start time.Time) { observe("select", "checkins", start, err) }(time.Now())

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+checkInColumns+` FROM checkins WHERE member_id = ? ORDER BY check_in_time DESC LIMIT ?`,
		memberID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query check-ins: %w", err)
	}
	defer closeWithLog(rows, "rows")
	return scanCheckIns(rows)
}

// CountCheckIns counts rows for memberID, or all rows when memberID is empty.
func (db *DB) CountCheckIns(ctx context.Context, memberID string) (n int64, err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	defer func(start time.Time) { observe("count", "checkins", start, err) }(time.Now())

	if memberID == "" {
		err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM checkins`).Scan(&n)
	} else {
		err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM checkins WHERE member_id = ?`, memberID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count check-ins: %w", err)
	}
	return n, nil
}

func scanCheckIns(rows *sql.Rows) ([]models.CheckIn, error) {
	var out []models.CheckIn
	for rows.Next() {
		var (
			c                         models.CheckIn
			scanner, device, notes    sql.NullString
			checkInTime, createdAtRaw time.Time
		)
		if err := rows.Scan(&c.ID, &c.MemberID, &checkInTime, &c.EntryMethod, &scanner, &device, &notes, &createdAtRaw); err != nil {
			return nil, fmt.Errorf("failed to scan check-in: %w", err)
		}
		c.CheckInTime = checkInTime.UTC()
		c.CreatedAt = createdAtRaw.UTC()
		c.ScannerID = scanner.String
		c.DeviceName = device.String
		c.Notes = notes.String
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate check-ins: %w", err)
	}
	return out, nil
}
