// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/gymbridge/internal/models"
)

const memberColumns = `id, member_id, name, last_seen, total_visits`

// FindMembersByExternalID returns every member whose member_id equals id.
// The caller decides what zero or several matches mean.
func (db *DB) FindMembersByExternalID(ctx context.Context, id string) (members []models.Member, err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	defer func(start time.Time) { observe("select", "members", start, err) }(time.Now())

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE member_id = ? ORDER BY id`,
		strings.TrimSpace(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer closeWithLog(rows, "rows")

	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}
	return members, nil
}

// GetMember returns a member by internal id.
func (db *DB) GetMember(ctx context.Context, id string) (m *models.Member, err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	defer func(start time.Time) { observe("select", "members", start, err) }(time.Now())

	row := db.conn.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = ?`, id)
	m, err = scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	return m, err
}

// UpsertMember inserts or replaces the identity fields of a member.
// last_seen and total_visits are left alone on update.
func (db *DB) UpsertMember(ctx context.Context, m *models.Member) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	defer func(start time.Time) { observe("upsert", "members", start, err) }(time.Now())

	var lastSeen interface{}
	if m.LastSeen != nil {
		lastSeen = m.LastSeen.UTC()
	}
	var visits interface{}
	if m.TotalVisits != nil {
		visits = *m.TotalVisits
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO members (id, member_id, name, last_seen, total_visits)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			member_id = excluded.member_id,
			name = excluded.name`,
		m.ID, strings.TrimSpace(m.MemberID), m.Name, lastSeen, visits)
	if err != nil {
		return fmt.Errorf("failed to upsert member: %w", err)
	}
	return nil
}

// UpdateMemberLastSeen sets last_seen to t and adds visitIncrement to
// total_visits, treating a NULL count as 0.
func (db *DB) UpdateMemberLastSeen(ctx context.Context, memberID string, t time.Time, visitIncrement int) (err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	defer func(start time.Time) { observe("update", "members", start, err) }(time.Now())

	var affected int64
	err = withConflictRetry(ctx, func() error {
		res, execErr := db.conn.ExecContext(ctx,
			`UPDATE members SET last_seen = ?, total_visits = COALESCE(total_visits, 0) + ? WHERE id = ?`,
			t.UTC(), visitIncrement, memberID)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to update member %s: %w", memberID, err)
	}
	if affected == 0 {
		return fmt.Errorf("update member %s: %w", memberID, ErrMemberNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMember(row rowScanner) (*models.Member, error) {
	var (
		m        models.Member
		extID    sql.NullString
		name     sql.NullString
		lastSeen sql.NullTime
		visits   sql.NullInt64
	)
	if err := row.Scan(&m.ID, &extID, &name, &lastSeen, &visits); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan member: %w", err)
	}
	m.MemberID = extID.String
	m.Name = name.String
	if lastSeen.Valid {
		t := lastSeen.Time.UTC()
		m.LastSeen = &t
	}
	if visits.Valid {
		v := int(visits.Int64)
		m.TotalVisits = &v
	}
	return &m, nil
}
