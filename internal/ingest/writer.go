// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tomtom215/gymbridge/internal/database"
	"github.com/tomtom215/gymbridge/internal/logging"
	"github.com/tomtom215/gymbridge/internal/models"
)

// WriteResult describes what Write did.
type WriteResult struct {
	CheckIn     *models.CheckIn
	Duplicate   bool
	TotalVisits int
}

// Writer records check-ins. Writes for the same member are serialized in
// process; the database unique index covers other processes.
type Writer struct {
	store     Store
	guard     *DedupGuard
	publisher Publisher

	memberLocks sync.Map // member id -> *sync.Mutex
}

// NewWriter creates a writer. publisher may be nil.
func NewWriter(store Store, guard *DedupGuard, publisher Publisher) *Writer {
	return &Writer{store: store, guard: guard, publisher: publisher}
}

// Write re-checks the dedup window, inserts the check-in and then bumps
// the member's last_seen and total_visits. A failed member update is
// logged and does not undo the insert.
func (w *Writer) Write(ctx context.Context, member *models.Member, ev *models.AttendanceEvent) (*WriteResult, error) {
	mu := w.acquireMemberLock(member.ID)
	defer w.releaseMemberLock(mu)

	dup, err := w.guard.IsDuplicate(ctx, member.ID, ev.Timestamp)
	if err != nil {
		return nil, err
	}
	if dup {
		return &WriteResult{Duplicate: true}, nil
	}

	row, err := w.store.InsertCheckIn(ctx, &models.CheckIn{
		MemberID:    member.ID,
		CheckInTime: ev.Timestamp,
		EntryMethod: models.EntryMethodBiometric,
		ScannerID:   ev.DeviceUserID,
		DeviceName:  ev.Label,
		Notes:       provenance(ev),
	})
	if errors.Is(err, database.ErrDuplicateCheckIn) {
		return &WriteResult{Duplicate: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert check-in for member %s: %w", member.ID, err)
	}

	visits := member.Visits() + 1
	if err := w.store.UpdateMemberLastSeen(ctx, member.ID, ev.Timestamp, 1); err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("member_id", member.ID).
			Str("check_in_id", row.ID).
			Msg("Check-in recorded but member counters not updated")
		visits = member.Visits()
	}

	if w.publisher != nil {
		recorded := &models.CheckInRecorded{
			CheckInID:      row.ID,
			MemberID:       member.ID,
			MemberName:     member.Name,
			DeviceUserID:   ev.DeviceUserID,
			CheckInTime:    row.CheckInTime,
			DeviceName:     ev.Label,
			SourceDeviceID: ev.SourceDeviceID,
			Vendor:         ev.Vendor,
			TotalVisits:    visits,
		}
		if err := w.publisher.PublishCheckIn(ctx, recorded); err != nil {
			logging.Ctx(ctx).Warn().Err(err).
				Str("check_in_id", row.ID).
				Msg("Failed to publish check-in event")
		}
	}

	return &WriteResult{CheckIn: row, TotalVisits: visits}, nil
}

// acquireMemberLock acquires a per-member mutex lock
func (w *Writer) acquireMemberLock(memberID string) *sync.Mutex {
	muInterface, _ := w.memberLocks.LoadOrStore(memberID, &sync.Mutex{})
	mu, ok := muInterface.(*sync.Mutex)
	if !ok {
		mu = &sync.Mutex{}
		w.memberLocks.Store(memberID, mu)
	}
	mu.Lock()
	return mu
}

// releaseMemberLock releases the per-member mutex lock
func (w *Writer) releaseMemberLock(mu *sync.Mutex) {
	mu.Unlock()
}

// provenance is the free-text notes marker, e.g. "zkteco front-door".
func provenance(ev *models.AttendanceEvent) string {
	parts := []string{string(ev.Vendor)}
	if ev.SourceDeviceID != "" {
		parts = append(parts, ev.SourceDeviceID)
	}
	return strings.Join(parts, " ")
}
