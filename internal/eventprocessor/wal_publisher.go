// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package eventprocessor

import (
	"context"
	"errors"

	"github.com/tomtom215/gymbridge/internal/logging"
	"github.com/tomtom215/gymbridge/internal/models"
	"github.com/tomtom215/gymbridge/internal/wal"
)

// CheckInPublisher publishes one check-in event.
type CheckInPublisher interface {
	PublishCheckIn(ctx context.Context, ev *models.CheckInRecorded) error
}

// WALEnabledPublisher persists each event to the outbox before publishing.
// A failed publish leaves the entry for the retry loop and is not reported
// to the caller.
type WALEnabledPublisher struct {
	inner CheckInPublisher
	wal   *wal.BadgerWAL
}

// NewWALEnabledPublisher wraps inner with w.
func NewWALEnabledPublisher(inner CheckInPublisher, w *wal.BadgerWAL) (*WALEnabledPublisher, error) {
	if inner == nil {
		return nil, errors.New("inner publisher required")
	}
	if w == nil {
		return nil, errors.New("WAL required")
	}
	return &WALEnabledPublisher{inner: inner, wal: w}, nil
}

// PublishCheckIn implements ingest.Publisher.
func (p *WALEnabledPublisher) PublishCheckIn(ctx context.Context, ev *models.CheckInRecorded) error {
	if ev == nil {
		return nil
	}

	entryID, err := p.wal.Write(ctx, ev)
	if err != nil {
		logging.Error().Err(err).Str("check_in_id", ev.CheckInID).Msg("WAL write failed, publishing directly")
		wal.RecordWriteFailure()
		return p.inner.PublishCheckIn(ctx, ev)
	}

	// The retry loop may already see this entry.
	if !p.wal.TryClaimEntry(entryID) {
		return nil
	}
	defer p.wal.ReleaseEntry(entryID)

	if err := p.inner.PublishCheckIn(ctx, ev); err != nil {
		logging.Warn().
			Err(err).
			Str("check_in_id", ev.CheckInID).
			Str("wal_entry_id", entryID).
			Msg("Publish failed, entry will be retried")
		if uerr := p.wal.UpdateAttempt(ctx, entryID, err.Error()); uerr != nil {
			logging.Warn().Err(uerr).Str("wal_entry_id", entryID).Msg("WAL attempt update failed")
		}
		wal.RecordPublishFailure()
		return nil
	}

	if err := p.wal.Confirm(ctx, entryID); err != nil {
		logging.Warn().Err(err).Str("wal_entry_id", entryID).Msg("WAL confirm failed")
	}
	return nil
}

// WAL returns the underlying outbox.
func (p *WALEnabledPublisher) WAL() *wal.BadgerWAL {
	return p.wal
}

// RetryPublisher returns the wal.Publisher used by the retry loop.
func (p *WALEnabledPublisher) RetryPublisher() wal.Publisher {
	return wal.PublisherFunc(func(ctx context.Context, entry *wal.Entry) error {
		var ev models.CheckInRecorded
		if err := entry.UnmarshalPayload(&ev); err != nil {
			return err
		}
		return p.inner.PublishCheckIn(ctx, &ev)
	})
}
