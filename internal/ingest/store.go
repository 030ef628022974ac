// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

// Package ingest turns raw terminal records into check-in rows.
//
// Every record, whether polled from a device or pushed to the webhook,
// goes through the same sequence: Normalize, Resolve, Dedup Guard, Write.
// The dedup guard is the only thing that stops a polled event and its
// pushed twin from both being written.
package ingest

import (
	"context"
	"time"

	"github.com/tomtom215/gymbridge/internal/models"
)

// MemberFinder looks members up by their external biometric id.
type MemberFinder interface {
	FindMembersByExternalID(ctx context.Context, externalID string) ([]models.Member, error)
}

// CheckInFinder queries check-ins in an inclusive time window.
type CheckInFinder interface {
	FindCheckInsInWindow(ctx context.Context, memberID string, from, to time.Time) ([]models.CheckIn, error)
}

// Store is the data access the pipeline needs. database.DB implements it.
type Store interface {
	MemberFinder
	CheckInFinder
	InsertCheckIn(ctx context.Context, c *models.CheckIn) (*models.CheckIn, error)
	UpdateMemberLastSeen(ctx context.Context, memberID string, seen time.Time, visitIncrement int) error
}

// Publisher receives a notification after each written check-in.
type Publisher interface {
	PublishCheckIn(ctx context.Context, ev *models.CheckInRecorded) error
}
