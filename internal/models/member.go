// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package models

import "time"

// EntryMethodBiometric is the entry_method written for terminal scans.
const EntryMethodBiometric = "biometric"

// Member is the subset of a gym member record the bridge reads and updates.
type Member struct {
	ID          string     `json:"id"`
	MemberID    string     `json:"member_id"` // external biometric identifier
	Name        string     `json:"name"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	TotalVisits *int       `json:"total_visits,omitempty"`
}

// Visits returns TotalVisits, treating a missing count as 0.
func (m *Member) Visits() int {
	if m.TotalVisits == nil {
		return 0
	}
	return *m.TotalVisits
}

// CheckIn is one recorded attendance. Rows are only ever inserted.
type CheckIn struct {
	ID          string    `json:"id"`
	MemberID    string    `json:"member_id"`
	CheckInTime time.Time `json:"check_in_time"`
	EntryMethod string    `json:"entry_method"`
	ScannerID   string    `json:"scanner_id"`
	DeviceName  string    `json:"device_name"`
	Notes       string    `json:"notes"`
	CreatedAt   time.Time `json:"created_at"`
}

// CheckInRecorded is published after a check-in row is written.
type CheckInRecorded struct {
	CheckInID      string    `json:"check_in_id"`
	MemberID       string    `json:"member_id"`
	MemberName     string    `json:"member_name"`
	DeviceUserID   string    `json:"device_user_id"`
	CheckInTime    time.Time `json:"check_in_time"`
	DeviceName     string    `json:"device_name"`
	SourceDeviceID string    `json:"source_device_id"`
	Vendor         Vendor    `json:"vendor"`
	TotalVisits    int       `json:"total_visits"`
}
