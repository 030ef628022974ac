// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package models

import "time"

// DeviceInfo is best-effort terminal metadata. Any field may be empty.
type DeviceInfo struct {
	Vendor   Vendor `json:"vendor"`
	Name     string `json:"name,omitempty"`
	Model    string `json:"model,omitempty"`
	Firmware string `json:"firmware,omitempty"`
	Serial   string `json:"serial,omitempty"`
	MAC      string `json:"mac,omitempty"`
}

// DeviceUser is an identity enrolled on a terminal.
type DeviceUser struct {
	UID       int    `json:"uid,omitempty"` // terminal slot number (zkteco)
	UserID    string `json:"user_id"`       // matches members.member_id
	Name      string `json:"name"`
	Privilege int    `json:"privilege"`
	CardNo    string `json:"card_no,omitempty"`
	GroupID   string `json:"group_id,omitempty"`
}

// DeviceStatus is a point-in-time view of a connection supervisor.
type DeviceStatus struct {
	DeviceID              string      `json:"device_id"`
	Vendor                Vendor      `json:"vendor"`
	State                 string      `json:"state"`
	ReconnectAttempts     int         `json:"reconnect_attempts"`
	MaxReconnectAttempts  int         `json:"max_reconnect_attempts"`
	LastProcessedEventKey string      `json:"last_processed_event_key,omitempty"`
	LastPollAt            *time.Time  `json:"last_poll_at,omitempty"`
	LastError             string      `json:"last_error,omitempty"`
	Info                  *DeviceInfo `json:"info,omitempty"`
}
