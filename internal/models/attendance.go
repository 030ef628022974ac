// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package models

import (
	"bytes"
	"strconv"
	"strings"
	"time"
)

// Vendor identifies a terminal protocol family.
type Vendor string

const (
	VendorZKTeco    Vendor = "zkteco"
	VendorHikvision Vendor = "hikvision"
)

// AttendanceEvent is the canonical, vendor-neutral form of one scan.
type AttendanceEvent struct {
	DeviceUserID   string    `json:"device_user_id" validate:"required"`
	Timestamp      time.Time `json:"timestamp" validate:"required"`
	Label          string    `json:"label"`
	SourceDeviceID string    `json:"source_device_id"`
	Vendor         Vendor    `json:"vendor"`
}

// Key returns the coarse "user|time" marker used for the in-process
// duplicate short-circuit.
func (e *AttendanceEvent) Key() string {
	return e.DeviceUserID + "|" + e.Timestamp.UTC().Format(time.RFC3339)
}

// RawRecord is a vendor record before normalization.
type RawRecord interface {
	RecordVendor() Vendor
}

// ZKAttendance is one decoded attendance log entry from a ZKTeco terminal.
// Timestamp is device local time with no zone information; the adapter
// attaches the configured device location.
type ZKAttendance struct {
	UserSN    uint16    `json:"user_sn"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
	Status    uint8     `json:"status"`
	Punch     uint8     `json:"punch"`
	Source    string    `json:"source"`
}

// RecordVendor implements RawRecord.
func (*ZKAttendance) RecordVendor() Vendor { return VendorZKTeco }

// HikvisionEvent is an access-control event as returned by the ISAPI
// AcsEvent search or pushed to the webhook. Field names follow the device
// payload so the same struct decodes JSON and XML bodies.
type HikvisionEvent struct {
	EmployeeNoString string     `json:"employeeNoString" xml:"employeeNoString"`
	EmployeeNo       FlexString `json:"employeeNo" xml:"employeeNo"`
	Name             string     `json:"name" xml:"name"`
	Time             string     `json:"time" xml:"time"`
	Major            FlexString `json:"major" xml:"major"`
	Minor            FlexString `json:"minor" xml:"minor"`
	EventType        string     `json:"eventType" xml:"eventType"`
	DoorName         string     `json:"doorName" xml:"doorName"`
	DoorNo           FlexString `json:"doorNo" xml:"doorNo"`
	CardNo           string     `json:"cardNo" xml:"cardNo"`
	SerialNo         FlexString `json:"serialNo" xml:"serialNo"`
	VerifyMode       string     `json:"currentVerifyMode" xml:"currentVerifyMode"`
	Source           string     `json:"-" xml:"-"`
}

// RecordVendor implements RawRecord.
func (*HikvisionEvent) RecordVendor() Vendor { return VendorHikvision }

// UserID returns employeeNoString, falling back to a non-zero employeeNo.
func (e *HikvisionEvent) UserID() string {
	if id := strings.TrimSpace(e.EmployeeNoString); id != "" {
		return id
	}
	id := strings.TrimSpace(string(e.EmployeeNo))
	if id == "0" {
		return ""
	}
	return id
}

// FlexString decodes a JSON string or number into its string form.
// Terminal firmware is inconsistent about quoting numeric ids.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*f = ""
	case b[0] == '"':
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*f = FlexString(s)
	default:
		*f = FlexString(b)
	}
	return nil
}

// Int returns the numeric value or 0.
func (f FlexString) Int() int {
	n, err := strconv.Atoi(strings.TrimSpace(string(f)))
	if err != nil {
		return 0
	}
	return n
}
