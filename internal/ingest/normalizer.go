// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/gymbridge/internal/models"
	"github.com/tomtom215/gymbridge/internal/validation"
)

// Placeholder labels used when neither the record nor the device config
// names the door.
const (
	ZKTecoPlaceholderLabel    = "ZKTeco Terminal"
	HikvisionPlaceholderLabel = "Hikvision Terminal"
)

// Reject reasons.
const (
	ReasonNoUser  = "no employee number"
	ReasonInvalid = "invalid record"
)

// RejectError reports a raw record that cannot become an AttendanceEvent.
// It is a skip, not a failure.
type RejectError struct {
	Reason string
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return "record rejected: " + e.Reason
	}
	return fmt.Sprintf("record rejected: %s: %s", e.Reason, e.Detail)
}

// NormalizeOptions carries device context the raw record does not hold.
type NormalizeOptions struct {
	// DeviceID is the configured id of the source device.
	DeviceID string

	// DeviceName is the fallback label.
	DeviceName string

	// Location is applied to timestamps that carry no UTC offset.
	// Nil means time.Local.
	Location *time.Location
}

// hikTimeLayouts are tried in order. Layouts with a zone are parsed as-is;
// the rest use the device location.
var hikTimeLayouts = []struct {
	layout  string
	hasZone bool
}{
	{time.RFC3339Nano, true},
	{"2006-01-02T15:04:05-0700", true},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02 15:04:05", false},
	{"2006/01/02 15:04:05", false},
}

// Normalize maps a vendor record into the canonical AttendanceEvent.
func Normalize(raw models.RawRecord, opts NormalizeOptions) (*models.AttendanceEvent, error) {
	var ev *models.AttendanceEvent
	var err error

	switch r := raw.(type) {
	case *models.ZKAttendance:
		ev, err = normalizeZK(r, opts)
	case *models.HikvisionEvent:
		ev, err = normalizeHikvision(r, opts)
	case nil:
		return nil, &RejectError{Reason: ReasonInvalid, Detail: "nil record"}
	default:
		return nil, &RejectError{Reason: ReasonInvalid, Detail: fmt.Sprintf("unsupported record type %T", raw)}
	}
	if err != nil {
		return nil, err
	}

	if verr := validation.ValidateStruct(ev); verr != nil {
		return nil, &RejectError{Reason: ReasonInvalid, Detail: verr.Error()}
	}
	return ev, nil
}

func normalizeZK(r *models.ZKAttendance, opts NormalizeOptions) (*models.AttendanceEvent, error) {
	id := strings.TrimSpace(r.UserID)
	if id == "" {
		return nil, &RejectError{Reason: ReasonNoUser}
	}
	if r.Timestamp.IsZero() {
		return nil, &RejectError{Reason: ReasonInvalid, Detail: "zero timestamp"}
	}

	return &models.AttendanceEvent{
		DeviceUserID:   id,
		Timestamp:      r.Timestamp,
		Label:          label("", opts.DeviceName, ZKTecoPlaceholderLabel),
		SourceDeviceID: sourceID(opts.DeviceID, r.Source),
		Vendor:         models.VendorZKTeco,
	}, nil
}

func normalizeHikvision(r *models.HikvisionEvent, opts NormalizeOptions) (*models.AttendanceEvent, error) {
	id := r.UserID()
	if id == "" {
		return nil, &RejectError{Reason: ReasonNoUser}
	}
	ts, err := ParseDeviceTime(r.Time, opts.Location)
	if err != nil {
		return nil, &RejectError{Reason: ReasonInvalid, Detail: err.Error()}
	}

	return &models.AttendanceEvent{
		DeviceUserID:   id,
		Timestamp:      ts,
		Label:          label(r.DoorName, opts.DeviceName, HikvisionPlaceholderLabel),
		SourceDeviceID: sourceID(opts.DeviceID, r.Source),
		Vendor:         models.VendorHikvision,
	}, nil
}

// ParseDeviceTime parses a terminal timestamp. Values without an offset
// are interpreted in loc.
func ParseDeviceTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	if loc == nil {
		loc = time.Local
	}
	for _, l := range hikTimeLayouts {
		var t time.Time
		var err error
		if l.hasZone {
			t, err = time.Parse(l.layout, s)
		} else {
			t, err = time.ParseInLocation(l.layout, s, loc)
		}
		if err == nil {
			if t.IsZero() {
				return time.Time{}, fmt.Errorf("zero timestamp")
			}
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func label(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func sourceID(deviceID, fallback string) string {
	if deviceID != "" {
		return deviceID
	}
	return fallback
}
