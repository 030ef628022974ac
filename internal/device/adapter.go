// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

// Package device contains the terminal transport adapters.
//
// Each vendor implements Adapter. Adapters hold connection state only; all
// business state (watermarks, dedup, member lookups) lives with the caller.
package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/gymbridge/internal/config"
	"github.com/tomtom215/gymbridge/internal/models"
)

// Adapter is a client for one physical terminal.
type Adapter interface {
	// Vendor reports the protocol family.
	Vendor() models.Vendor

	// SourceID is the IP or serial recorded on events from this terminal.
	SourceID() string

	// Connect opens the session. Failures are *ConnectionError.
	Connect(ctx context.Context) error

	// GetDeviceInfo is best effort; missing fields are left empty.
	GetDeviceInfo(ctx context.Context) (*models.DeviceInfo, error)

	// ListUsers returns identities enrolled on the terminal.
	ListUsers(ctx context.Context) ([]models.DeviceUser, error)

	// ListAttendanceEvents returns a finite snapshot of buffered logs in
	// terminal order. Nothing is cleared on the device.
	ListAttendanceEvents(ctx context.Context) ([]models.RawRecord, error)

	// Disconnect releases the session. Safe to call when not connected.
	Disconnect(ctx context.Context) error
}

// ErrNotConnected is returned when an operation needs an open session.
var ErrNotConnected = errors.New("device not connected")

// ConnectionError is a transport or whole-response protocol failure.
// Callers treat it as "drop the session and reconnect".
type ConnectionError struct {
	Device string
	Op     string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("device %s: %s: %v", e.Device, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is (or wraps) a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

func connErr(device, op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return err
	}
	return &ConnectionError{Device: device, Op: op, Err: err}
}

// New returns the adapter for cfg.Vendor.
//
//nolint:gocritic // DeviceConfig is small and read-only here
func New(cfg config.DeviceConfig) (Adapter, error) {
	switch cfg.Vendor {
	case config.VendorZKTeco:
		c, err := NewZKClient(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.VendorHikvision:
		c, err := NewHikvisionCircuitBreakerClient(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported device vendor %q", cfg.Vendor)
	}
}
