// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package services

import (
	"context"
	"errors"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/gymbridge/internal/logging"
	gsync "github.com/tomtom215/gymbridge/internal/sync"
)

// DeviceRunner matches *sync.ConnectionSupervisor.
type DeviceRunner interface {
	Run(ctx context.Context) error
	DeviceID() string
}

// DeviceService runs one terminal's connection supervisor under suture.
//
// Run blocks for the life of the device session. When the supervisor gives
// up after its reconnect budget the service returns suture.ErrDoNotRestart
// so the tree does not reset the budget by restarting it.
type DeviceService struct {
	runner DeviceRunner
	name   string
}

// NewDeviceService wraps a connection supervisor.
func NewDeviceService(runner DeviceRunner) *DeviceService {
	return &DeviceService{
		runner: runner,
		name:   "device:" + runner.DeviceID(),
	}
}

// Serve implements suture.Service.
func (s *DeviceService) Serve(ctx context.Context) error {
	err := s.runner.Run(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gsync.ErrReconnectExhausted):
		logging.Error().Err(err).Str("device_id", s.runner.DeviceID()).
			Msg("Device reconnect budget exhausted, service will not be restarted")
		return suture.ErrDoNotRestart
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return err
	}
}

// String implements fmt.Stringer for suture logs.
func (s *DeviceService) String() string {
	return s.name
}
