// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package services

import (
	"context"
	"fmt"
)

// WALStartStopper is the lifecycle of *wal.RetryLoop and *wal.Compactor.
type WALStartStopper interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
}

// WALService adapts a Start/Stop background loop to suture.Service.
type WALService struct {
	loop WALStartStopper
	name string
}

// NewWALRetryLoopService supervises the outbox retry loop.
func NewWALRetryLoopService(loop WALStartStopper) *WALService {
	return &WALService{loop: loop, name: "wal-retry-loop"}
}

// NewWALCompactorService supervises the outbox compactor.
func NewWALCompactorService(compactor WALStartStopper) *WALService {
	return &WALService{loop: compactor, name: "wal-compactor"}
}

// Serve starts the loop, blocks until ctx is done, then stops it.
func (s *WALService) Serve(ctx context.Context) error {
	if err := s.loop.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}
	<-ctx.Done()
	s.loop.Stop()
	return ctx.Err()
}

// String implements fmt.Stringer.
func (s *WALService) String() string {
	return s.name
}
