// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

/*
Package sync keeps attendance terminals connected and feeds their logs into
the ingest pipeline.

Key Components:

  - ConnectionSupervisor: one per device. Owns the adapter session, the
    reconnect state machine, the seen-event LRU and the device watermark.
  - Manager: builds a supervisor for every configured device and exposes
    their status snapshots.

State machine:

	Disconnected -> Connecting -> Connected
	Connected --transport error--> Disconnected (next tick reconnects)
	Disconnected --max_reconnect_attempts failures--> Exhausted

Exhausted is terminal. Run returns ErrReconnectExhausted and the supervisor
tree is told not to restart the service.

Duplicate short-circuits:

Terminals return overlapping history on every poll. Records whose
"user|time" key was already handled are skipped through the LRU and the
last processed key. Records older than the persisted watermark minus the
dedup window are skipped too. None of this replaces the dedup guard; it only
saves database round trips.

Usage Example:

	adapter, _ := device.New(devCfg)
	sup := sync.NewConnectionSupervisor(adapter, pipeline, checkpoints,
	    sync.ConfigFromDevice(devCfg, cfg.Supervisor, cfg.Ingest.DedupWindow))
	err := sup.Run(ctx) // blocks until ctx is done or reconnects are exhausted
*/
package sync
