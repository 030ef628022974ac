// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

/*
Package services provides suture.Service wrappers for gymbridge components.

Each wrapper translates a component lifecycle (Run, ListenAndServe,
start-on-construct) into suture's context-aware Serve and implements
fmt.Stringer so suture log lines name the service.

Available services:

  - DeviceService: runs a sync.ConnectionSupervisor. Reconnect exhaustion
    maps to suture.ErrDoNotRestart.
  - HTTPServerService: wraps *http.Server with graceful shutdown.
  - EmbeddedNATSService: owns an in-process JetStream server and reports
    an unexpected stop as a terminal failure.
  - WALService: runs the outbox retry loop or compactor (Start/Stop).

Example:

	tree.AddDeviceService(services.NewDeviceService(sup))
	tree.AddAPIService(services.NewHTTPServerService(srv, 10*time.Second))
*/
package services
