// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

/*
Package supervisor builds the suture v4 process tree.

	gymbridge (root)
	├── messaging-layer
	│   └── embedded-nats (optional)
	├── device-layer
	│   ├── device:front-door
	│   └── device:...
	└── api-layer
	    └── http-server

Supervisor events are logged through sutureslog into the zerolog-backed
slog handler from internal/logging.

Restart policy:

A device service that panics or returns an unexpected error is restarted
with suture's failure decay and backoff. A device that exhausted its
reconnect budget returns suture.ErrDoNotRestart and stays down until the
process restarts; its exhausted state remains visible through
/api/v1/devices.

Wrappers for concrete services live in the services subpackage.
*/
package supervisor
