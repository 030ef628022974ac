// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

/*
Package api serves the push ingest endpoint and the status API.

Routes:

	POST /api/v1/webhooks/attendance  terminal event push (JSON, XML, multipart)
	POST /ISAPI/event                 same handler, for fixed device push paths
	GET  /api/v1/health               store ping and device state counts
	GET  /api/v1/devices              per-device supervisor status
	GET  /metrics                     Prometheus exposition

Every response uses APIResponse{success, message, result}. Webhook
messages are the pipeline outcome strings: "processed", "skipped: no
employee number", "skipped: member not found", "skipped: duplicate" (all
200) and "error: database failure" (500).
*/
package api
