// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

/*
Package middleware provides HTTP middleware shared by the API router.

  - RequestID: accepts or generates X-Request-ID and seeds the logging
    context with request and correlation ids.
  - PrometheusMetrics: records gymbridge_api_requests_total and request
    latency, labeled by the chi route pattern so device-supplied paths do
    not blow up label cardinality.

Both use the func(http.Handler) http.Handler shape chi's r.Use expects.
*/
package middleware
