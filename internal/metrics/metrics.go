// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Store
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gymbridge_db_query_duration_seconds",
			Help:    "Duration of members/checkins store queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gymbridge_db_query_errors_total",
			Help: "Total number of store query errors",
		},
		[]string{"operation", "table"},
	)

	// Devices
	DeviceState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gymbridge_device_state",
			Help: "Connection state per device (0=disconnected, 1=connecting, 2=connected, 3=exhausted)",
		},
		[]string{"device"},
	)

	DeviceStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gymbridge_device_state_transitions_total",
			Help: "Total number of connection state transitions",
		},
		[]string{"device", "from_state", "to_state"},
	)

	DeviceReconnectAttempts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gymbridge_device_reconnect_attempts",
			Help: "Consecutive failed reconnect attempts",
		},
		[]string{"device"},
	)

	DevicePolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gymbridge_device_polls_total",
			Help: "Total number of poll ticks by result",
		},
		[]string{"device", "result"}, // ok, transport_error
	)

	DevicePollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gymbridge_device_poll_duration_seconds",
			Help:    "Duration of a full poll tick (fetch and ingest)",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"device"},
	)

	DeviceRecordsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gymbridge_device_records_fetched_total",
			Help: "Raw attendance records returned by devices",
		},
		[]string{"device"},
	)

	// Ingest
	IngestEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gymbridge_ingest_events_total",
			Help: "Attendance events by ingest path and outcome",
		},
		[]string{"source", "outcome"},
	)

	// Webhook / API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gymbridge_api_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gymbridge_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	WebhookAuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gymbridge_webhook_auth_failures_total",
			Help: "Rejected webhook requests by reason (missing, invalid)",
		},
		[]string{"reason"},
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Event publishing and checkpoints
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gymbridge_events_published_total",
			Help: "Check-in recorded events published to NATS",
		},
		[]string{"result"},
	)

	CheckpointWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gymbridge_checkpoint_writes_total",
			Help: "Device watermark writes",
		},
		[]string{"device", "result"},
	)
)

// RecordDBQuery records a store query.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records an HTTP request.
func RecordAPIRequest(method, endpoint, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordIngestOutcome counts one pipeline result. source is "poll" or "webhook".
func RecordIngestOutcome(source, outcome string) {
	IngestEvents.WithLabelValues(source, outcome).Inc()
}

// RecordDevicePoll records one poll tick.
func RecordDevicePoll(device string, records int, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "transport_error"
	}
	DevicePolls.WithLabelValues(device, result).Inc()
	DevicePollDuration.WithLabelValues(device).Observe(duration.Seconds())
	if records > 0 {
		DeviceRecordsFetched.WithLabelValues(device).Add(float64(records))
	}
}

// RecordDeviceTransition updates the state gauge and transition counter.
func RecordDeviceTransition(device, from, to string, toValue float64) {
	DeviceState.WithLabelValues(device).Set(toValue)
	DeviceStateTransitions.WithLabelValues(device, from, to).Inc()
}

// RecordEventPublish counts a NATS publish attempt.
func RecordEventPublish(err error) {
	if err != nil {
		EventsPublished.WithLabelValues("failure").Inc()
		return
	}
	EventsPublished.WithLabelValues("success").Inc()
}

// RecordCheckpointWrite counts a watermark write.
func RecordCheckpointWrite(device string, err error) {
	if err != nil {
		CheckpointWrites.WithLabelValues(device, "failure").Inc()
		return
	}
	CheckpointWrites.WithLabelValues(device, "success").Inc()
}
