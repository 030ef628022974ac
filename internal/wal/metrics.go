// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package wal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	walWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gymbridge_wal_writes_total",
		Help: "Check-in events written to the outbox",
	})

	walConfirms = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gymbridge_wal_confirms_total",
		Help: "Outbox entries confirmed after a JetStream ack",
	})

	walRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gymbridge_wal_retries_total",
		Help: "Failed publish attempts recorded on outbox entries",
	})

	walPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gymbridge_wal_pending_entries",
		Help: "Outbox entries waiting for a successful publish",
	})

	walDBSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gymbridge_wal_db_size_bytes",
		Help: "Outbox BadgerDB size (LSM + value log)",
	})

	walWriteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gymbridge_wal_write_latency_seconds",
		Help:    "Outbox write latency",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	})

	walDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gymbridge_wal_dropped_entries_total",
		Help: "Outbox entries removed without a publish, by reason (expired, max_retries)",
	}, []string{"reason"})

	walWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gymbridge_wal_write_failures_total",
		Help: "Outbox writes that failed; the event was published directly",
	})

	walPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gymbridge_wal_publish_failures_total",
		Help: "Publish attempts that left the entry pending",
	})

	walCompactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gymbridge_wal_compactions_total",
		Help: "Compaction runs",
	})

	walEntriesCompacted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gymbridge_wal_entries_compacted_total",
		Help: "Confirmed or expired entries removed by compaction",
	})
)

// RecordWriteFailure counts an outbox write failure.
func RecordWriteFailure() { walWriteFailures.Inc() }

// RecordPublishFailure counts a publish attempt that left an entry pending.
func RecordPublishFailure() { walPublishFailures.Inc() }
