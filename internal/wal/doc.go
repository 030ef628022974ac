// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

// Package wal is a BadgerDB outbox for check-in events bound for NATS.
//
// The check-in row in DuckDB is the source of truth; the event stream is a
// notification. Without the outbox a JetStream outage silently drops those
// notifications. With it the flow is:
//
//	check-in committed -> WAL Write -> publish -> WAL Confirm
//	                                       |
//	                                       +-> (failure) entry stays pending
//
// RetryLoop republishes pending entries with exponential backoff and drops
// them after MaxRetries attempts or EntryTTL. Compactor removes confirmed
// entries and runs value log GC. Both run as supervised services.
//
// Publishing uses the check-in ID as the JetStream message ID, so a retry
// after a lost ack is deduplicated by the stream.
//
// Environment:
//
//	WAL_ENABLED           enable the outbox (requires NATS_ENABLED)
//	WAL_PATH              BadgerDB directory (default /data/wal)
//	WAL_SYNC_WRITES       fsync every write (default true)
//	WAL_RETRY_INTERVAL    retry pass interval (default 30s)
//	WAL_MAX_RETRIES       attempts before an entry is dropped (default 100)
//	WAL_RETRY_BACKOFF     backoff base (default 5s)
//	WAL_COMPACT_INTERVAL  compaction interval (default 1h)
//	WAL_ENTRY_TTL         unconfirmed entry lifetime (default 168h)
package wal
