// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

/*
Package cache provides a bounded, TTL-aware LRU used to remember which
device records a connection supervisor has already handed to the ingest
pipeline.

Terminals return their whole attendance log on every ZKTeco poll, and a
Hikvision search window overlaps the previous one. The cache lets the
poller skip those records without a database round trip. It is an
optimization only; the dedup guard in the ingest package decides what is
actually written.

# Usage

	seen := cache.NewLRUCache(10000, 24*time.Hour)
	if seen.Contains(ev.Key()) {
	    continue
	}
	// ... process ...
	seen.Add(ev.Key(), ev.Timestamp)

# Thread Safety

All methods are safe for concurrent use.
*/
package cache
