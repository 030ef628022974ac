// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

/*
Package eventprocessor publishes check-in recorded events to NATS JetStream
through Watermill.

Publishing happens after the check-in row is committed and is best effort:
a broker outage never blocks or fails attendance recording. A circuit
breaker keeps a dead broker from adding publish latency to every scan.

Components:

  - Publisher: Watermill NATS publisher with gobreaker protection. The
    check-in id is the message UUID and the Nats-Msg-Id, so JetStream's
    duplicate window drops republished events.
  - StreamInitializer: creates or updates the JetStream stream before the
    publisher starts.
  - Serializer: JSON encoding of models.CheckInRecorded.

Usage:

	if err := eventprocessor.SetupStream(ctx, cfg.NATS.URL, eventprocessor.StreamConfigFrom(cfg.NATS)); err != nil { ... }
	pub, err := eventprocessor.NewPublisher(eventprocessor.PublisherConfigFrom(cfg.NATS), nil)
	pipeline := ingest.NewPipeline(db, ingest.PipelineConfig{Publisher: pub})
*/
package eventprocessor
