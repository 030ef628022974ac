// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/gymbridge/internal/config"
	"github.com/tomtom215/gymbridge/internal/eventprocessor"
	"github.com/tomtom215/gymbridge/internal/ingest"
	"github.com/tomtom215/gymbridge/internal/logging"
	"github.com/tomtom215/gymbridge/internal/wal"
)

// eventComponents holds the optional NATS pieces. All fields are nil when
// publishing is disabled; the outbox fields are nil unless WAL_ENABLED.
type eventComponents struct {
	server    *eventprocessor.EmbeddedServer
	publisher *eventprocessor.Publisher

	outbox    *wal.BadgerWAL
	durable   *eventprocessor.WALEnabledPublisher
	retry     *wal.RetryLoop
	compactor *wal.Compactor
}

// initEvents starts the embedded server if configured, ensures the stream,
// connects the publisher and opens the outbox.
func initEvents(ctx context.Context, cfg config.NATSConfig, walCfg config.WALConfig) (*eventComponents, error) {
	ec := &eventComponents{}
	if !cfg.Enabled {
		logging.Info().Msg("Check-in event publishing disabled")
		return ec, nil
	}

	url := cfg.URL
	if cfg.Embedded {
		srv, err := eventprocessor.NewEmbeddedServer(eventprocessor.ServerConfig{
			Host:     cfg.EmbeddedHost,
			Port:     cfg.EmbeddedPort,
			StoreDir: cfg.StoreDir,
		})
		if err != nil {
			return nil, fmt.Errorf("start embedded NATS: %w", err)
		}
		ec.server = srv
		url = srv.ClientURL()
		logging.Info().Str("url", url).Str("store_dir", cfg.StoreDir).Msg("Embedded NATS server started")
	}

	setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := eventprocessor.SetupStream(setupCtx, url, eventprocessor.StreamConfigFrom(cfg)); err != nil {
		ec.Close()
		return nil, err
	}

	pcfg := eventprocessor.PublisherConfigFrom(cfg)
	pcfg.URL = url
	pub, err := eventprocessor.NewPublisher(pcfg, eventprocessor.NewLogger())
	if err != nil {
		ec.Close()
		return nil, err
	}
	ec.publisher = pub
	logging.Info().Str("subject", pub.Subject()).Msg("Check-in event publishing enabled")

	if walCfg.Enabled {
		outbox, err := wal.Open(wal.ConfigFrom(walCfg))
		if err != nil {
			ec.Close()
			return nil, fmt.Errorf("open WAL: %w", err)
		}
		ec.outbox = outbox
		durable, err := eventprocessor.NewWALEnabledPublisher(pub, outbox)
		if err != nil {
			ec.Close()
			return nil, err
		}
		ec.durable = durable
		ec.retry = wal.NewRetryLoop(outbox, durable.RetryPublisher())
		ec.compactor = wal.NewCompactor(outbox)

		stats := outbox.Stats()
		logging.Info().Int64("pending", stats.PendingCount).Msg("Check-in outbox enabled")
	}
	return ec, nil
}

// checkInPublisher is the publisher the ingest pipeline should use, or nil.
func (ec *eventComponents) checkInPublisher() ingest.Publisher {
	switch {
	case ec.durable != nil:
		return ec.durable
	case ec.publisher != nil:
		return ec.publisher
	default:
		return nil
	}
}

// Close stops the publisher, the outbox and, if the tree has not already,
// the embedded server.
func (ec *eventComponents) Close() {
	if ec.outbox != nil {
		if err := ec.outbox.Close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing WAL")
		}
	}
	if ec.publisher != nil {
		if err := ec.publisher.Close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing event publisher")
		}
	}
	if ec.server != nil && ec.server.IsRunning() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ec.server.Shutdown(ctx); err != nil {
			logging.Warn().Err(err).Msg("Error stopping embedded NATS")
		}
	}
}
