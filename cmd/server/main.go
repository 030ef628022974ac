// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

// Package main is the entry point for the gymbridge server.
//
// Gymbridge polls fingerprint terminals (ZKTeco over UDP, Hikvision over
// ISAPI) and accepts pushed terminal events on a webhook, and turns each
// scan into at most one check-in row per member per dedup window.
//
// # Startup order
//
//  1. Configuration (koanf: defaults, config.yaml, environment)
//  2. Logging (zerolog)
//  3. DuckDB members/checkins store
//  4. Badger watermark store (optional)
//  5. NATS JetStream publisher, embedded or external, with the Badger
//     outbox in front of it (optional)
//  6. Ingest pipeline and one connection supervisor per device
//  7. HTTP server (webhook, health, devices, metrics)
//  8. suture supervisor tree
//
// # Example
//
//	export DEVICE_VENDOR=zkteco
//	export DEVICE_IP=192.168.1.201
//	export DUCKDB_PATH=/data/gymbridge.duckdb
//	./gymbridge
//
// SIGINT and SIGTERM stop the tree; each device session is closed within
// SHUTDOWN_GRACE and in-flight webhook requests are drained.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // device time zones on minimal images

	"github.com/tomtom215/gymbridge/internal/api"
	"github.com/tomtom215/gymbridge/internal/auth"
	"github.com/tomtom215/gymbridge/internal/checkpoint"
	"github.com/tomtom215/gymbridge/internal/config"
	"github.com/tomtom215/gymbridge/internal/database"
	"github.com/tomtom215/gymbridge/internal/ingest"
	"github.com/tomtom215/gymbridge/internal/logging"
	"github.com/tomtom215/gymbridge/internal/supervisor"
	"github.com/tomtom215/gymbridge/internal/supervisor/services"
	gsync "github.com/tomtom215/gymbridge/internal/sync"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("gymbridge stopped")
	}
}

//nolint:gocyclo // sequential wiring
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	devices := cfg.GetDevices()
	logging.Info().
		Int("devices", len(devices)).
		Bool("webhook", cfg.Webhook.Enabled).
		Str("db_path", cfg.Database.Path).
		Msg("Starting gymbridge")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	var checkpoints gsync.Checkpointer
	if cfg.Checkpoint.Enabled {
		store, err := checkpoint.Open(cfg.Checkpoint)
		if err != nil {
			return fmt.Errorf("open checkpoint store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing checkpoint store")
			}
		}()
		checkpoints = store
		logging.Info().Str("path", cfg.Checkpoint.Path).Bool("in_memory", cfg.Checkpoint.InMemory).
			Msg("Device watermarks persisted")
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: cfg.Supervisor.FailureThreshold,
		FailureDecay:     cfg.Supervisor.FailureDecay,
		FailureBackoff:   cfg.Supervisor.FailureBackoff,
		ShutdownTimeout:  cfg.Supervisor.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	events, err := initEvents(ctx, cfg.NATS, cfg.WAL)
	if err != nil {
		return fmt.Errorf("initialize event publishing: %w", err)
	}
	defer events.Close()
	if events.server != nil {
		tree.AddMessagingService(services.NewEmbeddedNATSService(events.server))
	}
	if events.retry != nil {
		tree.AddMessagingService(services.NewWALRetryLoopService(events.retry))
		tree.AddMessagingService(services.NewWALCompactorService(events.compactor))
	}

	pipeline := ingest.NewPipeline(db, ingest.PipelineConfig{
		DedupWindow: cfg.Ingest.DedupWindow,
		Publisher:   events.checkInPublisher(),
	})

	manager, err := gsync.NewManager(cfg, pipeline, checkpoints, nil)
	if err != nil {
		return fmt.Errorf("create device manager: %w", err)
	}
	for _, sup := range manager.Supervisors() {
		tree.AddDeviceService(services.NewDeviceService(sup))
	}

	handler := api.NewHandler(pipeline, manager, db, cfg.Webhook)
	router := api.NewRouter(handler, cfg.Server, cfg.Webhook)
	if cfg.Webhook.Username != "" {
		basic, err := auth.NewBasicAuthManager(cfg.Webhook.Username, cfg.Webhook.Password, 0)
		if err != nil {
			return fmt.Errorf("webhook credentials: %w", err)
		}
		router.WithWebhookAuth(basic)
		logging.Info().Str("username", cfg.Webhook.Username).Msg("Webhook Basic Auth enabled")
	}
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.SetupChi(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Supervisor.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Bool("webhook", cfg.Webhook.Enabled).Msg("HTTP server configured")

	errCh := tree.ServeBackground(ctx)
	logging.Info().Msg("Supervisor tree started")

	<-ctx.Done()
	logging.Info().Msg("Shutdown signal received")

	if err := <-errCh; err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor tree: %w", err)
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within timeout")
		}
	}

	logging.Info().Msg("gymbridge stopped")
	return nil
}
