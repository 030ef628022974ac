// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package eventprocessor

import (
	"context"
	"testing"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// TestEmbeddedJetStream_DeduplicatesRepublish publishes the same check-in
// twice against a real in-process server and expects one stored message.
func TestEmbeddedJetStream_DeduplicatesRepublish(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded NATS server")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv, err := NewEmbeddedServer(ServerConfig{Host: "127.0.0.1", Port: -1, StoreDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewEmbeddedServer: %v", err)
	}
	defer func() {
		if err := srv.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	}()
	if !srv.IsRunning() || !srv.JetStreamEnabled() {
		t.Fatal("server should be running with JetStream")
	}

	streamCfg := DefaultStreamConfig()
	streamCfg.Subjects = []string{"attendance.checkins"}
	if err := SetupStream(ctx, srv.ClientURL(), streamCfg); err != nil {
		t.Fatalf("SetupStream: %v", err)
	}

	pcfg := DefaultPublisherConfig(srv.ClientURL())
	pcfg.MaxReconnects = 0
	pub, err := NewPublisher(pcfg, nil)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()

	for i := 0; i < 2; i++ {
		if err := pub.PublishCheckIn(ctx, testEvent("c-dup")); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if err := pub.PublishCheckIn(ctx, testEvent("c-other")); err != nil {
		t.Fatalf("publish other: %v", err)
	}

	nc, err := natsgo.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatal(err)
	}
	stream, err := js.Stream(ctx, streamCfg.Name)
	if err != nil {
		t.Fatal(err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.State.Msgs != 2 {
		t.Errorf("stored messages = %d, want 2", info.State.Msgs)
	}
}

func TestNewEmbeddedServer_RequiresStoreDir(t *testing.T) {
	t.Parallel()
	if _, err := NewEmbeddedServer(ServerConfig{Port: -1}); err == nil {
		t.Error("expected error for empty store dir")
	}
}
