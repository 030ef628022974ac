// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	gsync "github.com/tomtom215/gymbridge/internal/sync"
)

var (
	_ suture.Service = (*DeviceService)(nil)
	_ suture.Service = (*HTTPServerService)(nil)
	_ suture.Service = (*EmbeddedNATSService)(nil)
)

// mockHTTPServer is a test double for HTTPServer.
type mockHTTPServer struct {
	listenErr     error
	block         bool
	shutdownErr   error
	shutdownCount atomic.Int32
	started       chan struct{}
	stopCh        chan struct{}
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{
		started: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

func (m *mockHTTPServer) ListenAndServe() error {
	select {
	case m.started <- struct{}{}:
	default:
	}
	if m.listenErr != nil {
		return m.listenErr
	}
	if m.block {
		<-m.stopCh
		return http.ErrServerClosed
	}
	return nil
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdownCount.Add(1)
	close(m.stopCh)
	return m.shutdownErr
}

func TestHTTPServerService_GracefulShutdown(t *testing.T) {
	t.Parallel()
	server := newMockHTTPServer()
	server.block = true
	svc := NewHTTPServerService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	select {
	case <-server.started:
	case <-time.After(time.Second):
		t.Fatal("server did not start")
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	if server.shutdownCount.Load() != 1 {
		t.Errorf("Shutdown calls = %d, want 1", server.shutdownCount.Load())
	}
}

func TestHTTPServerService_Errors(t *testing.T) {
	t.Parallel()

	t.Run("listen failure", func(t *testing.T) {
		t.Parallel()
		bind := errors.New("bind: address already in use")
		server := newMockHTTPServer()
		server.listenErr = bind
		if err := NewHTTPServerService(server, time.Second).Serve(context.Background()); !errors.Is(err, bind) {
			t.Errorf("err = %v, want bind error", err)
		}
	})

	t.Run("shutdown failure", func(t *testing.T) {
		t.Parallel()
		stuck := errors.New("shutdown timeout")
		server := newMockHTTPServer()
		server.block = true
		server.shutdownErr = stuck
		svc := NewHTTPServerService(server, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- svc.Serve(ctx) }()
		<-server.started
		cancel()

		if err := <-errCh; !errors.Is(err, stuck) {
			t.Errorf("err = %v, want shutdown error", err)
		}
	})

	t.Run("default timeout", func(t *testing.T) {
		t.Parallel()
		svc := NewHTTPServerService(newMockHTTPServer(), -time.Second)
		if svc.shutdownTimeout != 10*time.Second {
			t.Errorf("shutdownTimeout = %v", svc.shutdownTimeout)
		}
		if svc.String() != "http-server" {
			t.Errorf("String = %q", svc.String())
		}
	})
}

type mockRunner struct {
	id  string
	err error
}

func (m *mockRunner) Run(ctx context.Context) error {
	if m.err != nil {
		return m.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockRunner) DeviceID() string { return m.id }

func TestDeviceService_Serve(t *testing.T) {
	t.Parallel()

	t.Run("exhausted is terminal", func(t *testing.T) {
		t.Parallel()
		svc := NewDeviceService(&mockRunner{id: "front", err: fmt.Errorf("front: %w", gsync.ErrReconnectExhausted)})
		if svc.String() != "device:front" {
			t.Errorf("String = %q", svc.String())
		}
		if err := svc.Serve(context.Background()); !errors.Is(err, suture.ErrDoNotRestart) {
			t.Errorf("err = %v, want ErrDoNotRestart", err)
		}
	})

	t.Run("other errors restart", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		svc := NewDeviceService(&mockRunner{id: "x", err: boom})
		if err := svc.Serve(context.Background()); !errors.Is(err, boom) {
			t.Errorf("err = %v, want boom", err)
		}
	})

	t.Run("cancellation", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		svc := NewDeviceService(&mockRunner{id: "x"})
		if err := svc.Serve(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}

type mockNATSServer struct {
	running  atomic.Bool
	shutdown atomic.Int32
}

func (m *mockNATSServer) IsRunning() bool { return m.running.Load() }

func (m *mockNATSServer) Shutdown(context.Context) error {
	m.shutdown.Add(1)
	m.running.Store(false)
	return nil
}

func TestEmbeddedNATSService(t *testing.T) {
	t.Parallel()

	t.Run("shuts down server on cancel", func(t *testing.T) {
		t.Parallel()
		srv := &mockNATSServer{}
		srv.running.Store(true)
		svc := NewEmbeddedNATSService(srv)
		svc.checkInterval = 10 * time.Millisecond

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		if err := svc.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want deadline exceeded", err)
		}
		if srv.shutdown.Load() != 1 {
			t.Errorf("Shutdown calls = %d, want 1", srv.shutdown.Load())
		}
	})

	t.Run("dead server is terminal", func(t *testing.T) {
		t.Parallel()
		svc := NewEmbeddedNATSService(&mockNATSServer{})
		svc.checkInterval = 10 * time.Millisecond

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := svc.Serve(ctx); !errors.Is(err, suture.ErrDoNotRestart) {
			t.Errorf("err = %v, want ErrDoNotRestart", err)
		}
	})
}

type mockLoop struct {
	starts  atomic.Int32
	stops   atomic.Int32
	running atomic.Bool
	err     error
}

func (m *mockLoop) Start(context.Context) error {
	m.starts.Add(1)
	if m.err != nil {
		return m.err
	}
	m.running.Store(true)
	return nil
}

func (m *mockLoop) Stop() {
	m.stops.Add(1)
	m.running.Store(false)
}

func (m *mockLoop) IsRunning() bool { return m.running.Load() }

func TestWALService(t *testing.T) {
	t.Parallel()

	loop := &mockLoop{}
	svc := NewWALRetryLoopService(loop)
	if svc.String() != "wal-retry-loop" {
		t.Errorf("String() = %q", svc.String())
	}
	if NewWALCompactorService(loop).String() != "wal-compactor" {
		t.Error("compactor service name")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(time.Second)
	for !loop.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !loop.IsRunning() {
		t.Fatal("loop not started")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}
	if loop.stops.Load() != 1 || loop.IsRunning() {
		t.Errorf("stops = %d, running = %v", loop.stops.Load(), loop.IsRunning())
	}

	failing := &mockLoop{err: errors.New("badger closed")}
	if err := NewWALCompactorService(failing).Serve(context.Background()); err == nil {
		t.Error("expected start error")
	}
}
