// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package eventprocessor

import (
	"time"

	"github.com/tomtom215/gymbridge/internal/config"
)

// PublisherConfig holds publisher configuration.
type PublisherConfig struct {
	URL              string
	Subject          string
	MaxReconnects    int
	ReconnectWait    time.Duration
	ReconnectBuffer  int
	EnableTrackMsgID bool // nolint:revive // ID is correct per Go conventions
}

// DefaultPublisherConfig returns production defaults for publisher.
func DefaultPublisherConfig(url string) PublisherConfig {
	return PublisherConfig{
		URL:              url,
		Subject:          "attendance.checkins",
		MaxReconnects:    -1, // Unlimited
		ReconnectWait:    2 * time.Second,
		ReconnectBuffer:  8 * 1024 * 1024, // 8MB
		EnableTrackMsgID: true,
	}
}

// PublisherConfigFrom maps the nats config block onto PublisherConfig.
func PublisherConfigFrom(cfg config.NATSConfig) PublisherConfig {
	pc := DefaultPublisherConfig(cfg.URL)
	if cfg.Subject != "" {
		pc.Subject = cfg.Subject
	}
	if cfg.MaxReconnects != 0 {
		pc.MaxReconnects = cfg.MaxReconnects
	}
	if cfg.ReconnectWait > 0 {
		pc.ReconnectWait = cfg.ReconnectWait
	}
	return pc
}

// StreamConfig defines the check-in event stream.
type StreamConfig struct {
	Name            string
	Subjects        []string
	MaxAge          time.Duration
	MaxBytes        int64
	MaxMsgs         int64
	DuplicateWindow time.Duration
	Replicas        int
}

// DefaultStreamConfig returns production stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Name:            "ATTENDANCE",
		Subjects:        []string{"attendance.>"},
		MaxAge:          30 * 24 * time.Hour,
		MaxBytes:        1 << 30, // 1GB
		MaxMsgs:         -1,
		DuplicateWindow: 2 * time.Minute,
		Replicas:        1,
	}
}

// StreamConfigFrom maps the nats config block onto StreamConfig.
func StreamConfigFrom(cfg config.NATSConfig) StreamConfig {
	sc := DefaultStreamConfig()
	if cfg.Stream != "" {
		sc.Name = cfg.Stream
	}
	if cfg.Subject != "" {
		sc.Subjects = []string{cfg.Subject}
	}
	return sc
}

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	Name             string
	MaxRequests      uint32        // Allowed in half-open state
	Interval         time.Duration // Reset interval for counts
	Timeout          time.Duration // Time to stay open
	FailureThreshold uint32        // Failures before opening
}

// DefaultCircuitBreakerConfig returns production defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}
