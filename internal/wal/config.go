// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package wal

import (
	"fmt"
	"time"

	"github.com/tomtom215/gymbridge/internal/config"
)

// Config holds outbox storage and retry settings.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps entries in memory only. Tests use it; production
	// deployments lose pending entries on restart.
	InMemory bool

	// SyncWrites fsyncs every Write.
	SyncWrites bool

	// RetryInterval is the time between retry loop passes.
	RetryInterval time.Duration

	// MaxRetries is the number of failed publishes after which an entry is
	// dropped.
	MaxRetries int

	// RetryBackoff is the base of the per-entry exponential backoff.
	RetryBackoff time.Duration

	// CompactInterval is the time between compaction runs.
	CompactInterval time.Duration

	// EntryTTL bounds how long an unconfirmed entry is kept.
	EntryTTL time.Duration

	// GCRatio is the BadgerDB value log GC discard ratio.
	GCRatio float64

	// CloseTimeout bounds Close.
	CloseTimeout time.Duration
}

// DefaultConfig returns production defaults. Durability wins over throughput.
func DefaultConfig() Config {
	return Config{
		Path:            "/data/wal",
		SyncWrites:      true,
		RetryInterval:   30 * time.Second,
		MaxRetries:      100,
		RetryBackoff:    5 * time.Second,
		CompactInterval: time.Hour,
		EntryTTL:        168 * time.Hour,
		GCRatio:         0.5,
		CloseTimeout:    30 * time.Second,
	}
}

// ConfigFrom maps the application configuration onto Config.
func ConfigFrom(cfg config.WALConfig) Config {
	c := DefaultConfig()
	c.Path = cfg.Path
	c.SyncWrites = cfg.SyncWrites
	if cfg.RetryInterval > 0 {
		c.RetryInterval = cfg.RetryInterval
	}
	if cfg.MaxRetries > 0 {
		c.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryBackoff > 0 {
		c.RetryBackoff = cfg.RetryBackoff
	}
	if cfg.CompactInterval > 0 {
		c.CompactInterval = cfg.CompactInterval
	}
	if cfg.EntryTTL > 0 {
		c.EntryTTL = cfg.EntryTTL
	}
	return c
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return &ConfigError{Field: "Path", Message: "WAL path is required"}
	}
	if c.RetryInterval <= 0 {
		return &ConfigError{Field: "RetryInterval", Message: "must be positive"}
	}
	if c.MaxRetries < 1 {
		return &ConfigError{Field: "MaxRetries", Message: "must be at least 1"}
	}
	if c.RetryBackoff <= 0 {
		return &ConfigError{Field: "RetryBackoff", Message: "must be positive"}
	}
	if c.CompactInterval <= 0 {
		return &ConfigError{Field: "CompactInterval", Message: "must be positive"}
	}
	if c.EntryTTL <= 0 {
		return &ConfigError{Field: "EntryTTL", Message: "must be positive"}
	}
	return nil
}

// ConfigError is a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("WAL config error: %s %s", e.Field, e.Message)
}
