// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validateDevices(); err != nil {
		return err
	}
	if err := c.validateSupervisor(); err != nil {
		return err
	}
	if c.Ingest.DedupWindow <= 0 {
		return fmt.Errorf("DEDUP_WINDOW must be positive, got %v", c.Ingest.DedupWindow)
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("DUCKDB_PATH is required")
	}
	if c.Checkpoint.Enabled && !c.Checkpoint.InMemory && c.Checkpoint.Path == "" {
		return fmt.Errorf("CHECKPOINT_PATH is required when CHECKPOINT_ENABLED=true")
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if c.NATS.Enabled && c.NATS.Embedded && c.NATS.StoreDir == "" {
		return fmt.Errorf("NATS_STORE_DIR is required when NATS_EMBEDDED=true")
	}
	if c.NATS.Enabled && !c.NATS.Embedded && c.NATS.URL == "" {
		return fmt.Errorf("NATS_URL is required when NATS_ENABLED=true")
	}
	if err := c.validateWAL(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateDevices() error {
	devices := c.GetDevices()
	if len(devices) == 0 && !c.Webhook.Enabled {
		return fmt.Errorf("no devices configured: set DEVICE_IP or a devices list, or enable the webhook")
	}

	seen := make(map[string]bool, len(devices))
	for i := range devices {
		d := &devices[i]
		if seen[d.ID] {
			return fmt.Errorf("duplicate device id %q", d.ID)
		}
		seen[d.ID] = true

		if err := d.validate(); err != nil {
			return fmt.Errorf("device %s: %w", d.ID, err)
		}
	}
	return nil
}

func (d *DeviceConfig) validate() error {
	switch d.Vendor {
	case VendorZKTeco:
		if d.Password != "" {
			if _, err := strconv.ParseUint(d.Password, 10, 32); err != nil {
				return fmt.Errorf("zkteco password must be numeric")
			}
		}
	case VendorHikvision:
		if d.Username == "" {
			return fmt.Errorf("username is required for hikvision devices")
		}
	default:
		return fmt.Errorf("unsupported vendor %q (expected %s or %s)", d.Vendor, VendorZKTeco, VendorHikvision)
	}
	if d.Host == "" {
		return fmt.Errorf("host is required")
	}
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", d.Port)
	}
	if d.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if d.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if d.MaxReconnectAttempts < 1 {
		return fmt.Errorf("max_reconnect_attempts must be at least 1")
	}
	if d.Timezone != "" && !strings.EqualFold(d.Timezone, "local") {
		if _, err := time.LoadLocation(d.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", d.Timezone, err)
		}
	}
	return nil
}

func (c *Config) validateSupervisor() error {
	s := &c.Supervisor
	if s.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if s.MaxReconnectAttempts < 1 {
		return fmt.Errorf("MAX_RECONNECT_ATTEMPTS must be at least 1")
	}
	if s.ReconnectDelay < 0 || s.MaxReconnectDelay < s.ReconnectDelay {
		return fmt.Errorf("RECONNECT_DELAY must be >= 0 and <= MAX_RECONNECT_DELAY")
	}
	if s.ShutdownGrace <= 0 {
		return fmt.Errorf("SHUTDOWN_GRACE must be positive")
	}
	return nil
}

func (c *Config) validateServer() error {
	if !c.Webhook.Enabled {
		return nil
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		return fmt.Errorf("WEBHOOK_MAX_BODY_BYTES must be positive")
	}
	if c.Webhook.RateLimitReqs > 0 && c.Webhook.RateLimitWindow <= 0 {
		return fmt.Errorf("WEBHOOK_RATE_LIMIT_WINDOW must be positive when WEBHOOK_RATE_LIMIT is set")
	}
	if c.Webhook.Username != "" && len(c.Webhook.Password) < 8 {
		return fmt.Errorf("WEBHOOK_PASSWORD must be at least 8 characters when WEBHOOK_USERNAME is set")
	}
	return nil
}

func (c *Config) validateWAL() error {
	if !c.WAL.Enabled {
		return nil
	}
	if !c.NATS.Enabled {
		return fmt.Errorf("WAL_ENABLED=true requires NATS_ENABLED=true")
	}
	if c.WAL.Path == "" {
		return fmt.Errorf("WAL_PATH is required when WAL_ENABLED=true")
	}
	if c.WAL.RetryInterval < time.Second {
		return fmt.Errorf("WAL_RETRY_INTERVAL must be at least 1s, got %v", c.WAL.RetryInterval)
	}
	if c.WAL.RetryBackoff < time.Second {
		return fmt.Errorf("WAL_RETRY_BACKOFF must be at least 1s, got %v", c.WAL.RetryBackoff)
	}
	if c.WAL.MaxRetries < 1 {
		return fmt.Errorf("WAL_MAX_RETRIES must be at least 1, got %d", c.WAL.MaxRetries)
	}
	if c.WAL.CompactInterval < time.Minute {
		return fmt.Errorf("WAL_COMPACT_INTERVAL must be at least 1m, got %v", c.WAL.CompactInterval)
	}
	if c.WAL.EntryTTL < time.Hour {
		return fmt.Errorf("WAL_ENTRY_TTL must be at least 1h, got %v", c.WAL.EntryTTL)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled", "":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console", "":
		return nil
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
}
