// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/gymbridge/config.yaml",
	"/etc/gymbridge/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Vendor:            VendorZKTeco,
			Password:          "0",
			Timeout:           10 * time.Second,
			Timezone:          "Local",
			InitialLookback:   24 * time.Hour,
			PageSize:          30,
			RequestsPerSecond: 5,
		},
		Supervisor: SupervisorConfig{
			PollInterval:         5 * time.Second,
			MaxReconnectAttempts: 10,
			ReconnectDelay:       5 * time.Second,
			MaxReconnectDelay:    time.Minute,
			ShutdownGrace:        5 * time.Second,
			SeenCacheSize:        10000,
			SeenCacheTTL:         24 * time.Hour,
			FailureThreshold:     5,
			FailureDecay:         30,
			FailureBackoff:       15 * time.Second,
			ShutdownTimeout:      10 * time.Second,
		},
		Ingest: IngestConfig{
			DedupWindow: 60 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/gymbridge.duckdb",
			MaxMemory: "512MB",
		},
		Checkpoint: CheckpointConfig{
			Enabled: true,
			Path:    "/data/checkpoints",
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8085,
			Timeout: 30 * time.Second,
		},
		Webhook: WebhookConfig{
			Enabled:         true,
			RateLimitReqs:   120,
			RateLimitWindow: time.Minute,
			MaxBodyBytes:    1 << 20,
			Timezone:        "Local",
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://127.0.0.1:4222",
			Subject:       "attendance.checkins",
			Stream:        "ATTENDANCE",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			EmbeddedHost:  "127.0.0.1",
			EmbeddedPort:  4222,
			StoreDir:      "./data/nats",
		},
		WAL: WALConfig{
			Enabled:         false,
			Path:            "/data/wal",
			SyncWrites:      true,
			RetryInterval:   30 * time.Second,
			MaxRetries:      100,
			RetryBackoff:    5 * time.Second,
			CompactInterval: time.Hour,
			EntryTTL:        168 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from defaults, an optional YAML file and the
// environment, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// DEVICE_IP -> device.host, POLL_INTERVAL -> supervisor.poll_interval
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unknown variables are dropped so the rest of the environment never leaks
// into the config tree.
var envMappings = map[string]string{
	"device_id":                   "device.id",
	"device_name":                 "device.name",
	"device_vendor":               "device.vendor",
	"device_type":                 "device.vendor",
	"device_ip":                   "device.host",
	"device_host":                 "device.host",
	"device_port":                 "device.port",
	"device_username":             "device.username",
	"device_password":             "device.password",
	"device_use_tls":              "device.use_tls",
	"device_insecure_skip_verify": "device.insecure_skip_verify",
	"device_timeout":              "device.timeout",
	"device_timezone":             "device.timezone",
	"device_initial_lookback":     "device.initial_lookback",
	"device_page_size":            "device.page_size",
	"device_requests_per_second":  "device.requests_per_second",

	"poll_interval":          "supervisor.poll_interval",
	"max_reconnect_attempts": "supervisor.max_reconnect_attempts",
	"reconnect_delay":        "supervisor.reconnect_delay",
	"max_reconnect_delay":    "supervisor.max_reconnect_delay",
	"shutdown_grace":         "supervisor.shutdown_grace",
	"seen_cache_size":        "supervisor.seen_cache_size",
	"seen_cache_ttl":         "supervisor.seen_cache_ttl",

	"dedup_window": "ingest.dedup_window",

	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	"checkpoint_enabled":   "checkpoint.enabled",
	"checkpoint_path":      "checkpoint.path",
	"checkpoint_in_memory": "checkpoint.in_memory",

	"http_host":    "server.host",
	"http_port":    "server.port",
	"http_timeout": "server.timeout",
	"cors_origins": "server.cors_origins",

	"webhook_enabled":           "webhook.enabled",
	"webhook_rate_limit":        "webhook.rate_limit_reqs",
	"webhook_rate_limit_window": "webhook.rate_limit_window",
	"webhook_max_body_bytes":    "webhook.max_body_bytes",
	"webhook_timezone":          "webhook.timezone",
	"webhook_label":             "webhook.label",
	"webhook_username":          "webhook.username",
	"webhook_password":          "webhook.password",

	"nats_enabled":        "nats.enabled",
	"nats_url":            "nats.url",
	"nats_subject":        "nats.subject",
	"nats_stream":         "nats.stream",
	"nats_max_reconnects": "nats.max_reconnects",
	"nats_reconnect_wait": "nats.reconnect_wait",
	"nats_embedded":       "nats.embedded",
	"nats_embedded_host":  "nats.embedded_host",
	"nats_embedded_port":  "nats.embedded_port",
	"nats_store_dir":      "nats.store_dir",

	"wal_enabled":          "wal.enabled",
	"wal_path":             "wal.path",
	"wal_sync_writes":      "wal.sync_writes",
	"wal_retry_interval":   "wal.retry_interval",
	"wal_max_retries":      "wal.max_retries",
	"wal_retry_backoff":    "wal.retry_backoff",
	"wal_compact_interval": "wal.compact_interval",
	"wal_entry_ttl":        "wal.entry_ttl",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc returns "" for variables that are not configuration,
// which makes koanf skip them.
func envTransformFunc(key string) string {
	if path, ok := envMappings[strings.ToLower(key)]; ok {
		return path
	}
	return ""
}
