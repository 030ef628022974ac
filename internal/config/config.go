// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

/*
Package config loads Gymbridge configuration.

Values are layered with koanf: struct defaults, then an optional YAML file
(CONFIG_PATH or one of DefaultConfigPaths), then environment variables.
A single terminal can be configured entirely through the environment
(DEVICE_IP, DEVICE_PORT, DEVICE_PASSWORD, ...); several terminals need
the YAML `devices:` list.

	devices:
	  - id: front-door
	    vendor: zkteco
	    host: 192.168.1.201
	    password: "0"
	  - id: gym-floor
	    vendor: hikvision
	    host: 192.168.1.64
	    username: admin
	    password: secret
*/
package config

import (
	"fmt"
	"strings"
	"time"
)

// Supported terminal vendors.
const (
	VendorZKTeco    = "zkteco"
	VendorHikvision = "hikvision"
)

// Config is the root configuration.
type Config struct {
	Device     DeviceConfig     `koanf:"device"`
	Devices    []DeviceConfig   `koanf:"devices"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Database   DatabaseConfig   `koanf:"database"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	Server     ServerConfig     `koanf:"server"`
	Webhook    WebhookConfig    `koanf:"webhook"`
	NATS       NATSConfig       `koanf:"nats"`
	WAL        WALConfig        `koanf:"wal"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// DeviceConfig describes one physical terminal.
type DeviceConfig struct {
	// ID names the terminal in logs, metrics and checkpoints.
	// Generated from vendor and host when empty.
	ID string `koanf:"id"`

	// Name is the label written to check-ins when the record carries no door name.
	Name string `koanf:"name"`

	// Vendor selects the adapter: zkteco or hikvision.
	Vendor string `koanf:"vendor"`

	Host string `koanf:"host"`
	Port int    `koanf:"port"` // 4370 for zkteco, 80/443 for hikvision when zero

	// Username is only used by hikvision (HTTP Basic Auth).
	Username string `koanf:"username"`

	// Password is the numeric comm key for zkteco or the ISAPI password.
	Password string `koanf:"password"`

	UseTLS             bool `koanf:"use_tls"`
	InsecureSkipVerify bool `koanf:"insecure_skip_verify"`

	// Timeout bounds a single device request.
	Timeout time.Duration `koanf:"timeout"`

	// Timezone is the IANA zone used for device timestamps without an offset.
	Timezone string `koanf:"timezone"`

	// Zero values fall back to the supervisor defaults.
	PollInterval         time.Duration `koanf:"poll_interval"`
	MaxReconnectAttempts int           `koanf:"max_reconnect_attempts"`

	// InitialLookback is how far back the first hikvision event search reaches
	// when no checkpoint exists.
	InitialLookback time.Duration `koanf:"initial_lookback"`

	// PageSize is the hikvision search page size.
	PageSize int `koanf:"page_size"`

	// RequestsPerSecond paces paged hikvision requests. Zero disables pacing.
	RequestsPerSecond float64 `koanf:"requests_per_second"`

	Disabled bool `koanf:"disabled"`
}

// SupervisorConfig holds connection supervisor and suture tree settings.
type SupervisorConfig struct {
	PollInterval         time.Duration `koanf:"poll_interval"`
	MaxReconnectAttempts int           `koanf:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `koanf:"reconnect_delay"`
	MaxReconnectDelay    time.Duration `koanf:"max_reconnect_delay"`
	ShutdownGrace        time.Duration `koanf:"shutdown_grace"`
	SeenCacheSize        int           `koanf:"seen_cache_size"`
	SeenCacheTTL         time.Duration `koanf:"seen_cache_ttl"`

	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// IngestConfig holds pipeline settings.
type IngestConfig struct {
	// DedupWindow is the +/- tolerance for treating two scans as one.
	DedupWindow time.Duration `koanf:"dedup_window"`
}

// DatabaseConfig holds DuckDB settings for the members/checkins store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = DuckDB default
}

// CheckpointConfig holds the BadgerDB watermark store settings.
type CheckpointConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// CORSOrigins lists browser origins allowed to read the status API.
	// Empty disables cross-origin access.
	CORSOrigins []string `koanf:"cors_origins"`
}

// WebhookConfig holds push ingest settings.
type WebhookConfig struct {
	Enabled         bool          `koanf:"enabled"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
	Timezone        string        `koanf:"timezone"`
	Label           string        `koanf:"label"`

	// Username and Password enable HTTP Basic Auth on the push endpoints.
	// Leave Username empty for terminals that cannot send credentials.
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// NATSConfig holds check-in event publishing settings.
type NATSConfig struct {
	Enabled       bool          `koanf:"enabled"`
	URL           string        `koanf:"url"`
	Subject       string        `koanf:"subject"`
	Stream        string        `koanf:"stream"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`

	// Embedded runs an in-process JetStream server; URL is then ignored.
	Embedded     bool   `koanf:"embedded"`
	EmbeddedHost string `koanf:"embedded_host"`
	EmbeddedPort int    `koanf:"embedded_port"`
	StoreDir     string `koanf:"store_dir"`
}

// WALConfig holds the durable outbox in front of NATS publishing. Check-in
// events are written to BadgerDB first and removed once JetStream acks them.
type WALConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Path            string        `koanf:"path"`
	SyncWrites      bool          `koanf:"sync_writes"`
	RetryInterval   time.Duration `koanf:"retry_interval"`
	MaxRetries      int           `koanf:"max_retries"`
	RetryBackoff    time.Duration `koanf:"retry_backoff"`
	CompactInterval time.Duration `koanf:"compact_interval"`
	EntryTTL        time.Duration `koanf:"entry_ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// GetDevices returns the effective list of terminals with defaults applied.
// The devices list wins over the single device block when both are set.
func (c *Config) GetDevices() []DeviceConfig {
	var src []DeviceConfig
	switch {
	case len(c.Devices) > 0:
		src = c.Devices
	case c.Device.Host != "":
		src = []DeviceConfig{c.Device}
	default:
		return nil
	}

	devices := make([]DeviceConfig, 0, len(src))
	for i := range src {
		if src[i].Disabled {
			continue
		}
		devices = append(devices, c.withDeviceDefaults(src[i]))
	}
	return devices
}

//nolint:gocritic // DeviceConfig is copied on purpose so defaults never leak back
func (c *Config) withDeviceDefaults(d DeviceConfig) DeviceConfig {
	d.Vendor = strings.ToLower(strings.TrimSpace(d.Vendor))
	if d.Vendor == "" {
		d.Vendor = VendorZKTeco
	}
	if d.Port == 0 {
		d.Port = defaultPort(d.Vendor, d.UseTLS)
	}
	if d.Timeout <= 0 {
		d.Timeout = c.Device.Timeout
	}
	if d.PollInterval <= 0 {
		d.PollInterval = c.Supervisor.PollInterval
	}
	if d.MaxReconnectAttempts <= 0 {
		d.MaxReconnectAttempts = c.Supervisor.MaxReconnectAttempts
	}
	if d.InitialLookback <= 0 {
		d.InitialLookback = c.Device.InitialLookback
	}
	if d.PageSize <= 0 {
		d.PageSize = c.Device.PageSize
	}
	if d.Timezone == "" {
		d.Timezone = c.Device.Timezone
	}
	if d.ID == "" {
		d.ID = generateDeviceID(d.Vendor, d.Host)
	}
	return d
}

func defaultPort(vendor string, tls bool) int {
	switch {
	case vendor == VendorHikvision && tls:
		return 443
	case vendor == VendorHikvision:
		return 80
	default:
		return 4370
	}
}

// generateDeviceID derives a stable ID from vendor and host.
func generateDeviceID(vendor, host string) string {
	if host == "" {
		return vendor + "-default"
	}
	hash := uint32(0)
	for _, c := range host {
		hash = hash*31 + uint32(c)
	}
	return fmt.Sprintf("%s-%08x", vendor, hash)
}

// Location returns the device time zone, or time.Local when unset or unknown.
func (d *DeviceConfig) Location() *time.Location {
	return loadLocation(d.Timezone)
}

// Location returns the zone used for webhook timestamps without an offset.
func (w *WebhookConfig) Location() *time.Location {
	return loadLocation(w.Timezone)
}

func loadLocation(name string) *time.Location {
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}

// Address returns host:port.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
