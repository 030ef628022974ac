// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

/*
connection_supervisor.go - Per-device connection state machine and poll loop

	Disconnected --connect ok--> Connected --transport error--> Disconnected
	Disconnected --attempts == max--> Exhausted (terminal)

A ConnectionSupervisor owns one adapter. It runs on a single goroutine and
processes one batch at a time, so records from a device are ingested in the
order the device returned them.
*/

package sync

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/gymbridge/internal/cache"
	"github.com/tomtom215/gymbridge/internal/checkpoint"
	"github.com/tomtom215/gymbridge/internal/config"
	"github.com/tomtom215/gymbridge/internal/device"
	"github.com/tomtom215/gymbridge/internal/ingest"
	"github.com/tomtom215/gymbridge/internal/logging"
	"github.com/tomtom215/gymbridge/internal/metrics"
	"github.com/tomtom215/gymbridge/internal/models"
)

// ErrReconnectExhausted is returned by Run once max_reconnect_attempts
// consecutive reconnects have failed. The device needs operator attention.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// SessionState is the connection state of one device.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateExhausted
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Ingester runs one raw record through the ingest pipeline.
type Ingester interface {
	Process(ctx context.Context, source string, raw models.RawRecord, opts ingest.NormalizeOptions) *ingest.Result
}

// Checkpointer persists device watermarks. checkpoint.Store implements it.
type Checkpointer interface {
	Get(ctx context.Context, deviceID string) (*checkpoint.Watermark, error)
	Set(ctx context.Context, wm *checkpoint.Watermark) error
}

// watermarkSetter is implemented by adapters that can narrow their fetch.
type watermarkSetter interface {
	SetWatermark(t time.Time)
}

// SupervisorConfig configures a ConnectionSupervisor.
type SupervisorConfig struct {
	DeviceID   string
	DeviceName string
	Location   *time.Location

	PollInterval         time.Duration
	MaxReconnectAttempts int // <= 0 retries forever
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	ShutdownGrace        time.Duration

	SeenCacheSize int
	SeenCacheTTL  time.Duration

	// DedupWindow rewinds restored watermarks so events near the boundary
	// still reach the dedup guard.
	DedupWindow time.Duration
}

// ConfigFromDevice builds a SupervisorConfig from loaded configuration.
//
//nolint:gocritic // config blocks are copied by value
func ConfigFromDevice(dev config.DeviceConfig, sup config.SupervisorConfig, dedup time.Duration) SupervisorConfig {
	return SupervisorConfig{
		DeviceID:             dev.ID,
		DeviceName:           dev.Name,
		Location:             dev.Location(),
		PollInterval:         dev.PollInterval,
		MaxReconnectAttempts: dev.MaxReconnectAttempts,
		ReconnectDelay:       sup.ReconnectDelay,
		MaxReconnectDelay:    sup.MaxReconnectDelay,
		ShutdownGrace:        sup.ShutdownGrace,
		SeenCacheSize:        sup.SeenCacheSize,
		SeenCacheTTL:         sup.SeenCacheTTL,
		DedupWindow:          dedup,
	}
}

func (c *SupervisorConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = c.ReconnectDelay
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 5 * time.Second
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = ingest.DefaultDedupWindow
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

// ConnectionSupervisor keeps one device connected and polls it.
type ConnectionSupervisor struct {
	adapter     device.Adapter
	ingester    Ingester
	checkpoints Checkpointer
	cfg         SupervisorConfig
	seen        *cache.LRUCache
	log         zerolog.Logger
	now         func() time.Time

	mu          sync.RWMutex
	state       SessionState
	attempts    int
	nextAttempt time.Time
	lastKey     string
	lastPollAt  time.Time
	lastErr     string
	info        *models.DeviceInfo
	watermark   time.Time
}

// NewConnectionSupervisor creates a supervisor. checkpoints may be nil.
func NewConnectionSupervisor(adapter device.Adapter, ingester Ingester, checkpoints Checkpointer, cfg SupervisorConfig) *ConnectionSupervisor {
	cfg.applyDefaults()
	if cfg.DeviceID == "" {
		cfg.DeviceID = adapter.SourceID()
	}
	return &ConnectionSupervisor{
		adapter:     adapter,
		ingester:    ingester,
		checkpoints: checkpoints,
		cfg:         cfg,
		seen:        cache.NewLRUCache(cfg.SeenCacheSize, cfg.SeenCacheTTL),
		log:         logging.Component("device").With().Str("device", cfg.DeviceID).Str("vendor", string(adapter.Vendor())).Logger(),
		now:         time.Now,
		state:       StateDisconnected,
	}
}

// DeviceID returns the configured device id.
func (s *ConnectionSupervisor) DeviceID() string { return s.cfg.DeviceID }

// State returns the current connection state.
func (s *ConnectionSupervisor) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns a snapshot for the devices endpoint.
func (s *ConnectionSupervisor) Status() models.DeviceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := models.DeviceStatus{
		DeviceID:              s.cfg.DeviceID,
		Vendor:                s.adapter.Vendor(),
		State:                 s.state.String(),
		ReconnectAttempts:     s.attempts,
		MaxReconnectAttempts:  s.cfg.MaxReconnectAttempts,
		LastProcessedEventKey: s.lastKey,
		LastError:             s.lastErr,
		Info:                  s.info,
	}
	if !s.lastPollAt.IsZero() {
		t := s.lastPollAt
		st.LastPollAt = &t
	}
	return st
}

// Run connects and polls until ctx is canceled or reconnects are
// exhausted. On return the adapter is disconnected within ShutdownGrace.
func (s *ConnectionSupervisor) Run(ctx context.Context) error {
	defer s.shutdown()

	s.restoreWatermark(ctx)

	if s.connect(ctx) {
		s.poll(ctx)
	} else if ctx.Err() == nil {
		if s.recordFailedAttempt() {
			s.setState(StateExhausted)
			return ErrReconnectExhausted
		}
		s.scheduleReconnect()
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(s.cleanupInterval())
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cleanupTicker.C:
			s.seen.CleanupExpired()
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *ConnectionSupervisor) cleanupInterval() time.Duration {
	if s.cfg.SeenCacheTTL > 0 {
		return s.cfg.SeenCacheTTL / 2
	}
	return 5 * time.Minute
}

// tick runs one scheduling step. It returns ErrReconnectExhausted when the
// device is given up on.
func (s *ConnectionSupervisor) tick(ctx context.Context) error {
	switch s.State() {
	case StateConnected:
		s.poll(ctx)
	case StateDisconnected:
		s.mu.RLock()
		due := !s.now().Before(s.nextAttempt)
		s.mu.RUnlock()
		if !due {
			return nil
		}
		if s.connect(ctx) {
			s.poll(ctx)
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if s.recordFailedAttempt() {
			s.setState(StateExhausted)
			return ErrReconnectExhausted
		}
		s.scheduleReconnect()
	case StateExhausted:
		return ErrReconnectExhausted
	}
	return nil
}

// connect attempts one session open and reports success.
func (s *ConnectionSupervisor) connect(ctx context.Context) bool {
	s.setState(StateConnecting)

	if err := s.adapter.Connect(ctx); err != nil {
		s.mu.Lock()
		s.lastErr = err.Error()
		s.mu.Unlock()
		s.log.Warn().Err(err).Msg("Device connect failed")
		s.setState(StateDisconnected)
		return false
	}

	s.mu.Lock()
	s.attempts = 0
	s.lastErr = ""
	s.mu.Unlock()
	metrics.DeviceReconnectAttempts.WithLabelValues(s.cfg.DeviceID).Set(0)
	s.setState(StateConnected)

	info, err := s.adapter.GetDeviceInfo(ctx)
	if err != nil {
		s.log.Debug().Err(err).Msg("Device info unavailable")
	} else {
		s.mu.Lock()
		s.info = info
		s.mu.Unlock()
	}
	return true
}

// recordFailedAttempt bumps the counter and reports whether the limit is hit.
func (s *ConnectionSupervisor) recordFailedAttempt() bool {
	s.mu.Lock()
	s.attempts++
	attempts := s.attempts
	s.mu.Unlock()

	metrics.DeviceReconnectAttempts.WithLabelValues(s.cfg.DeviceID).Set(float64(attempts))
	return s.cfg.MaxReconnectAttempts > 0 && attempts >= s.cfg.MaxReconnectAttempts
}

func (s *ConnectionSupervisor) scheduleReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAttempt = s.now().Add(s.backoff(s.attempts))
}

// backoff doubles from ReconnectDelay per failed attempt, capped at
// MaxReconnectDelay.
func (s *ConnectionSupervisor) backoff(attempts int) time.Duration {
	d := s.cfg.ReconnectDelay
	for i := 0; i < attempts && d < s.cfg.MaxReconnectDelay; i++ {
		d *= 2
	}
	if d > s.cfg.MaxReconnectDelay {
		d = s.cfg.MaxReconnectDelay
	}
	return d
}

// poll fetches one batch and runs it through the pipeline.
func (s *ConnectionSupervisor) poll(ctx context.Context) {
	start := s.now()
	records, err := s.adapter.ListAttendanceEvents(ctx)
	metrics.RecordDevicePoll(s.cfg.DeviceID, len(records), time.Since(start), err)

	s.mu.Lock()
	s.lastPollAt = start
	s.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		s.lastErr = err.Error()
		s.mu.Unlock()

		if device.IsConnectionError(err) || errors.Is(err, device.ErrNotConnected) {
			s.log.Warn().Err(err).Msg("Device poll failed, dropping session")
			s.dropSession()
			return
		}
		s.log.Error().Err(err).Msg("Device poll failed")
		return
	}

	s.processBatch(ctx, records)
}

// dropSession closes the adapter and marks the device Disconnected so the
// next tick reconnects immediately.
func (s *ConnectionSupervisor) dropSession() {
	dctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	if err := s.adapter.Disconnect(dctx); err != nil {
		s.log.Debug().Err(err).Msg("Disconnect after failure")
	}

	s.mu.Lock()
	s.nextAttempt = s.now()
	s.mu.Unlock()
	s.setState(StateDisconnected)
}

func (s *ConnectionSupervisor) normalizeOptions() ingest.NormalizeOptions {
	return ingest.NormalizeOptions{
		DeviceID:   s.cfg.DeviceID,
		DeviceName: s.cfg.DeviceName,
		Location:   s.cfg.Location,
	}
}

// processBatch ingests records in device order. Only records already in
// the seen cache are short-circuited; everything else, including records
// older than the watermark, goes through the pipeline and its dedup guard.
// The watermark advances to the newest handled event, but never past the
// oldest failed one.
func (s *ConnectionSupervisor) processBatch(ctx context.Context, records []models.RawRecord) {
	opts := s.normalizeOptions()

	s.mu.RLock()
	watermark := s.watermark
	s.mu.RUnlock()

	var (
		high, lowFail time.Time
		failed        bool
		handled       int
		behind        int
	)
	for _, raw := range records {
		if ctx.Err() != nil {
			return
		}

		rkey := ""
		if ev, err := ingest.Normalize(raw, opts); err == nil {
			key := ev.Key()
			s.mu.RLock()
			last := s.lastKey
			s.mu.RUnlock()
			if key == last || s.seen.Contains(key) {
				if ev.Timestamp.After(high) {
					high = ev.Timestamp
				}
				continue
			}
		} else if rkey = rejectKey(raw); rkey != "" && s.seen.Contains(rkey) {
			continue
		}

		res := s.ingester.Process(ctx, ingest.SourcePoll, raw, opts)
		handled++
		if res.Event == nil {
			if rkey != "" {
				s.seen.Add(rkey, s.now())
			}
			continue
		}
		ts := res.Event.Timestamp
		if res.Outcome == ingest.OutcomeProcessed && !watermark.IsZero() && ts.Before(watermark) {
			behind++
		}

		if res.Outcome == ingest.OutcomeFailed {
			if !failed || ts.Before(lowFail) {
				lowFail = ts
			}
			failed = true
			continue
		}

		key := res.Event.Key()
		s.seen.Add(key, ts)
		s.mu.Lock()
		s.lastKey = key
		s.mu.Unlock()
		if ts.After(high) {
			high = ts
		}
	}

	if handled > 0 {
		s.log.Debug().Int("records", len(records)).Int("handled", handled).Msg("Poll batch processed")
	}
	if behind > 0 {
		s.log.Warn().
			Int("records", behind).
			Time("watermark", watermark).
			Msg("Recorded check-ins older than the device watermark, device clock may have been set back")
	}

	next := high
	if failed && !lowFail.After(next) {
		next = lowFail.Add(-time.Nanosecond)
	}
	s.advanceWatermark(ctx, next)
}

// restoreWatermark loads the persisted watermark and hands it to adapters
// that can narrow their fetch window.
func (s *ConnectionSupervisor) restoreWatermark(ctx context.Context) {
	if s.checkpoints == nil {
		return
	}
	wm, err := s.checkpoints.Get(ctx, s.cfg.DeviceID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to load device watermark")
		return
	}

	s.mu.Lock()
	s.watermark = wm.EventTime
	s.lastKey = wm.LastEventKey
	s.mu.Unlock()
	s.pushWatermark(wm.EventTime)

	s.log.Info().Time("watermark", wm.EventTime).Msg("Restored device watermark")
}

func (s *ConnectionSupervisor) advanceWatermark(ctx context.Context, next time.Time) {
	s.mu.Lock()
	if next.IsZero() || !next.After(s.watermark) {
		s.mu.Unlock()
		return
	}
	s.watermark = next
	lastKey := s.lastKey
	s.mu.Unlock()

	s.pushWatermark(next)

	if s.checkpoints == nil {
		return
	}
	err := s.checkpoints.Set(ctx, &checkpoint.Watermark{
		DeviceID:     s.cfg.DeviceID,
		EventTime:    next,
		LastEventKey: lastKey,
	})
	metrics.RecordCheckpointWrite(s.cfg.DeviceID, err)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to persist device watermark")
	}
}

// rejectKey identifies a record the normalizer rejects so it is not
// re-run through the pipeline on every poll. Empty means not keyable.
func rejectKey(raw models.RawRecord) string {
	switch r := raw.(type) {
	case *models.HikvisionEvent:
		if r.Time == "" {
			return ""
		}
		return "reject|" + r.Source + "|" + string(r.SerialNo) + "|" + r.Time + "|" + string(r.Minor)
	case *models.ZKAttendance:
		if r.Timestamp.IsZero() {
			return ""
		}
		return "reject|" + r.Source + "|" + strconv.Itoa(int(r.UserSN)) + "|" + r.Timestamp.Format(time.RFC3339)
	default:
		return ""
	}
}

func (s *ConnectionSupervisor) pushWatermark(t time.Time) {
	if ws, ok := s.adapter.(watermarkSetter); ok {
		ws.SetWatermark(t.Add(-s.cfg.DedupWindow))
	}
}

func (s *ConnectionSupervisor) setState(to SessionState) {
	s.mu.Lock()
	from := s.state
	s.state = to
	attempts := s.attempts
	s.mu.Unlock()

	if from == to {
		return
	}
	metrics.RecordDeviceTransition(s.cfg.DeviceID, from.String(), to.String(), float64(to))

	if to == StateExhausted {
		s.log.Error().
			Str("from", from.String()).
			Str("to", to.String()).
			Int("attempts", attempts).
			Bool("terminal", true).
			Msg("Device reconnect attempts exhausted, giving up")
		return
	}
	s.log.Info().
		Str("from", from.String()).
		Str("to", to.String()).
		Int("attempts", attempts).
		Msg("Device state changed")
}

// shutdown disconnects with a fresh context so cancellation of the run
// context does not skip the session close.
func (s *ConnectionSupervisor) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()

	if err := s.adapter.Disconnect(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Device disconnect failed during shutdown")
	}
	if s.State() != StateExhausted {
		s.setState(StateDisconnected)
	}
	s.log.Info().Msg("Device supervisor stopped")
}
