// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package sync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/gymbridge/internal/checkpoint"
	"github.com/tomtom215/gymbridge/internal/config"
	"github.com/tomtom215/gymbridge/internal/device"
	"github.com/tomtom215/gymbridge/internal/ingest"
	"github.com/tomtom215/gymbridge/internal/models"
)

// mockAdapter is a scriptable device.Adapter.
type mockAdapter struct {
	mu         sync.Mutex
	connectErr error
	connectFn  func(call int32) error
	listFn     func(ctx context.Context, call int32) ([]models.RawRecord, error)
	watermark  time.Time

	connects    atomic.Int32
	disconnects atomic.Int32
	lists       atomic.Int32

	disconnectCtxDone atomic.Bool
}

func (m *mockAdapter) Vendor() models.Vendor { return models.VendorZKTeco }
func (m *mockAdapter) SourceID() string      { return "10.0.0.5" }

func (m *mockAdapter) Connect(_ context.Context) error {
	n := m.connects.Add(1)
	if m.connectFn != nil {
		return m.connectFn(n)
	}
	return m.connectErr
}

func (m *mockAdapter) GetDeviceInfo(_ context.Context) (*models.DeviceInfo, error) {
	return &models.DeviceInfo{Vendor: models.VendorZKTeco, Serial: "SN1"}, nil
}

func (m *mockAdapter) ListUsers(_ context.Context) ([]models.DeviceUser, error) { return nil, nil }

func (m *mockAdapter) ListAttendanceEvents(ctx context.Context) ([]models.RawRecord, error) {
	n := m.lists.Add(1)
	if m.listFn != nil {
		return m.listFn(ctx, n)
	}
	return nil, nil
}

func (m *mockAdapter) Disconnect(ctx context.Context) error {
	m.disconnects.Add(1)
	if ctx.Err() != nil {
		m.disconnectCtxDone.Store(true)
	}
	return nil
}

func (m *mockAdapter) SetWatermark(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermark = t
}

func (m *mockAdapter) Watermark() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watermark
}

// fakeIngester records processed user ids and fails the configured ones.
type fakeIngester struct {
	mu        sync.Mutex
	processed []string
	fail      map[string]bool
}

func (f *fakeIngester) Process(_ context.Context, _ string, raw models.RawRecord, opts ingest.NormalizeOptions) *ingest.Result {
	ev, err := ingest.Normalize(raw, opts)
	if err != nil {
		return &ingest.Result{Outcome: ingest.OutcomeSkippedInvalid}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, ev.DeviceUserID)
	if f.fail[ev.DeviceUserID] {
		return &ingest.Result{Outcome: ingest.OutcomeFailed, Event: ev, Err: errors.New("store down")}
	}
	return &ingest.Result{Outcome: ingest.OutcomeProcessed, Event: ev}
}

func (f *fakeIngester) Processed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.processed...)
}

var base = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func rec(user string, at time.Time) models.RawRecord {
	return &models.ZKAttendance{UserID: user, Timestamp: at, Source: "10.0.0.5"}
}

func fastConfig() SupervisorConfig {
	return SupervisorConfig{
		DeviceID:             "front",
		DeviceName:           "Front Door",
		Location:             time.UTC,
		PollInterval:         5 * time.Millisecond,
		MaxReconnectAttempts: 3,
		ReconnectDelay:       time.Millisecond,
		MaxReconnectDelay:    2 * time.Millisecond,
		ShutdownGrace:        time.Second,
		SeenCacheSize:        100,
		SeenCacheTTL:         time.Hour,
	}
}

func newInMemoryCheckpoints(t *testing.T) *checkpoint.Store {
	t.Helper()
	s, err := checkpoint.Open(config.CheckpointConfig{Enabled: true, InMemory: true})
	if err != nil {
		t.Fatalf("checkpoint.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionState_String(t *testing.T) {
	t.Parallel()
	tests := map[SessionState]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateExhausted:    "exhausted",
		SessionState(42):  "unknown",
	}
	for st, want := range tests {
		if st.String() != want {
			t.Errorf("%d.String() = %q, want %q", st, st.String(), want)
		}
	}
}

func TestConnectionSupervisor_ExhaustsAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	adapter := &mockAdapter{connectErr: &device.ConnectionError{Device: "front", Op: "connect", Err: errors.New("no route")}}
	s := NewConnectionSupervisor(adapter, &fakeIngester{}, nil, fastConfig())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrReconnectExhausted) {
			t.Fatalf("Run = %v, want ErrReconnectExhausted", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not give up")
	}

	// The failed start-up connect counts, so three failures is the limit
	// and a fourth connect is never attempted.
	if got := adapter.connects.Load(); got != 3 {
		t.Errorf("connect calls = %d, want 3", got)
	}
	if s.State() != StateExhausted {
		t.Errorf("state = %s", s.State())
	}
	st := s.Status()
	if st.ReconnectAttempts != 3 || st.LastError == "" {
		t.Errorf("status = %+v", st)
	}
	if adapter.disconnects.Load() == 0 {
		t.Error("shutdown must disconnect")
	}
}

func TestConnectionSupervisor_SingleAttemptLimit(t *testing.T) {
	t.Parallel()
	adapter := &mockAdapter{connectErr: errors.New("connection refused")}
	cfg := fastConfig()
	cfg.MaxReconnectAttempts = 1
	s := NewConnectionSupervisor(adapter, &fakeIngester{}, nil, cfg)

	if err := s.Run(context.Background()); !errors.Is(err, ErrReconnectExhausted) {
		t.Fatalf("Run = %v, want ErrReconnectExhausted", err)
	}
	if got := adapter.connects.Load(); got != 1 {
		t.Errorf("connect calls = %d, want 1", got)
	}
}

func TestConnectionSupervisor_RecoversAfterFailedStartup(t *testing.T) {
	t.Parallel()
	adapter := &mockAdapter{connectFn: func(call int32) error {
		if call == 1 {
			return &device.ConnectionError{Device: "front", Op: "connect", Err: errors.New("no route")}
		}
		return nil
	}}
	s := NewConnectionSupervisor(adapter, &fakeIngester{}, nil, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	waitFor(t, "connected after retry", func() bool { return s.State() == StateConnected })
	if got := s.Status().ReconnectAttempts; got != 0 {
		t.Errorf("attempts = %d, want reset to 0", got)
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestConnectionSupervisor_TimeoutMidPollReconnects(t *testing.T) {
	t.Parallel()
	adapter := &mockAdapter{}
	adapter.listFn = func(_ context.Context, call int32) ([]models.RawRecord, error) {
		if call == 2 {
			return nil, &device.ConnectionError{Device: "front", Op: "read", Err: context.DeadlineExceeded}
		}
		return nil, nil
	}
	s := NewConnectionSupervisor(adapter, &fakeIngester{}, nil, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	waitFor(t, "reconnect after timeout", func() bool { return adapter.connects.Load() >= 2 })
	waitFor(t, "polling to resume", func() bool { return adapter.lists.Load() >= 4 })

	select {
	case err := <-errCh:
		t.Fatalf("Run exited after a transient timeout: %v", err)
	default:
	}
	if s.State() != StateConnected {
		t.Errorf("state = %s, want connected", s.State())
	}
	if s.Status().ReconnectAttempts != 0 {
		t.Error("successful reconnect must reset attempts")
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestConnectionSupervisor_TransportErrorDisconnects(t *testing.T) {
	t.Parallel()
	adapter := &mockAdapter{}
	s := NewConnectionSupervisor(adapter, &fakeIngester{}, nil, fastConfig())
	s.setState(StateConnected)

	adapter.listFn = func(context.Context, int32) ([]models.RawRecord, error) {
		return nil, &device.ConnectionError{Device: "front", Op: "read", Err: errors.New("i/o timeout")}
	}
	s.poll(context.Background())

	if s.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", s.State())
	}
	if adapter.disconnects.Load() != 1 {
		t.Errorf("disconnects = %d", adapter.disconnects.Load())
	}
	s.mu.RLock()
	due := !s.now().Before(s.nextAttempt)
	s.mu.RUnlock()
	if !due {
		t.Error("reconnect should be due on the next tick")
	}
}

func TestConnectionSupervisor_NonTransportErrorStaysConnected(t *testing.T) {
	t.Parallel()
	adapter := &mockAdapter{listFn: func(context.Context, int32) ([]models.RawRecord, error) {
		return nil, errors.New("unexpected reply")
	}}
	s := NewConnectionSupervisor(adapter, &fakeIngester{}, nil, fastConfig())
	s.setState(StateConnected)

	s.poll(context.Background())
	if s.State() != StateConnected {
		t.Errorf("state = %s", s.State())
	}
	if s.Status().LastError != "unexpected reply" {
		t.Errorf("last error = %q", s.Status().LastError)
	}
}

func TestConnectionSupervisor_ShutdownWhileBusy(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	adapter := &mockAdapter{}
	adapter.listFn = func(ctx context.Context, _ int32) ([]models.RawRecord, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := NewConnectionSupervisor(adapter, &fakeIngester{}, nil, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	<-started
	cancel()

	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop while a poll was in flight")
	}
	if adapter.disconnects.Load() != 1 {
		t.Errorf("disconnects = %d, want exactly the shutdown close", adapter.disconnects.Load())
	}
	if adapter.disconnectCtxDone.Load() {
		t.Error("shutdown disconnect must use a live context")
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %s", s.State())
	}
}

func TestConnectionSupervisor_BatchOrderAndSeenCache(t *testing.T) {
	t.Parallel()
	adapter := &mockAdapter{}
	ing := &fakeIngester{}
	cps := newInMemoryCheckpoints(t)
	s := NewConnectionSupervisor(adapter, ing, cps, fastConfig())

	batch := []models.RawRecord{
		rec("7", base),
		rec("8", base.Add(time.Minute)),
		rec("", base.Add(2*time.Minute)),
		rec("9", base.Add(3*time.Minute)),
	}
	ctx := context.Background()
	s.processBatch(ctx, batch)
	s.processBatch(ctx, batch)

	got := ing.Processed()
	want := []string{"7", "8", "9"}
	if len(got) != len(want) {
		t.Fatalf("processed = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("processed[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	wm, err := cps.Get(ctx, "front")
	if err != nil {
		t.Fatalf("checkpoint Get: %v", err)
	}
	if !wm.EventTime.Equal(base.Add(3 * time.Minute)) {
		t.Errorf("watermark = %v", wm.EventTime)
	}
	if s.Status().LastProcessedEventKey != "9|2024-01-01T09:03:00Z" {
		t.Errorf("last key = %q", s.Status().LastProcessedEventKey)
	}
	if !adapter.Watermark().Equal(base.Add(3*time.Minute - ingest.DefaultDedupWindow)) {
		t.Errorf("adapter watermark = %v", adapter.Watermark())
	}
}

func TestConnectionSupervisor_WatermarkStopsAtFailure(t *testing.T) {
	t.Parallel()
	adapter := &mockAdapter{}
	ing := &fakeIngester{fail: map[string]bool{"8": true}}
	cps := newInMemoryCheckpoints(t)
	s := NewConnectionSupervisor(adapter, ing, cps, fastConfig())
	ctx := context.Background()

	batch := []models.RawRecord{
		rec("7", base),
		rec("8", base.Add(10*time.Minute)),
		rec("9", base.Add(20*time.Minute)),
	}
	s.processBatch(ctx, batch)

	wm, err := cps.Get(ctx, "front")
	if err != nil {
		t.Fatalf("checkpoint Get: %v", err)
	}
	if !wm.EventTime.Before(base.Add(10 * time.Minute)) {
		t.Errorf("watermark %v moved past the failed event", wm.EventTime)
	}

	// The failed record is retried, the others are not.
	ing.fail = nil
	s.processBatch(ctx, batch)
	got := ing.Processed()
	if len(got) != 4 || got[3] != "8" {
		t.Errorf("processed = %v, want retry of 8 only", got)
	}
	wm, _ = cps.Get(ctx, "front")
	if !wm.EventTime.Equal(base.Add(20 * time.Minute)) {
		t.Errorf("watermark = %v after retry", wm.EventTime)
	}
}

func TestConnectionSupervisor_RestoreWatermarkStillIngestsUnseen(t *testing.T) {
	t.Parallel()
	cps := newInMemoryCheckpoints(t)
	ctx := context.Background()
	stored := base.Add(time.Hour)
	if err := cps.Set(ctx, &checkpoint.Watermark{DeviceID: "front", EventTime: stored}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	adapter := &mockAdapter{}
	ing := &fakeIngester{}
	s := NewConnectionSupervisor(adapter, ing, cps, fastConfig())
	s.restoreWatermark(ctx)

	if !adapter.Watermark().Equal(stored.Add(-time.Minute)) {
		t.Errorf("adapter watermark = %v", adapter.Watermark())
	}

	// Nothing is in the seen cache after a restart, so every record reaches
	// ingest and the dedup guard decides. The watermark only moves forward.
	batch := []models.RawRecord{
		rec("1", base),
		rec("2", stored.Add(-30*time.Second)),
		rec("3", stored.Add(time.Minute)),
	}
	s.processBatch(ctx, batch)
	s.processBatch(ctx, batch)
	got := ing.Processed()
	if len(got) != 3 || got[0] != "1" || got[1] != "2" || got[2] != "3" {
		t.Errorf("processed = %v", got)
	}
	wm, err := cps.Get(ctx, "front")
	if err != nil {
		t.Fatalf("checkpoint Get: %v", err)
	}
	if !wm.EventTime.Equal(stored.Add(time.Minute)) {
		t.Errorf("watermark = %v", wm.EventTime)
	}
}

func TestConnectionSupervisor_DeviceClockSetBack(t *testing.T) {
	t.Parallel()
	noon := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	late := rec("1", noon)
	adapter := &mockAdapter{}
	adapter.listFn = func(_ context.Context, call int32) ([]models.RawRecord, error) {
		if call == 1 {
			return []models.RawRecord{late}, nil
		}
		// The terminal clock was corrected to 09:00 after the first scan.
		return []models.RawRecord{late, rec("2", noon.Add(-175*time.Minute))}, nil
	}
	ing := &fakeIngester{}
	cps := newInMemoryCheckpoints(t)
	s := NewConnectionSupervisor(adapter, ing, cps, fastConfig())
	s.setState(StateConnected)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.poll(ctx)
	}

	got := ing.Processed()
	if len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("processed = %v, want [1 2]", got)
	}
	wm, err := cps.Get(ctx, "front")
	if err != nil {
		t.Fatalf("checkpoint Get: %v", err)
	}
	if !wm.EventTime.Equal(noon) {
		t.Errorf("watermark = %v, want it to stay at %v", wm.EventTime, noon)
	}
}

func TestRejectKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		raw   models.RawRecord
		empty bool
	}{
		{"hikvision door event", &models.HikvisionEvent{Time: "2024-01-01T09:00:00+00:00", SerialNo: "17", Source: "10.0.0.9"}, false},
		{"hikvision without time", &models.HikvisionEvent{SerialNo: "17"}, true},
		{"zk without user", &models.ZKAttendance{Timestamp: base, UserSN: 4}, false},
		{"zk without time", &models.ZKAttendance{UserSN: 4}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := rejectKey(tt.raw); (got == "") != tt.empty {
				t.Errorf("rejectKey = %q", got)
			}
		})
	}
}

func TestConnectionSupervisor_Backoff(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.ReconnectDelay = time.Second
	cfg.MaxReconnectDelay = 10 * time.Second
	s := NewConnectionSupervisor(&mockAdapter{}, &fakeIngester{}, nil, cfg)

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{40, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := s.backoff(tt.attempts); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestConnectionSupervisor_StatusAndDefaults(t *testing.T) {
	t.Parallel()
	adapter := &mockAdapter{}
	s := NewConnectionSupervisor(adapter, &fakeIngester{}, nil, SupervisorConfig{})

	if s.DeviceID() != "10.0.0.5" {
		t.Errorf("device id = %q, want adapter source", s.DeviceID())
	}
	if s.cfg.PollInterval != 5*time.Second || s.cfg.DedupWindow != time.Minute {
		t.Errorf("defaults = %+v", s.cfg)
	}

	if !s.connect(context.Background()) {
		t.Fatal("connect failed")
	}
	st := s.Status()
	if st.State != "connected" || st.Info == nil || st.Info.Serial != "SN1" || st.Vendor != models.VendorZKTeco {
		t.Errorf("status = %+v", st)
	}
	if st.LastPollAt != nil {
		t.Error("LastPollAt should be nil before the first poll")
	}
}

func TestConfigFromDevice(t *testing.T) {
	t.Parallel()
	dev := config.DeviceConfig{ID: "d1", Name: "Gate", Timezone: "UTC", PollInterval: 2 * time.Second, MaxReconnectAttempts: 4}
	sup := config.SupervisorConfig{ReconnectDelay: time.Second, MaxReconnectDelay: 8 * time.Second, ShutdownGrace: 3 * time.Second, SeenCacheSize: 50, SeenCacheTTL: time.Minute}

	cfg := ConfigFromDevice(dev, sup, 90*time.Second)
	if cfg.DeviceID != "d1" || cfg.DeviceName != "Gate" || cfg.PollInterval != 2*time.Second ||
		cfg.MaxReconnectAttempts != 4 || cfg.DedupWindow != 90*time.Second || cfg.Location != time.UTC {
		t.Errorf("cfg = %+v", cfg)
	}
}
