// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/gymbridge/internal/database"
	"github.com/tomtom215/gymbridge/internal/models"
)

// memStore is an in-memory Store. It mirrors the database contract: an
// inclusive window query and a per-minute unique bucket per member.
type memStore struct {
	mu       sync.Mutex
	members  []models.Member
	checkIns []models.CheckIn

	findErr   error
	windowErr error
	insertErr error
	updateErr error

	inserts atomic.Int32
	updates atomic.Int32
}

func newMemStore(members ...models.Member) *memStore {
	return &memStore{members: members}
}

func (s *memStore) FindMembersByExternalID(_ context.Context, externalID string) ([]models.Member, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Member
	for _, m := range s.members {
		if strings.TrimSpace(m.MemberID) == externalID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) FindCheckInsInWindow(_ context.Context, memberID string, from, to time.Time) ([]models.CheckIn, error) {
	if s.windowErr != nil {
		return nil, s.windowErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CheckIn
	for _, c := range s.checkIns {
		if c.MemberID == memberID && !c.CheckInTime.Before(from) && !c.CheckInTime.After(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) InsertCheckIn(_ context.Context, c *models.CheckIn) (*models.CheckIn, error) {
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.checkIns {
		if existing.MemberID == c.MemberID && existing.CheckInTime.Unix()/60 == c.CheckInTime.Unix()/60 {
			return nil, database.ErrDuplicateCheckIn
		}
	}
	row := *c
	row.ID = "c" + string(rune('a'+len(s.checkIns)))
	s.checkIns = append(s.checkIns, row)
	s.inserts.Add(1)
	return &row, nil
}

func (s *memStore) UpdateMemberLastSeen(_ context.Context, memberID string, seen time.Time, inc int) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.members {
		if s.members[i].ID == memberID {
			v := s.members[i].Visits() + inc
			t := seen
			s.members[i].TotalVisits = &v
			s.members[i].LastSeen = &t
			s.updates.Add(1)
			return nil
		}
	}
	return database.ErrMemberNotFound
}

func (s *memStore) member(id string) models.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.ID == id {
			return m
		}
	}
	return models.Member{}
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.checkIns)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.CheckInRecorded
	err    error
}

func (p *recordingPublisher) PublishCheckIn(_ context.Context, ev *models.CheckInRecorded) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

var scanTime = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func zkRecord(user string, at time.Time) *models.ZKAttendance {
	return &models.ZKAttendance{UserID: user, Timestamp: at, Source: "10.0.0.5"}
}

var zkOpts = NormalizeOptions{DeviceID: "front", DeviceName: "Front Door", Location: time.UTC}

func TestPipeline_WritesBiometricCheckIn(t *testing.T) {
	t.Parallel()
	store := newMemStore(models.Member{ID: "m1", MemberID: "7", Name: "Ann"})
	p := NewPipeline(store, PipelineConfig{})

	res := p.Process(context.Background(), SourcePoll, zkRecord("7", scanTime), zkOpts)
	if res.Outcome != OutcomeProcessed {
		t.Fatalf("outcome = %s (%v)", res.Outcome, res.Err)
	}
	c := res.CheckIn
	if c.MemberID != "m1" || c.EntryMethod != models.EntryMethodBiometric || !c.CheckInTime.Equal(scanTime) {
		t.Errorf("check-in = %+v", c)
	}
	if c.ScannerID != "7" || c.DeviceName != "Front Door" || c.Notes != "zkteco front" {
		t.Errorf("traceability fields = %+v", c)
	}

	m := store.member("m1")
	if m.Visits() != 1 || m.LastSeen == nil || !m.LastSeen.Equal(scanTime) {
		t.Errorf("member = %+v", m)
	}
	if res.TotalVisits != 1 {
		t.Errorf("TotalVisits = %d", res.TotalVisits)
	}
}

func TestPipeline_DedupWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		replayAfter time.Duration
		wantOutcome Outcome
		wantRows    int
	}{
		{"replay after 30s is duplicate", 30 * time.Second, OutcomeSkippedDuplicate, 1},
		{"exact duplicate", 0, OutcomeSkippedDuplicate, 1},
		{"boundary at 60s is duplicate", 60 * time.Second, OutcomeSkippedDuplicate, 1},
		{"boundary 60s before is duplicate", -60 * time.Second, OutcomeSkippedDuplicate, 1},
		{"61s later is written", 61 * time.Second, OutcomeProcessed, 2},
		{"replay after 2m is written", 2 * time.Minute, OutcomeProcessed, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := newMemStore(models.Member{ID: "m1", MemberID: "7"})
			p := NewPipeline(store, PipelineConfig{})
			ctx := context.Background()

			if res := p.Process(ctx, SourcePoll, zkRecord("7", scanTime), zkOpts); res.Outcome != OutcomeProcessed {
				t.Fatalf("first outcome = %s", res.Outcome)
			}
			res := p.Process(ctx, SourcePoll, zkRecord("7", scanTime.Add(tt.replayAfter)), zkOpts)
			if res.Outcome != tt.wantOutcome {
				t.Errorf("outcome = %s, want %s", res.Outcome, tt.wantOutcome)
			}
			if store.count() != tt.wantRows {
				t.Errorf("rows = %d, want %d", store.count(), tt.wantRows)
			}
		})
	}
}

func TestPipeline_IdempotentReplay(t *testing.T) {
	t.Parallel()
	store := newMemStore(
		models.Member{ID: "m1", MemberID: "7"},
		models.Member{ID: "m2", MemberID: "8"},
	)
	p := NewPipeline(store, PipelineConfig{})
	ctx := context.Background()

	batch := []models.RawRecord{
		zkRecord("7", scanTime),
		zkRecord("8", scanTime.Add(10*time.Second)),
		zkRecord("7", scanTime.Add(3*time.Hour)),
	}
	for round := 0; round < 3; round++ {
		for _, raw := range batch {
			p.Process(ctx, SourcePoll, raw, zkOpts)
		}
	}

	if store.count() != 3 {
		t.Errorf("rows = %d after replays, want 3", store.count())
	}
	if v := store.member("m1"); v.Visits() != 2 {
		t.Errorf("m1 visits = %d, want 2", v.Visits())
	}
}

func TestPipeline_SkipReasons(t *testing.T) {
	t.Parallel()
	store := newMemStore(
		models.Member{ID: "m1", MemberID: "7"},
		models.Member{ID: "m2", MemberID: "9"},
		models.Member{ID: "m3", MemberID: "9"},
	)
	p := NewPipeline(store, PipelineConfig{})
	ctx := context.Background()

	tests := []struct {
		name    string
		raw     models.RawRecord
		want    Outcome
		message string
	}{
		{"no user", zkRecord("", scanTime), OutcomeSkippedNoUser, "skipped: no employee number"},
		{"invalid time", zkRecord("7", time.Time{}), OutcomeSkippedInvalid, "skipped: invalid record"},
		{"not found", zkRecord("42", scanTime), OutcomeSkippedNotFound, "skipped: member not found"},
		{"ambiguous id", zkRecord("9", scanTime), OutcomeSkippedNotFound, "skipped: member not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Process(ctx, SourcePoll, tt.raw, zkOpts)
			if res.Outcome != tt.want {
				t.Errorf("outcome = %s, want %s", res.Outcome, tt.want)
			}
			if res.Message() != tt.message {
				t.Errorf("message = %q, want %q", res.Message(), tt.message)
			}
			if !res.Skipped() || res.Err != nil {
				t.Errorf("skip must not carry an error: %+v", res)
			}
		})
	}
	if store.count() != 0 {
		t.Errorf("rows = %d, want 0", store.count())
	}
}

func TestPipeline_StoreFailures(t *testing.T) {
	t.Parallel()
	boom := errors.New("disk on fire")

	tests := []struct {
		name  string
		setup func(*memStore)
	}{
		{"resolver query", func(s *memStore) { s.findErr = boom }},
		{"dedup query", func(s *memStore) { s.windowErr = boom }},
		{"insert", func(s *memStore) { s.insertErr = boom }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := newMemStore(models.Member{ID: "m1", MemberID: "7"})
			tt.setup(store)
			p := NewPipeline(store, PipelineConfig{})

			res := p.Process(context.Background(), SourcePoll, zkRecord("7", scanTime), zkOpts)
			if res.Outcome != OutcomeFailed || !errors.Is(res.Err, boom) {
				t.Errorf("res = %s %v", res.Outcome, res.Err)
			}
			if res.Message() != "error: database failure" {
				t.Errorf("message = %q", res.Message())
			}
		})
	}
}

func TestPipeline_MemberUpdateFailureKeepsCheckIn(t *testing.T) {
	t.Parallel()
	store := newMemStore(models.Member{ID: "m1", MemberID: "7"})
	store.updateErr = errors.New("locked")
	p := NewPipeline(store, PipelineConfig{})

	res := p.Process(context.Background(), SourcePoll, zkRecord("7", scanTime), zkOpts)
	if res.Outcome != OutcomeProcessed {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if store.count() != 1 {
		t.Errorf("insert must not be rolled back, rows = %d", store.count())
	}
	if res.TotalVisits != 0 {
		t.Errorf("TotalVisits = %d, want unchanged 0", res.TotalVisits)
	}
}

func TestPipeline_InsertConflictIsDuplicate(t *testing.T) {
	t.Parallel()
	store := newMemStore(models.Member{ID: "m1", MemberID: "7"})
	store.insertErr = database.ErrDuplicateCheckIn
	p := NewPipeline(store, PipelineConfig{})

	res := p.Process(context.Background(), SourcePoll, zkRecord("7", scanTime), zkOpts)
	if res.Outcome != OutcomeSkippedDuplicate {
		t.Errorf("outcome = %s, want duplicate", res.Outcome)
	}
	if store.updates.Load() != 0 {
		t.Error("member must not be updated for a duplicate")
	}
}

func TestPipeline_ConcurrentSameMember(t *testing.T) {
	t.Parallel()
	store := newMemStore(models.Member{ID: "m1", MemberID: "7"})
	p := NewPipeline(store, PipelineConfig{})

	// Poll and webhook racing on the same physical scan.
	var wg sync.WaitGroup
	var processed atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := scanTime.Add(time.Duration(i%3) * time.Second)
			if p.Process(context.Background(), SourceWebhook, zkRecord("7", at), zkOpts).Outcome == OutcomeProcessed {
				processed.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if processed.Load() != 1 || store.count() != 1 {
		t.Errorf("processed = %d rows = %d, want exactly one", processed.Load(), store.count())
	}
}

func TestPipeline_PublishesRecordedEvent(t *testing.T) {
	t.Parallel()
	store := newMemStore(models.Member{ID: "m1", MemberID: "7", Name: "Ann"})
	pub := &recordingPublisher{err: errors.New("broker down")}
	p := NewPipeline(store, PipelineConfig{Publisher: pub})

	res := p.Process(context.Background(), SourcePoll, zkRecord("7", scanTime), zkOpts)
	if res.Outcome != OutcomeProcessed {
		t.Fatalf("publish failure must not fail the write: %s", res.Outcome)
	}
	if len(pub.events) != 1 {
		t.Fatalf("published %d events", len(pub.events))
	}
	ev := pub.events[0]
	if ev.CheckInID != res.CheckIn.ID || ev.MemberName != "Ann" || ev.DeviceUserID != "7" || ev.TotalVisits != 1 || ev.Vendor != models.VendorZKTeco {
		t.Errorf("event = %+v", ev)
	}
}

func TestPipeline_WebhookUnknownMemberSkipped(t *testing.T) {
	t.Parallel()
	store := newMemStore(models.Member{ID: "m1", MemberID: "7"})
	p := NewPipeline(store, PipelineConfig{})

	raw := ParseWebhookBody([]byte(`<employeeNoString>42</employeeNoString><time>2024-01-01T10:00:00</time>`), "application/xml")
	res := p.Process(context.Background(), SourceWebhook, raw, NormalizeOptions{Location: time.UTC})
	if res.Message() != "skipped: member not found" {
		t.Errorf("message = %q", res.Message())
	}
	if store.count() != 0 {
		t.Errorf("rows = %d", store.count())
	}
}

func TestDedupGuard_DefaultWindow(t *testing.T) {
	t.Parallel()
	if g := NewDedupGuard(newMemStore(), 0); g.Window() != DefaultDedupWindow {
		t.Errorf("window = %v", g.Window())
	}
	p := NewPipeline(newMemStore(), PipelineConfig{DedupWindow: 2 * time.Minute})
	if p.DedupWindow() != 2*time.Minute {
		t.Errorf("pipeline window = %v", p.DedupWindow())
	}
}
