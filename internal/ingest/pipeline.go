// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/gymbridge/internal/logging"
	"github.com/tomtom215/gymbridge/internal/metrics"
	"github.com/tomtom215/gymbridge/internal/models"
)

// Outcome is the result class of one record.
type Outcome string

const (
	OutcomeProcessed        Outcome = "processed"
	OutcomeSkippedNoUser    Outcome = "skipped_no_user"
	OutcomeSkippedInvalid   Outcome = "skipped_invalid"
	OutcomeSkippedNotFound  Outcome = "skipped_not_found"
	OutcomeSkippedDuplicate Outcome = "skipped_duplicate"
	OutcomeFailed           Outcome = "failed"
)

// Ingest path names used in logs and metrics.
const (
	SourcePoll    = "poll"
	SourceWebhook = "webhook"
)

// Result is the outcome of processing one raw record.
type Result struct {
	Outcome     Outcome
	Event       *models.AttendanceEvent
	Member      *models.Member
	CheckIn     *models.CheckIn
	TotalVisits int
	Err         error
}

// Skipped reports whether the record was dropped for a named reason.
func (r *Result) Skipped() bool {
	return r.Outcome != OutcomeProcessed && r.Outcome != OutcomeFailed
}

// Message is the caller-facing description of the outcome.
func (r *Result) Message() string {
	switch r.Outcome {
	case OutcomeProcessed:
		return "processed"
	case OutcomeSkippedNoUser:
		return "skipped: no employee number"
	case OutcomeSkippedInvalid:
		return "skipped: invalid record"
	case OutcomeSkippedNotFound:
		return "skipped: member not found"
	case OutcomeSkippedDuplicate:
		return "skipped: duplicate"
	default:
		return "error: database failure"
	}
}

// Pipeline runs Normalize, Resolve, Dedup and Write for one record at a
// time. It is safe for concurrent use.
type Pipeline struct {
	resolver *Resolver
	guard    *DedupGuard
	writer   *Writer
}

// PipelineConfig configures NewPipeline.
type PipelineConfig struct {
	DedupWindow time.Duration
	Publisher   Publisher
}

// NewPipeline wires a pipeline over store.
func NewPipeline(store Store, cfg PipelineConfig) *Pipeline {
	guard := NewDedupGuard(store, cfg.DedupWindow)
	return &Pipeline{
		resolver: NewResolver(store),
		guard:    guard,
		writer:   NewWriter(store, guard, cfg.Publisher),
	}
}

// DedupWindow returns the guard's window.
func (p *Pipeline) DedupWindow() time.Duration { return p.guard.Window() }

// Process handles one raw record. source is SourcePoll or SourceWebhook.
// The returned Result is never nil; Err is set only for OutcomeFailed.
func (p *Pipeline) Process(ctx context.Context, source string, raw models.RawRecord, opts NormalizeOptions) *Result {
	res := p.process(ctx, raw, opts)
	metrics.RecordIngestOutcome(source, string(res.Outcome))
	logResult(logging.Ctx(ctx), source, res)
	return res
}

func (p *Pipeline) process(ctx context.Context, raw models.RawRecord, opts NormalizeOptions) *Result {
	ev, err := Normalize(raw, opts)
	if err != nil {
		var rej *RejectError
		if errors.As(err, &rej) && rej.Reason == ReasonNoUser {
			return &Result{Outcome: OutcomeSkippedNoUser}
		}
		return &Result{Outcome: OutcomeSkippedInvalid}
	}
	res := &Result{Event: ev}

	member, err := p.resolver.Resolve(ctx, ev.DeviceUserID)
	if errors.Is(err, ErrUnresolved) {
		res.Outcome = OutcomeSkippedNotFound
		return res
	}
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	res.Member = member

	dup, err := p.guard.IsDuplicate(ctx, member.ID, ev.Timestamp)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	if dup {
		res.Outcome = OutcomeSkippedDuplicate
		return res
	}

	wr, err := p.writer.Write(ctx, member, ev)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	if wr.Duplicate {
		res.Outcome = OutcomeSkippedDuplicate
		return res
	}

	res.Outcome = OutcomeProcessed
	res.CheckIn = wr.CheckIn
	res.TotalVisits = wr.TotalVisits
	return res
}

func logResult(log *zerolog.Logger, source string, res *Result) {
	var e *zerolog.Event
	if res.Outcome == OutcomeFailed {
		e = log.Error().Err(res.Err)
	} else {
		e = log.Info()
	}

	e = e.Str("source", source).Str("outcome", string(res.Outcome))
	if ev := res.Event; ev != nil {
		e = e.Str("device", ev.SourceDeviceID).
			Str("device_user_id", ev.DeviceUserID).
			Time("timestamp", ev.Timestamp)
	}
	if res.Member != nil {
		e = e.Str("member_id", res.Member.ID)
	}
	if res.CheckIn != nil {
		e = e.Str("check_in_id", res.CheckIn.ID).Int("total_visits", res.TotalVisits)
	}
	e.Msg("Attendance event " + res.Message())
}
