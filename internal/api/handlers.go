// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/tomtom215/gymbridge/internal/config"
	"github.com/tomtom215/gymbridge/internal/ingest"
	"github.com/tomtom215/gymbridge/internal/logging"
	"github.com/tomtom215/gymbridge/internal/models"
)

// Processor runs one raw record through the ingest pipeline.
type Processor interface {
	Process(ctx context.Context, source string, raw models.RawRecord, opts ingest.NormalizeOptions) *ingest.Result
}

// DeviceLister reports per-device supervisor status.
type DeviceLister interface {
	DeviceStatuses() []models.DeviceStatus
}

// Pinger checks store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

const defaultMaxBodyBytes = 1 << 20

// Handler serves the webhook and status endpoints.
type Handler struct {
	processor Processor
	devices   DeviceLister
	db        Pinger
	webhook   config.WebhookConfig
	location  *time.Location
	startTime time.Time
}

// NewHandler creates a handler. devices may be nil when no terminal is
// polled.
func NewHandler(processor Processor, devices DeviceLister, db Pinger, webhook config.WebhookConfig) *Handler {
	if webhook.MaxBodyBytes <= 0 {
		webhook.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Handler{
		processor: processor,
		devices:   devices,
		db:        db,
		webhook:   webhook,
		location:  webhook.Location(),
		startTime: time.Now(),
	}
}

// WebhookResult summarizes a processed push event.
type WebhookResult struct {
	Outcome      ingest.Outcome `json:"outcome"`
	DeviceUserID string         `json:"device_user_id,omitempty"`
	Timestamp    *time.Time     `json:"timestamp,omitempty"`
	MemberID     string         `json:"member_id,omitempty"`
	MemberName   string         `json:"member_name,omitempty"`
	CheckInID    string         `json:"check_in_id,omitempty"`
	TotalVisits  int            `json:"total_visits,omitempty"`
}

func newWebhookResult(res *ingest.Result) *WebhookResult {
	out := &WebhookResult{Outcome: res.Outcome}
	if res.Event != nil {
		out.DeviceUserID = res.Event.DeviceUserID
		ts := res.Event.Timestamp
		out.Timestamp = &ts
	}
	if res.Member != nil {
		out.MemberID = res.Member.ID
		out.MemberName = res.Member.Name
	}
	if res.CheckIn != nil {
		out.CheckInID = res.CheckIn.ID
		out.TotalVisits = res.TotalVisits
	}
	return out
}

// Webhook accepts a pushed attendance event (JSON, XML or multipart).
// Processed and skipped events answer 200 so the device does not retry;
// a store failure answers 500.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.webhook.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "could not read request body")
		return
	}

	raw := ingest.ParseWebhookBody(body, r.Header.Get("Content-Type"))
	res := h.processor.Process(r.Context(), ingest.SourceWebhook, raw, ingest.NormalizeOptions{
		DeviceName: h.webhook.Label,
		Location:   h.location,
	})

	if res.Outcome == ingest.OutcomeFailed {
		writeJSON(w, http.StatusInternalServerError, APIResponse{
			Success: false,
			Message: res.Message(),
			Result:  newWebhookResult(res),
			Error: &APIError{
				Code:      ErrCodeDatabaseError,
				RequestID: logging.RequestIDFromContext(r.Context()),
			},
		})
		return
	}
	writeSuccess(w, res.Message(), newWebhookResult(res))
}

// HealthResult is the health endpoint payload.
type HealthResult struct {
	Status        string         `json:"status"`
	Database      string         `json:"database"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Devices       map[string]int `json:"devices,omitempty"`
}

// Health reports store connectivity and device state counts. An exhausted
// device degrades the status but does not fail the check.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	result := HealthResult{
		Status:        "healthy",
		Database:      "ok",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	if h.devices != nil {
		result.Devices = make(map[string]int)
		for _, st := range h.devices.DeviceStatuses() {
			result.Devices[st.State]++
		}
		if result.Devices["exhausted"] > 0 {
			result.Status = "degraded"
		}
	}

	if err := h.db.Ping(ctx); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Health check: database ping failed")
		result.Status = "unhealthy"
		result.Database = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Message: "database unavailable",
			Result:  result,
			Error:   &APIError{Code: ErrCodeServiceUnavailable},
		})
		return
	}

	writeSuccess(w, result.Status, result)
}

// Devices lists supervisor status for every configured terminal.
func (h *Handler) Devices(w http.ResponseWriter, _ *http.Request) {
	statuses := []models.DeviceStatus{}
	if h.devices != nil {
		statuses = h.devices.DeviceStatuses()
	}
	writeSuccess(w, "ok", statuses)
}
