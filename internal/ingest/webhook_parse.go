// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package ingest

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/gymbridge/internal/models"
)

// webhookEnvelope covers both push shapes seen in the field: flat event
// fields at the top level, or an EventNotificationAlert-style document
// with the event nested under AccessControllerEvent.
type webhookEnvelope struct {
	models.HikvisionEvent

	DateTime              string                 `json:"dateTime"`
	IPAddress             string                 `json:"ipAddress"`
	AccessControllerEvent *accessControllerEvent `json:"AccessControllerEvent"`
}

type accessControllerEvent struct {
	models.HikvisionEvent

	MajorEventType models.FlexString `json:"majorEventType"`
	SubEventType   models.FlexString `json:"subEventType"`
}

// multipartEventParts are the part names terminals use for the event body.
var multipartEventParts = []string{"event_log", "AccessControllerEvent"}

// ParseWebhookBody turns a pushed request body into a best-effort
// HikvisionEvent. JSON is tried first, then tolerant XML extraction. It
// never fails; unusable bodies yield an empty record that the normalizer
// rejects.
func ParseWebhookBody(body []byte, contentType string) *models.HikvisionEvent {
	if part := multipartEventBody(body, contentType); part != nil {
		body = part
	}
	body = bytes.TrimSpace(body)

	if ev, ok := parseWebhookJSON(body); ok {
		return ev
	}
	return eventFromXMLFields(ExtractXMLFields(body))
}

func parseWebhookJSON(body []byte) (*models.HikvisionEvent, bool) {
	if len(body) == 0 || body[0] != '{' {
		return nil, false
	}
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, false
	}

	ev := env.HikvisionEvent
	if ace := env.AccessControllerEvent; ace != nil {
		nested := ace.HikvisionEvent
		if nested.Major == "" {
			nested.Major = ace.MajorEventType
		}
		if nested.Minor == "" {
			nested.Minor = ace.SubEventType
		}
		if nested.EventType == "" {
			nested.EventType = ev.EventType
		}
		ev = nested
	}
	if ev.Time == "" {
		ev.Time = env.DateTime
	}
	ev.Source = env.IPAddress
	return &ev, true
}

// multipartEventBody returns the event part of a multipart body, or nil
// when the body is not multipart or holds no usable part.
func multipartEventBody(body []byte, contentType string) []byte {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		return nil
	}

	reader := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	var fallback []byte
	for {
		part, err := reader.NextPart()
		if err != nil {
			break
		}
		data, readErr := io.ReadAll(part)
		_ = part.Close()
		if readErr != nil {
			break
		}
		for _, name := range multipartEventParts {
			if part.FormName() == name {
				return data
			}
		}
		// Picture parts are skipped; the first text-like part is a fallback.
		ct := part.Header.Get("Content-Type")
		if fallback == nil && (ct == "" || strings.Contains(ct, "json") || strings.Contains(ct, "xml") || strings.HasPrefix(ct, "text/")) {
			fallback = data
		}
	}
	return fallback
}
