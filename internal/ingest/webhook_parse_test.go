// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package ingest

import (
	"bytes"
	"mime/multipart"
	"net/textproto"
	"testing"
)

func TestExtractXMLFields(t *testing.T) {
	t.Parallel()

	body := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<EventNotificationAlert version="2.0" xmlns="http://www.isapi.org/ver20/XMLSchema">
  <ipAddress>10.0.0.9</ipAddress>
  <dateTime>2024-01-01T10:00:00+08:00</dateTime>
  <AccessControllerEvent>
    <majorEventType>5</majorEventType>
    <subEventType>75</subEventType>
    <employeeNoString> 42 </employeeNoString>
    <name><![CDATA[Ann &amp; Bo]]></name>
    <doorName>Gate &amp; 1</doorName>
  </AccessControllerEvent>
</EventNotificationAlert>`)

	f := ExtractXMLFields(body)
	want := map[string]string{
		"ipAddress":        "10.0.0.9",
		"dateTime":         "2024-01-01T10:00:00+08:00",
		"majorEventType":   "5",
		"subEventType":     "75",
		"employeeNoString": "42",
		"name":             "Ann & Bo",
		"doorName":         "Gate & 1",
	}
	for k, v := range want {
		if f[k] != v {
			t.Errorf("%s = %q, want %q", k, f[k], v)
		}
	}
	if _, ok := f["employeeNo"]; ok {
		t.Error("employeeNo must not match employeeNoString")
	}
	if _, ok := f["time"]; ok {
		t.Error("time must not match dateTime")
	}
}

func TestExtractXMLFields_Malformed(t *testing.T) {
	t.Parallel()

	// Unclosed root, namespace prefixes and attributes.
	body := []byte(`<ns:alert><ns:employeeNoString id="x">7</ns:employeeNoString><time>2024-01-01T09:00:00</time><major>5`)
	f := ExtractXMLFields(body)
	if f["employeeNoString"] != "7" || f["time"] != "2024-01-01T09:00:00" {
		t.Errorf("fields = %v", f)
	}
	if _, ok := f["major"]; ok {
		t.Error("unterminated tag must not be extracted")
	}
}

func TestParseWebhookBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		body        string
		contentType string
		wantUser    string
		wantTime    string
		wantMajor   string
		wantDoor    string
		wantSource  string
	}{
		{
			name:        "flat json",
			body:        `{"employeeNoString":"42","time":"2024-01-01T10:00:00","major":5,"doorName":"Gate"}`,
			contentType: "application/json",
			wantUser:    "42",
			wantTime:    "2024-01-01T10:00:00",
			wantMajor:   "5",
			wantDoor:    "Gate",
		},
		{
			name:        "numeric employeeNo",
			body:        `{"employeeNo":42,"time":"2024-01-01T10:00:00"}`,
			contentType: "application/json",
			wantUser:    "42",
			wantTime:    "2024-01-01T10:00:00",
		},
		{
			name: "nested AccessControllerEvent",
			body: `{"ipAddress":"10.0.0.9","dateTime":"2024-01-01T10:00:00+08:00","eventType":"AccessControllerEvent",
				"AccessControllerEvent":{"employeeNoString":"42","majorEventType":5,"subEventType":75,"name":"Ann"}}`,
			contentType: "application/json",
			wantUser:    "42",
			wantTime:    "2024-01-01T10:00:00+08:00",
			wantMajor:   "5",
			wantSource:  "10.0.0.9",
		},
		{
			name:        "xml fallback",
			body:        `<employeeNoString>42</employeeNoString><time>2024-01-01T10:00:00</time>`,
			contentType: "application/xml",
			wantUser:    "42",
			wantTime:    "2024-01-01T10:00:00",
		},
		{
			name:        "broken json falls back to xml extraction",
			body:        `{"employeeNoString": <employeeNoString>9</employeeNoString>`,
			contentType: "application/json",
			wantUser:    "9",
		},
		{
			name:        "garbage yields empty record",
			body:        `hello`,
			contentType: "text/plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := ParseWebhookBody([]byte(tt.body), tt.contentType)
			if ev == nil {
				t.Fatal("ParseWebhookBody returned nil")
			}
			if ev.UserID() != tt.wantUser {
				t.Errorf("user = %q, want %q", ev.UserID(), tt.wantUser)
			}
			if ev.Time != tt.wantTime {
				t.Errorf("time = %q, want %q", ev.Time, tt.wantTime)
			}
			if string(ev.Major) != tt.wantMajor {
				t.Errorf("major = %q, want %q", ev.Major, tt.wantMajor)
			}
			if ev.DoorName != tt.wantDoor {
				t.Errorf("door = %q, want %q", ev.DoorName, tt.wantDoor)
			}
			if ev.Source != tt.wantSource {
				t.Errorf("source = %q, want %q", ev.Source, tt.wantSource)
			}
		})
	}
}

func TestParseWebhookBody_Multipart(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	pic := textproto.MIMEHeader{}
	pic.Set("Content-Disposition", `form-data; name="Picture"; filename="face.jpg"`)
	pic.Set("Content-Type", "image/jpeg")
	pw, _ := mw.CreatePart(pic)
	_, _ = pw.Write([]byte{0xff, 0xd8, 0xff})

	fw, _ := mw.CreateFormField("event_log")
	_, _ = fw.Write([]byte(`{"AccessControllerEvent":{"employeeNoString":"11"},"dateTime":"2024-01-01T08:00:00"}`))
	_ = mw.Close()

	ev := ParseWebhookBody(buf.Bytes(), mw.FormDataContentType())
	if ev.UserID() != "11" || ev.Time != "2024-01-01T08:00:00" {
		t.Errorf("event = %+v", ev)
	}
}
