// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package ingest

import (
	"html"
	"regexp"
	"strings"

	"github.com/tomtom215/gymbridge/internal/models"
)

// Terminal firmware pushes XML that is frequently truncated, mixes
// namespaces, or wraps the alert in multipart noise. Fields are pulled out
// one tag at a time instead of decoding a strict schema. Everything that
// depends on this lives in this file.

// xmlFieldTags are the tags ExtractXMLFields looks for.
var xmlFieldTags = []string{
	"employeeNoString",
	"employeeNo",
	"time",
	"dateTime",
	"major",
	"majorEventType",
	"minor",
	"subEventType",
	"eventType",
	"doorName",
	"name",
	"serialNo",
	"cardNo",
	"ipAddress",
}

var xmlFieldPatterns = compileXMLFieldPatterns(xmlFieldTags)

func compileXMLFieldPatterns(tags []string) map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(tags))
	for _, tag := range tags {
		// Optional namespace prefix, optional attributes, lazy body.
		out[tag] = regexp.MustCompile(`(?s)<(?:[A-Za-z0-9_]+:)?` + tag + `(?:\s[^>]*)?>(.*?)</(?:[A-Za-z0-9_]+:)?` + tag + `\s*>`)
	}
	return out
}

// ExtractXMLFields returns the first text value of every known tag present
// in body. Missing tags are absent from the map.
func ExtractXMLFields(body []byte) map[string]string {
	fields := make(map[string]string)
	for tag, re := range xmlFieldPatterns {
		m := re.FindSubmatch(body)
		if m == nil {
			continue
		}
		v := strings.TrimSpace(string(m[1]))
		v = strings.TrimPrefix(v, "<![CDATA[")
		v = strings.TrimSuffix(v, "]]>")
		fields[tag] = html.UnescapeString(strings.TrimSpace(v))
	}
	return fields
}

// eventFromXMLFields builds a best-effort HikvisionEvent. Absent fields stay
// empty and fail normalization downstream.
func eventFromXMLFields(f map[string]string) *models.HikvisionEvent {
	ev := &models.HikvisionEvent{
		EmployeeNoString: f["employeeNoString"],
		EmployeeNo:       models.FlexString(f["employeeNo"]),
		Name:             f["name"],
		Time:             first(f["time"], f["dateTime"]),
		Major:            models.FlexString(first(f["major"], f["majorEventType"])),
		Minor:            models.FlexString(first(f["minor"], f["subEventType"])),
		EventType:        f["eventType"],
		DoorName:         f["doorName"],
		CardNo:           f["cardNo"],
		SerialNo:         models.FlexString(f["serialNo"]),
		Source:           f["ipAddress"],
	}
	return ev
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
