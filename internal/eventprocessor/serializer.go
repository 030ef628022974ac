// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package eventprocessor

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/gymbridge/internal/models"
)

// SerializeCheckIn encodes a check-in recorded event.
func SerializeCheckIn(ev *models.CheckInRecorded) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("nil event")
	}
	if ev.CheckInID == "" {
		return nil, fmt.Errorf("event has no check-in id")
	}
	return json.Marshal(ev)
}

// DeserializeCheckIn decodes a check-in recorded event.
func DeserializeCheckIn(data []byte) (*models.CheckInRecorded, error) {
	var ev models.CheckInRecorded
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode check-in event: %w", err)
	}
	return &ev, nil
}
