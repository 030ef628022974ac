// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package sync

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tomtom215/gymbridge/internal/config"
	"github.com/tomtom215/gymbridge/internal/device"
	"github.com/tomtom215/gymbridge/internal/models"
)

// AdapterFactory builds an adapter for one device config.
type AdapterFactory func(cfg config.DeviceConfig) (device.Adapter, error)

// Manager owns the connection supervisors of every configured device.
type Manager struct {
	mu          sync.RWMutex
	supervisors []*ConnectionSupervisor
	byID        map[string]*ConnectionSupervisor
}

// NewManager creates one supervisor per enabled device in cfg. factory may
// be nil, in which case device.New is used.
func NewManager(cfg *config.Config, ingester Ingester, checkpoints Checkpointer, factory AdapterFactory) (*Manager, error) {
	if factory == nil {
		factory = device.New
	}

	m := &Manager{byID: make(map[string]*ConnectionSupervisor)}
	for _, dev := range cfg.GetDevices() {
		if _, dup := m.byID[dev.ID]; dup {
			return nil, fmt.Errorf("duplicate device id %q", dev.ID)
		}
		adapter, err := factory(dev)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", dev.ID, err)
		}
		sup := NewConnectionSupervisor(adapter, ingester, checkpoints,
			ConfigFromDevice(dev, cfg.Supervisor, cfg.Ingest.DedupWindow))
		m.supervisors = append(m.supervisors, sup)
		m.byID[dev.ID] = sup
	}
	return m, nil
}

// Supervisors returns the supervisors in configuration order.
func (m *Manager) Supervisors() []*ConnectionSupervisor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*ConnectionSupervisor(nil), m.supervisors...)
}

// Get returns the supervisor for deviceID.
func (m *Manager) Get(deviceID string) (*ConnectionSupervisor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[deviceID]
	return s, ok
}

// DeviceStatuses returns a status snapshot for every device, sorted by id.
func (m *Manager) DeviceStatuses() []models.DeviceStatus {
	sups := m.Supervisors()
	out := make([]models.DeviceStatus, 0, len(sups))
	for _, s := range sups {
		out = append(out, s.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
