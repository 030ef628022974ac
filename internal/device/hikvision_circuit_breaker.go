// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package device

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/gymbridge/internal/config"
	"github.com/tomtom215/gymbridge/internal/logging"
	"github.com/tomtom215/gymbridge/internal/metrics"
	"github.com/tomtom215/gymbridge/internal/models"
)

var _ HikvisionClientInterface = (*HikvisionCircuitBreakerClient)(nil)

// HikvisionCircuitBreakerClient wraps HikvisionClient with a circuit breaker
// so a dead terminal is not hammered with HTTP requests on every poll.
//
// An open circuit surfaces as a *ConnectionError, which the connection
// supervisor counts as a failed attempt.
type HikvisionCircuitBreakerClient struct {
	client *HikvisionClient
	cb     *gobreaker.CircuitBreaker[interface{}]
	name   string
}

// NewHikvisionCircuitBreakerClient creates a Hikvision client with circuit breaker
// Circuit breaker configuration:
// - Max 1 request in half-open state
// - 1 minute measurement window
// - 30 second timeout before attempting recovery
// - Opens after 5 consecutive failures
//
//nolint:gocritic // DeviceConfig is small and read-only here
func NewHikvisionCircuitBreakerClient(cfg config.DeviceConfig) (*HikvisionCircuitBreakerClient, error) {
	return newHikvisionCircuitBreakerClient(NewHikvisionClient(cfg), "hikvision-"+cfg.ID), nil
}

func newHikvisionCircuitBreakerClient(client *HikvisionClient, cbName string) *HikvisionCircuitBreakerClient {
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			shouldTrip := counts.ConsecutiveFailures >= 5
			if shouldTrip {
				logging.Warn().Str("breaker", cbName).Uint32("consecutive_failures", counts.ConsecutiveFailures).Msg("[CIRCUIT BREAKER] Opening Hikvision circuit")
			}
			return shouldTrip
		},

		// Cancellation is a shutdown, not a device failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] Hikvision state transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()

			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})

	return &HikvisionCircuitBreakerClient{
		client: client,
		cb:     cb,
		name:   cbName,
	}
}

// execute wraps an ISAPI call with circuit breaker protection
func (cbc *HikvisionCircuitBreakerClient) execute(op string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := cbc.cb.Execute(fn)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "rejected").Inc()
			logging.Debug().Str("breaker", cbc.name).Err(err).Msg("[CIRCUIT BREAKER] Hikvision request rejected")
			return nil, connErr(cbc.client.id, op, err)
		}
		metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "failure").Inc()
		counts := cbc.cb.Counts()
		metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbc.name).Set(float64(counts.ConsecutiveFailures))
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "success").Inc()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbc.name).Set(0)
	return result, nil
}

// Vendor implements Adapter.
func (cbc *HikvisionCircuitBreakerClient) Vendor() models.Vendor { return cbc.client.Vendor() }

// SourceID implements Adapter.
func (cbc *HikvisionCircuitBreakerClient) SourceID() string { return cbc.client.SourceID() }

// SetWatermark passes through; it makes no network call.
func (cbc *HikvisionCircuitBreakerClient) SetWatermark(t time.Time) { cbc.client.SetWatermark(t) }

// Connect implements Adapter.
func (cbc *HikvisionCircuitBreakerClient) Connect(ctx context.Context) error {
	_, err := cbc.execute("connect", func() (interface{}, error) {
		return nil, cbc.client.Connect(ctx)
	})
	return err
}

// Disconnect implements Adapter.
func (cbc *HikvisionCircuitBreakerClient) Disconnect(ctx context.Context) error {
	return cbc.client.Disconnect(ctx)
}

// GetDeviceInfo implements Adapter.
func (cbc *HikvisionCircuitBreakerClient) GetDeviceInfo(ctx context.Context) (*models.DeviceInfo, error) {
	result, err := cbc.execute("device info", func() (interface{}, error) {
		return cbc.client.GetDeviceInfo(ctx)
	})
	if err != nil {
		return nil, err
	}
	info, ok := result.(*models.DeviceInfo)
	if !ok {
		return nil, errors.New("circuit breaker: unexpected result type for GetDeviceInfo")
	}
	return info, nil
}

// ListUsers implements Adapter.
func (cbc *HikvisionCircuitBreakerClient) ListUsers(ctx context.Context) ([]models.DeviceUser, error) {
	result, err := cbc.execute("list users", func() (interface{}, error) {
		return cbc.client.ListUsers(ctx)
	})
	if err != nil {
		return nil, err
	}
	users, ok := result.([]models.DeviceUser)
	if !ok {
		return nil, errors.New("circuit breaker: unexpected result type for ListUsers")
	}
	return users, nil
}

// ListAttendanceEvents implements Adapter.
func (cbc *HikvisionCircuitBreakerClient) ListAttendanceEvents(ctx context.Context) ([]models.RawRecord, error) {
	result, err := cbc.execute("event search", func() (interface{}, error) {
		return cbc.client.ListAttendanceEvents(ctx)
	})
	if err != nil {
		return nil, err
	}
	records, ok := result.([]models.RawRecord)
	if !ok {
		return nil, errors.New("circuit breaker: unexpected result type for ListAttendanceEvents")
	}
	return records, nil
}

// CreateUser provisions a user with circuit breaker protection.
func (cbc *HikvisionCircuitBreakerClient) CreateUser(ctx context.Context, user UserRecord) error {
	_, err := cbc.execute("create user", func() (interface{}, error) {
		return nil, cbc.client.CreateUser(ctx, user)
	})
	return err
}

// DeleteUser removes a user with circuit breaker protection.
func (cbc *HikvisionCircuitBreakerClient) DeleteUser(ctx context.Context, employeeNo string) error {
	_, err := cbc.execute("delete user", func() (interface{}, error) {
		return nil, cbc.client.DeleteUser(ctx, employeeNo)
	})
	return err
}

// EnrollFingerprint enrolls a finger with circuit breaker protection.
func (cbc *HikvisionCircuitBreakerClient) EnrollFingerprint(ctx context.Context, employeeNo string, fingerNo, cardReaderNo int) (*FingerprintResult, error) {
	result, err := cbc.execute("enroll fingerprint", func() (interface{}, error) {
		return cbc.client.EnrollFingerprint(ctx, employeeNo, fingerNo, cardReaderNo)
	})
	if err != nil {
		return nil, err
	}
	res, ok := result.(*FingerprintResult)
	if !ok {
		return nil, errors.New("circuit breaker: unexpected result type for EnrollFingerprint")
	}
	return res, nil
}

// State returns the current circuit breaker state
func (cbc *HikvisionCircuitBreakerClient) State() gobreaker.State {
	return cbc.cb.State()
}

// Name returns the circuit breaker name
func (cbc *HikvisionCircuitBreakerClient) Name() string {
	return cbc.name
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
