// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

// Command devicectl talks to a configured terminal directly, outside the
// server's supervisor tree. It reads the same configuration as the server.
//
// Usage:
//
//	devicectl [-device ID] info
//	devicectl [-device ID] users
//	devicectl [-device ID] logs
//	devicectl [-device ID] create-user -employee 1001 -name "Ana Lopez" [-valid-days 365]
//	devicectl [-device ID] delete-user -employee 1001
//	devicectl [-device ID] enroll -employee 1001 [-finger 1] [-reader 1]
//
// create-user, delete-user and enroll are only supported by hikvision
// terminals. Output is JSON on stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/goccy/go-json"

	"github.com/tomtom215/gymbridge/internal/config"
	"github.com/tomtom215/gymbridge/internal/device"
	"github.com/tomtom215/gymbridge/internal/logging"
)

var errUsage = errors.New("usage")

// enrollTimeout covers the device waiting for a finger on the reader.
const enrollTimeout = 90 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		logging.Error().Err(err).Msg("devicectl failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("devicectl", flag.ContinueOnError)
	deviceID := fs.String("device", "", "device id from configuration (default: first device)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: "console", Timestamp: true})

	dc, err := selectDevice(cfg.GetDevices(), *deviceID)
	if err != nil {
		return err
	}

	adapter, err := device.New(dc)
	if err != nil {
		return err
	}

	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]
	logging.Debug().Str("device", dc.ID).Str("command", cmd).Msg("Running device command")

	if err := adapter.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", dc.ID, err)
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := adapter.Disconnect(dctx); err != nil {
			logging.Warn().Err(err).Str("device", dc.ID).Msg("Disconnect failed")
		}
	}()

	result, err := dispatch(ctx, adapter, cmd, cmdArgs)
	if err != nil {
		return err
	}
	return writeJSON(out, result)
}

func dispatch(ctx context.Context, adapter device.Adapter, cmd string, args []string) (interface{}, error) {
	switch cmd {
	case "info":
		return adapter.GetDeviceInfo(ctx)
	case "users":
		return adapter.ListUsers(ctx)
	case "logs":
		return adapter.ListAttendanceEvents(ctx)
	case "create-user", "delete-user", "enroll":
		hik, ok := adapter.(*device.HikvisionCircuitBreakerClient)
		if !ok {
			return nil, fmt.Errorf("%s is not supported by %s terminals", cmd, adapter.Vendor())
		}
		return dispatchEnrollment(ctx, hik, cmd, args)
	default:
		return nil, fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func dispatchEnrollment(ctx context.Context, hik *device.HikvisionCircuitBreakerClient, cmd string, args []string) (interface{}, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	employee := fs.String("employee", "", "employee number (members.member_id)")
	name := fs.String("name", "", "display name")
	validDays := fs.Int("valid-days", 365, "validity period in days")
	finger := fs.Int("finger", 1, "finger number 1-10")
	reader := fs.Int("reader", 1, "card reader number")
	if err := fs.Parse(args); err != nil {
		return nil, errUsage
	}
	if *employee == "" {
		return nil, fmt.Errorf("%w: -employee is required", errUsage)
	}

	switch cmd {
	case "create-user":
		now := time.Now()
		user := device.UserRecord{
			EmployeeNo: *employee,
			Name:       *name,
			ValidFrom:  now,
			ValidTo:    now.AddDate(0, 0, *validDays),
		}
		if err := hik.CreateUser(ctx, user); err != nil {
			return nil, err
		}
		return user, nil
	case "delete-user":
		if err := hik.DeleteUser(ctx, *employee); err != nil {
			return nil, err
		}
		return map[string]string{"deleted": *employee}, nil
	default:
		ectx, cancel := context.WithTimeout(ctx, enrollTimeout)
		defer cancel()
		logging.Info().Str("employee_no", *employee).Int("finger", *finger).Msg("Place finger on the reader")
		return hik.EnrollFingerprint(ectx, *employee, *finger, *reader)
	}
}

//nolint:gocritic // DeviceConfig copies are small
func selectDevice(devices []config.DeviceConfig, id string) (config.DeviceConfig, error) {
	if len(devices) == 0 {
		return config.DeviceConfig{}, errors.New("no devices configured")
	}
	if id == "" {
		return devices[0], nil
	}
	for _, d := range devices {
		if d.ID == id {
			return d, nil
		}
	}
	return config.DeviceConfig{}, fmt.Errorf("device %q not found in configuration", id)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
