// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package device

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

func TestZKChecksum_ValidatesEncodedPacket(t *testing.T) {
	t.Parallel()

	pkt := encodeZKPacket(zkCmdConnect, 0, 0, nil)
	if len(pkt) != zkHeaderSize {
		t.Fatalf("len = %d, want %d", len(pkt), zkHeaderSize)
	}

	// CMD_CONNECT with zero session/reply: sum = 1000, checksum = 65535-1000-1
	got := binary.LittleEndian.Uint16(pkt[2:])
	if want := uint16(zkUSHRTMax - 1000 - 1); got != want {
		t.Errorf("checksum = %d, want %d", got, want)
	}
}

func TestZKChecksum_OddLength(t *testing.T) {
	t.Parallel()

	even := zkChecksum([]byte{0x01, 0x00})
	odd := zkChecksum([]byte{0x01, 0x00, 0x05})
	if even-odd != 5 {
		t.Errorf("trailing byte should be summed as-is: even=%d odd=%d", even, odd)
	}
}

func TestZKPacket_RoundTrip(t *testing.T) {
	t.Parallel()

	payload := []byte("~SerialNumber\x00")
	raw := encodeZKPacket(zkCmdOptionsRRQ, 0x1234, 7, payload)

	p, err := decodeZKPacket(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Command != zkCmdOptionsRRQ || p.SessionID != 0x1234 || p.ReplyID != 7 {
		t.Errorf("header = %+v", p)
	}
	if !bytes.Equal(p.Payload, payload) {
		t.Errorf("payload = %q, want %q", p.Payload, payload)
	}

	if _, err := decodeZKPacket(raw[:5]); err == nil {
		t.Error("expected error for short packet")
	}
}

func TestZKTime_RoundTrip(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("device", 3*3600)
	cases := []time.Time{
		time.Date(2000, 1, 1, 0, 0, 0, 0, loc),
		time.Date(2024, 2, 29, 23, 59, 59, 0, loc),
		time.Date(2025, 12, 31, 6, 30, 15, 0, loc),
	}
	for _, want := range cases {
		got := decodeZKTime(encodeZKTime(want), loc)
		if !got.Equal(want) {
			t.Errorf("round trip %v = %v", want, got)
		}
	}
}

func TestZKTime_KnownValue(t *testing.T) {
	t.Parallel()

	// 2000-01-02 00:00:01 is one day plus one second after the epoch.
	got := decodeZKTime(86401, time.UTC)
	want := time.Date(2000, 1, 2, 0, 0, 1, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("decodeZKTime(86401) = %v, want %v", got, want)
	}
}

func TestZKCommKey_Deterministic(t *testing.T) {
	t.Parallel()

	a := zkCommKey(12345, 42, 50)
	b := zkCommKey(12345, 42, 50)
	if !bytes.Equal(a, b) {
		t.Fatalf("commkey not deterministic: %x vs %x", a, b)
	}
	if len(a) != 4 {
		t.Fatalf("len = %d, want 4", len(a))
	}
	if a[2] != 50 {
		t.Errorf("third byte should be the tick value, got %d", a[2])
	}
	if bytes.Equal(a, zkCommKey(12345, 43, 50)) {
		t.Error("commkey should depend on the session id")
	}
}

func TestZKBufferRequest(t *testing.T) {
	t.Parallel()

	b := zkBufferRequest(zkCmdUserTempRRQ, zkFctUser, 0)
	if len(b) != 11 || b[0] != 1 {
		t.Fatalf("unexpected prefix %x", b)
	}
	if binary.LittleEndian.Uint16(b[1:]) != zkCmdUserTempRRQ {
		t.Error("command not encoded at offset 1")
	}
	if binary.LittleEndian.Uint32(b[3:]) != zkFctUser {
		t.Error("fct not encoded at offset 3")
	}
}

func TestCString(t *testing.T) {
	t.Parallel()

	if got := cString([]byte("abc\x00def")); got != "abc" {
		t.Errorf("cString = %q", got)
	}
	if got := cString([]byte(" 42 ")); got != "42" {
		t.Errorf("cString = %q", got)
	}
}
