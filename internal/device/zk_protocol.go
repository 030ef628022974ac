// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

/*
zk_protocol.go - ZKTeco UDP wire format

Every datagram starts with an 8-byte little-endian header:

	offset 0  command     uint16
	offset 2  checksum    uint16
	offset 4  session id  uint16
	offset 6  reply id    uint16
	offset 8  payload     ...

The checksum is a 16-bit one's complement style sum over the whole
datagram with the checksum field zeroed. Timestamps are packed into a
uint32 counting seconds in a calendar with 31-day months and 12-month
years starting at 2000-01-01.
*/

package device

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	zkCmdConnect       uint16 = 1000
	zkCmdExit          uint16 = 1001
	zkCmdAuth          uint16 = 1102
	zkCmdAckOK         uint16 = 2000
	zkCmdAckError      uint16 = 2001
	zkCmdAckData       uint16 = 2002
	zkCmdAckUnauth     uint16 = 2005
	zkCmdPrepareData   uint16 = 1500
	zkCmdData          uint16 = 1501
	zkCmdFreeData      uint16 = 1502
	zkCmdPrepareBuffer uint16 = 1503
	zkCmdReadBuffer    uint16 = 1504
	zkCmdUserTempRRQ   uint16 = 9
	zkCmdOptionsRRQ    uint16 = 11
	zkCmdAttLogRRQ     uint16 = 13
	zkCmdGetFreeSizes  uint16 = 50
	zkCmdGetVersion    uint16 = 1100

	zkFctUser = 5

	zkHeaderSize = 8
	zkUSHRTMax   = 65535

	// zkMaxChunk is the largest READ_BUFFER request over UDP.
	zkMaxChunk = 16 * 1024

	// zkMaxDatagram is large enough for any reply the terminals send.
	zkMaxDatagram = 64 * 1024
)

type zkPacket struct {
	Command   uint16
	Checksum  uint16
	SessionID uint16
	ReplyID   uint16
	Payload   []byte
}

// zkChecksum sums little-endian words modulo USHRT_MAX and returns the
// complement. A trailing odd byte is added as-is.
func zkChecksum(buf []byte) uint16 {
	var sum uint32
	for i := 0; i < len(buf); i += 2 {
		if i == len(buf)-1 {
			sum += uint32(buf[i])
		} else {
			sum += uint32(binary.LittleEndian.Uint16(buf[i:]))
		}
		sum %= zkUSHRTMax
	}
	return uint16(zkUSHRTMax - sum - 1)
}

func encodeZKPacket(command, sessionID, replyID uint16, payload []byte) []byte {
	buf := make([]byte, zkHeaderSize+len(payload))
	binary.LittleEndian.PutUint16(buf[0:], command)
	binary.LittleEndian.PutUint16(buf[4:], sessionID)
	binary.LittleEndian.PutUint16(buf[6:], replyID)
	copy(buf[zkHeaderSize:], payload)
	binary.LittleEndian.PutUint16(buf[2:], zkChecksum(buf))
	return buf
}

func decodeZKPacket(b []byte) (*zkPacket, error) {
	if len(b) < zkHeaderSize {
		return nil, fmt.Errorf("short packet: %d bytes", len(b))
	}
	p := &zkPacket{
		Command:   binary.LittleEndian.Uint16(b[0:]),
		Checksum:  binary.LittleEndian.Uint16(b[2:]),
		SessionID: binary.LittleEndian.Uint16(b[4:]),
		ReplyID:   binary.LittleEndian.Uint16(b[6:]),
	}
	if len(b) > zkHeaderSize {
		p.Payload = append([]byte(nil), b[zkHeaderSize:]...)
	}
	return p, nil
}

// zkCommKey scrambles the numeric comm password with the session id for
// CMD_AUTH.
func zkCommKey(key uint32, sessionID uint16, ticks uint8) []byte {
	var k uint32
	for i := 0; i < 32; i++ {
		if key&(1<<uint(i)) != 0 {
			k = k<<1 | 1
		} else {
			k <<= 1
		}
	}
	k += uint32(sessionID)

	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, k)
	b[0] ^= 'Z'
	b[1] ^= 'K'
	b[2] ^= 'S'
	b[3] ^= 'O'
	b[0], b[1], b[2], b[3] = b[2], b[3], b[0], b[1]

	return []byte{b[0] ^ ticks, b[1] ^ ticks, ticks, b[3] ^ ticks}
}

func decodeZKTime(v uint32, loc *time.Location) time.Time {
	sec := int(v % 60)
	v /= 60
	minute := int(v % 60)
	v /= 60
	hour := int(v % 24)
	v /= 24
	day := int(v%31) + 1
	v /= 31
	month := time.Month(v%12 + 1)
	v /= 12
	year := int(v) + 2000
	return time.Date(year, month, day, hour, minute, sec, 0, loc)
}

func encodeZKTime(t time.Time) uint32 {
	days := (t.Year()%100)*12*31 + (int(t.Month())-1)*31 + t.Day() - 1
	return uint32(days*24*60*60 + (t.Hour()*60+t.Minute())*60 + t.Second())
}

// zkBufferRequest builds the PREPARE_BUFFER payload (int8 1, int16 command,
// int32 fct, int32 ext).
func zkBufferRequest(command uint16, fct, ext uint32) []byte {
	buf := make([]byte, 11)
	buf[0] = 1
	binary.LittleEndian.PutUint16(buf[1:], command)
	binary.LittleEndian.PutUint32(buf[3:], fct)
	binary.LittleEndian.PutUint32(buf[7:], ext)
	return buf
}

func zkChunkRequest(start, size int) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:], uint32(start))
	binary.LittleEndian.PutUint32(buf[4:], uint32(size))
	return buf
}

// cString returns b up to the first NUL, without surrounding spaces.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimSpace(b))
}
