// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package device

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/tomtom215/gymbridge/internal/models"
)

// zkSizes holds the counters returned by CMD_GET_FREE_SIZES.
type zkSizes struct {
	Users   int
	Fingers int
	Records int
}

func decodeZKSizes(b []byte) (zkSizes, error) {
	if len(b) < 80 {
		return zkSizes{}, fmt.Errorf("free sizes payload too short: %d bytes", len(b))
	}
	field := func(i int) int { return int(int32(binary.LittleEndian.Uint32(b[i*4:]))) }
	return zkSizes{Users: field(4), Fingers: field(6), Records: field(8)}, nil
}

// recordSize picks the per-record width. The count reported by the terminal
// is authoritative; divisibility is the fallback for firmware that lies.
func recordSize(total, count int, widths ...int) int {
	if count > 0 && total%count == 0 {
		size := total / count
		for _, w := range widths {
			if size == w {
				return w
			}
		}
	}
	for _, w := range widths {
		if total%w == 0 {
			return w
		}
	}
	return 0
}

// decodeZKAttendance decodes an ATTLOG buffer. The first four bytes carry
// the record area length. uidToUser maps slot numbers to user ids for the
// 8-byte layout, which does not carry the id itself.
func decodeZKAttendance(buf []byte, count int, uidToUser map[uint16]string, loc *time.Location, source string) ([]*models.ZKAttendance, int, error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("attendance buffer too short: %d bytes", len(buf))
	}
	total := int(binary.LittleEndian.Uint32(buf))
	data := buf[4:]
	if total > len(data) {
		total = len(data)
	}
	data = data[:total]
	if total == 0 {
		return nil, 0, nil
	}

	size := recordSize(total, count, 40, 16, 8)
	if size == 0 {
		return nil, 0, fmt.Errorf("cannot determine attendance record size (total=%d records=%d)", total, count)
	}

	out := make([]*models.ZKAttendance, 0, total/size)
	skipped := 0
	for off := 0; off+size <= len(data); off += size {
		rec, ok := decodeZKAttendanceRecord(data[off:off+size], uidToUser, loc)
		if !ok {
			skipped++
			continue
		}
		rec.Source = source
		out = append(out, rec)
	}
	return out, skipped, nil
}

func decodeZKAttendanceRecord(r []byte, uidToUser map[uint16]string, loc *time.Location) (*models.ZKAttendance, bool) {
	rec := &models.ZKAttendance{}
	var raw uint32

	switch len(r) {
	case 8:
		rec.UserSN = binary.LittleEndian.Uint16(r[0:])
		rec.Status = r[2]
		raw = binary.LittleEndian.Uint32(r[3:])
		rec.Punch = r[7]
		rec.UserID = uidToUser[rec.UserSN]
		if rec.UserID == "" {
			rec.UserID = strconv.Itoa(int(rec.UserSN))
		}
	case 16:
		rec.UserID = strconv.FormatUint(uint64(binary.LittleEndian.Uint32(r[0:])), 10)
		raw = binary.LittleEndian.Uint32(r[4:])
		rec.Status = r[8]
		rec.Punch = r[9]
	case 40:
		rec.UserSN = binary.LittleEndian.Uint16(r[0:])
		rec.UserID = cString(r[2:26])
		rec.Status = r[26]
		raw = binary.LittleEndian.Uint32(r[27:])
		rec.Punch = r[31]
	default:
		return nil, false
	}

	if raw == 0 {
		return nil, false
	}
	rec.Timestamp = decodeZKTime(raw, loc)
	return rec, true
}

// decodeZKUsers decodes a USERTEMP buffer of 28- or 72-byte user records.
func decodeZKUsers(buf []byte, count int) ([]models.DeviceUser, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("user buffer too short: %d bytes", len(buf))
	}
	total := int(binary.LittleEndian.Uint32(buf))
	data := buf[4:]
	if total > len(data) {
		total = len(data)
	}
	data = data[:total]
	if total == 0 {
		return nil, nil
	}

	size := recordSize(total, count, 72, 28)
	if size == 0 {
		return nil, fmt.Errorf("cannot determine user record size (total=%d users=%d)", total, count)
	}

	users := make([]models.DeviceUser, 0, total/size)
	for off := 0; off+size <= len(data); off += size {
		r := data[off : off+size]
		var u models.DeviceUser
		u.UID = int(binary.LittleEndian.Uint16(r[0:]))
		u.Privilege = int(r[2])
		if size == 28 {
			u.Name = cString(r[8:16])
			if card := binary.LittleEndian.Uint32(r[16:]); card != 0 {
				u.CardNo = strconv.FormatUint(uint64(card), 10)
			}
			u.GroupID = strconv.Itoa(int(r[21]))
			u.UserID = strconv.FormatUint(uint64(binary.LittleEndian.Uint32(r[24:])), 10)
		} else {
			u.Name = cString(r[11:35])
			if card := binary.LittleEndian.Uint32(r[35:]); card != 0 {
				u.CardNo = strconv.FormatUint(uint64(card), 10)
			}
			u.GroupID = cString(r[40:47])
			u.UserID = cString(r[48:72])
		}
		if u.UserID == "" {
			u.UserID = strconv.Itoa(u.UID)
		}
		users = append(users, u)
	}
	return users, nil
}
