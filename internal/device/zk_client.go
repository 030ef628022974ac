// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/gymbridge/internal/config"
	"github.com/tomtom215/gymbridge/internal/logging"
	"github.com/tomtom215/gymbridge/internal/models"
)

var _ Adapter = (*ZKClient)(nil)

// ZKClient speaks the ZKTeco binary protocol over UDP.
//
// Request/response exchanges are serialized through a one-slot semaphore so
// that Disconnect can give up waiting when its context expires and close
// the socket underneath a stuck exchange.
type ZKClient struct {
	id       string
	host     string
	addr     string
	password uint32
	timeout  time.Duration
	loc      *time.Location
	log      zerolog.Logger

	sem chan struct{}

	connMu sync.Mutex
	conn   *net.UDPConn

	sessionID uint16
	replyID   uint16
	sizes     zkSizes
}

// NewZKClient creates an unconnected client.
//
//nolint:gocritic // DeviceConfig is small and read-only here
func NewZKClient(cfg config.DeviceConfig) (*ZKClient, error) {
	var password uint64
	if cfg.Password != "" {
		p, err := strconv.ParseUint(cfg.Password, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("zkteco password must be numeric: %w", err)
		}
		password = p
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ZKClient{
		id:       cfg.ID,
		host:     cfg.Host,
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		password: uint32(password),
		timeout:  timeout,
		loc:      cfg.Location(),
		log:      logging.With().Str("device", cfg.ID).Str("vendor", string(models.VendorZKTeco)).Logger(),
		sem:      make(chan struct{}, 1),
	}, nil
}

// Vendor implements Adapter.
func (c *ZKClient) Vendor() models.Vendor { return models.VendorZKTeco }

// SourceID implements Adapter.
func (c *ZKClient) SourceID() string { return c.host }

func (c *ZKClient) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ZKClient) release() { <-c.sem }

func (c *ZKClient) currentConn() *net.UDPConn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *ZKClient) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.log.Debug().Err(err).Msg("Error closing UDP socket")
		}
		c.conn = nil
	}
}

// Connect implements Adapter.
func (c *ZKClient) Connect(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return connErr(c.id, "connect", err)
	}
	defer c.release()

	c.closeConn()

	var d net.Dialer
	nc, err := d.DialContext(ctx, "udp", c.addr)
	if err != nil {
		return connErr(c.id, "connect", err)
	}
	udp, ok := nc.(*net.UDPConn)
	if !ok {
		_ = nc.Close()
		return connErr(c.id, "connect", fmt.Errorf("unexpected connection type %T", nc))
	}
	c.connMu.Lock()
	c.conn = udp
	c.connMu.Unlock()

	c.sessionID, c.replyID = 0, 0
	resp, err := c.exchange(ctx, zkCmdConnect, nil)
	if err != nil {
		c.closeConn()
		return connErr(c.id, "connect", err)
	}
	c.sessionID = resp.SessionID

	if resp.Command == zkCmdAckUnauth {
		resp, err = c.exchange(ctx, zkCmdAuth, zkCommKey(c.password, c.sessionID, 50))
		if err != nil {
			c.closeConn()
			return connErr(c.id, "auth", err)
		}
		if resp.Command != zkCmdAckOK {
			c.closeConn()
			return connErr(c.id, "auth", fmt.Errorf("authentication rejected (reply %d)", resp.Command))
		}
	} else if resp.Command != zkCmdAckOK {
		c.closeConn()
		return connErr(c.id, "connect", fmt.Errorf("unexpected reply %d", resp.Command))
	}

	if err := c.refreshSizes(ctx); err != nil {
		c.log.Debug().Err(err).Msg("Could not read record counters")
	}
	c.log.Debug().Uint16("session", c.sessionID).Msg("ZK session opened")
	return nil
}

// Disconnect implements Adapter. When ctx expires while another exchange
// is in flight, the socket is closed without sending CMD_EXIT.
func (c *ZKClient) Disconnect(ctx context.Context) error {
	if c.currentConn() == nil {
		return nil
	}
	var exitErr error
	if err := c.acquire(ctx); err == nil {
		_, exitErr = c.exchange(ctx, zkCmdExit, nil)
		c.release()
	} else {
		exitErr = err
	}
	c.closeConn()
	if exitErr != nil && !errors.Is(exitErr, ErrNotConnected) {
		return connErr(c.id, "disconnect", exitErr)
	}
	return nil
}

// GetDeviceInfo implements Adapter.
func (c *ZKClient) GetDeviceInfo(ctx context.Context) (*models.DeviceInfo, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, connErr(c.id, "device info", err)
	}
	defer c.release()

	info := &models.DeviceInfo{Vendor: models.VendorZKTeco}
	if resp, err := c.exchange(ctx, zkCmdGetVersion, nil); err == nil && resp.Command == zkCmdAckOK {
		info.Firmware = cString(resp.Payload)
	} else if err != nil {
		return nil, connErr(c.id, "device info", err)
	}

	for key, dst := range map[string]*string{
		"~SerialNumber": &info.Serial,
		"~DeviceName":   &info.Model,
		"MAC":           &info.MAC,
	} {
		v, err := c.option(ctx, key)
		if err != nil {
			return nil, connErr(c.id, "device info", err)
		}
		*dst = v
	}
	return info, nil
}

func (c *ZKClient) option(ctx context.Context, key string) (string, error) {
	resp, err := c.exchange(ctx, zkCmdOptionsRRQ, append([]byte(key), 0))
	if err != nil {
		return "", err
	}
	if resp.Command != zkCmdAckOK {
		return "", nil
	}
	_, value, found := strings.Cut(cString(resp.Payload), "=")
	if !found {
		return "", nil
	}
	return value, nil
}

// ListUsers implements Adapter.
func (c *ZKClient) ListUsers(ctx context.Context) ([]models.DeviceUser, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, connErr(c.id, "list users", err)
	}
	defer c.release()
	return c.listUsers(ctx)
}

func (c *ZKClient) listUsers(ctx context.Context) ([]models.DeviceUser, error) {
	if err := c.refreshSizes(ctx); err != nil {
		c.log.Debug().Err(err).Msg("Could not refresh record counters")
	}
	buf, err := c.readWithBuffer(ctx, zkCmdUserTempRRQ, zkFctUser)
	if err != nil {
		return nil, connErr(c.id, "list users", err)
	}
	users, err := decodeZKUsers(buf, c.sizes.Users)
	if err != nil {
		return nil, connErr(c.id, "decode users", err)
	}
	return users, nil
}

// ListAttendanceEvents implements Adapter.
func (c *ZKClient) ListAttendanceEvents(ctx context.Context) ([]models.RawRecord, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, connErr(c.id, "list attendance", err)
	}
	defer c.release()

	if err := c.refreshSizes(ctx); err != nil {
		c.log.Debug().Err(err).Msg("Could not refresh record counters")
	}
	buf, err := c.readWithBuffer(ctx, zkCmdAttLogRRQ, 0)
	if err != nil {
		return nil, connErr(c.id, "list attendance", err)
	}

	var uidToUser map[uint16]string
	if len(buf) >= 4 {
		total := int(binary.LittleEndian.Uint32(buf))
		if recordSize(total, c.sizes.Records, 40, 16, 8) == 8 {
			uidToUser = c.uidMap(ctx)
		}
	}

	recs, skipped, err := decodeZKAttendance(buf, c.sizes.Records, uidToUser, c.loc, c.host)
	if err != nil {
		return nil, connErr(c.id, "decode attendance", err)
	}
	if skipped > 0 {
		c.log.Warn().Int("skipped", skipped).Msg("Skipped undecodable attendance records")
	}

	out := make([]models.RawRecord, len(recs))
	for i, r := range recs {
		out[i] = r
	}
	return out, nil
}

// uidMap is best effort; on failure the 8-byte layout falls back to slot numbers.
func (c *ZKClient) uidMap(ctx context.Context) map[uint16]string {
	users, err := c.listUsers(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Could not read users for slot mapping")
		return nil
	}
	m := make(map[uint16]string, len(users))
	for _, u := range users {
		m[uint16(u.UID)] = u.UserID
	}
	return m
}

func (c *ZKClient) refreshSizes(ctx context.Context) error {
	resp, err := c.exchange(ctx, zkCmdGetFreeSizes, nil)
	if err != nil {
		return err
	}
	if resp.Command != zkCmdAckOK {
		return fmt.Errorf("free sizes: unexpected reply %d", resp.Command)
	}
	sizes, err := decodeZKSizes(resp.Payload)
	if err != nil {
		return err
	}
	c.sizes = sizes
	return nil
}

// readWithBuffer runs the PREPARE_BUFFER / READ_BUFFER / FREE_DATA sequence.
// Small results come back inline as a single CMD_DATA reply.
func (c *ZKClient) readWithBuffer(ctx context.Context, command uint16, fct uint32) ([]byte, error) {
	resp, err := c.exchange(ctx, zkCmdPrepareBuffer, zkBufferRequest(command, fct, 0))
	if err != nil {
		return nil, err
	}
	switch resp.Command {
	case zkCmdData:
		return resp.Payload, nil
	case zkCmdAckOK:
	default:
		return nil, fmt.Errorf("prepare buffer: unexpected reply %d", resp.Command)
	}
	if len(resp.Payload) < 5 {
		return nil, fmt.Errorf("prepare buffer: short size reply")
	}
	size := int(binary.LittleEndian.Uint32(resp.Payload[1:]))

	out := make([]byte, 0, size)
	for start := 0; start < size; start += zkMaxChunk {
		n := size - start
		if n > zkMaxChunk {
			n = zkMaxChunk
		}
		chunk, err := c.readChunk(ctx, start, n)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}

	if _, err := c.exchange(ctx, zkCmdFreeData, nil); err != nil {
		c.log.Debug().Err(err).Msg("FREE_DATA failed")
	}
	return out, nil
}

func (c *ZKClient) readChunk(ctx context.Context, start, size int) ([]byte, error) {
	resp, err := c.exchange(ctx, zkCmdReadBuffer, zkChunkRequest(start, size))
	if err != nil {
		return nil, err
	}
	switch resp.Command {
	case zkCmdData:
		return resp.Payload, nil
	case zkCmdPrepareData:
	default:
		return nil, fmt.Errorf("read chunk at %d: unexpected reply %d", start, resp.Command)
	}

	// PREPARE_DATA announces a stream of CMD_DATA datagrams closed by ACK_OK.
	want := size
	if len(resp.Payload) >= 4 {
		want = int(binary.LittleEndian.Uint32(resp.Payload))
	}
	data := make([]byte, 0, want)
	for {
		pkt, err := c.receive(ctx)
		if err != nil {
			if len(data) >= want && isTimeout(err) {
				return data, nil
			}
			return nil, err
		}
		switch pkt.Command {
		case zkCmdData:
			data = append(data, pkt.Payload...)
		case zkCmdAckOK:
			return data, nil
		default:
			return nil, fmt.Errorf("read chunk at %d: unexpected packet %d", start, pkt.Command)
		}
	}
}

// exchange sends one command and waits for its reply. Must be called with
// the semaphore held.
func (c *ZKClient) exchange(ctx context.Context, command uint16, payload []byte) (*zkPacket, error) {
	conn := c.currentConn()
	if conn == nil {
		return nil, ErrNotConnected
	}
	if command != zkCmdConnect {
		c.replyID++
		if c.replyID >= zkUSHRTMax {
			c.replyID -= zkUSHRTMax
		}
	}

	if err := conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}
	if _, err := conn.Write(encodeZKPacket(command, c.sessionID, c.replyID, payload)); err != nil {
		return nil, fmt.Errorf("write command %d: %w", command, err)
	}

	resp, err := c.receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("command %d: %w", command, err)
	}
	if resp.Command == zkCmdAckError {
		return resp, fmt.Errorf("command %d: device returned ACK_ERROR", command)
	}
	return resp, nil
}

// receive reads one datagram, bounded by the request timeout and ctx.
func (c *ZKClient) receive(ctx context.Context) (*zkPacket, error) {
	conn := c.currentConn()
	if conn == nil {
		return nil, ErrNotConnected
	}
	if err := conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	buf := make([]byte, zkMaxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return decodeZKPacket(buf[:n])
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
