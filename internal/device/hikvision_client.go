// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

/*
hikvision_client.go - Hikvision ISAPI client

Requests use HTTP Basic Auth against fixed ISAPI paths. JSON is requested
with ?format=json where the firmware supports it, but every decoder also
accepts the XML form since older terminals ignore the format parameter.

Attendance is read with the AcsEvent search, paged while the device
answers responseStatusStrg=MORE. The search window starts at the
watermark handed in by the connection supervisor (or now minus the
initial lookback) and ends at the time of the call.
*/

package device

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/gymbridge/internal/config"
	"github.com/tomtom215/gymbridge/internal/logging"
	"github.com/tomtom215/gymbridge/internal/models"
	"github.com/tomtom215/gymbridge/internal/validation"
)

// HikvisionClientInterface is the adapter plus the provisioning calls
// only ISAPI terminals support.
type HikvisionClientInterface interface {
	Adapter
	SetWatermark(t time.Time)
	CreateUser(ctx context.Context, user UserRecord) error
	DeleteUser(ctx context.Context, employeeNo string) error
	EnrollFingerprint(ctx context.Context, employeeNo string, fingerNo, cardReaderNo int) (*FingerprintResult, error)
}

var _ HikvisionClientInterface = (*HikvisionClient)(nil)

// HikvisionClient is an ISAPI client for one terminal.
type HikvisionClient struct {
	id              string
	host            string
	baseURL         string
	username        string
	password        string
	client          *http.Client
	loc             *time.Location
	pageSize        int
	initialLookback time.Duration
	limiter         *rate.Limiter
	now             func() time.Time
	log             zerolog.Logger

	mu          sync.Mutex
	watermark   time.Time
	lastDevTime time.Time
}

// NewHikvisionClient creates a client. No request is made until Connect.
//
//nolint:gocritic // DeviceConfig is small and read-only here
func NewHikvisionClient(cfg config.DeviceConfig) *HikvisionClient {
	scheme := "http"
	if cfg.UseTLS {
		scheme = "https"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 30
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.UseTLS && cfg.InsecureSkipVerify {
		//nolint:gosec // terminals ship self-signed certificates; opt-in only
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &HikvisionClient{
		id:              cfg.ID,
		host:            cfg.Host,
		baseURL:         fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))),
		username:        cfg.Username,
		password:        cfg.Password,
		client:          &http.Client{Timeout: timeout, Transport: transport},
		loc:             cfg.Location(),
		pageSize:        pageSize,
		initialLookback: cfg.InitialLookback,
		limiter:         limiter,
		now:             time.Now,
		log:             logging.With().Str("device", cfg.ID).Str("vendor", string(models.VendorHikvision)).Logger(),
	}
}

// Vendor implements Adapter.
func (c *HikvisionClient) Vendor() models.Vendor { return models.VendorHikvision }

// SourceID implements Adapter.
func (c *HikvisionClient) SourceID() string { return c.host }

// SetWatermark sets the start of the next event search window.
func (c *HikvisionClient) SetWatermark(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watermark = t
}

// windowStart returns the search start for a poll at device time now. A
// device clock that is behind the watermark, or behind the previous poll,
// was set back; the window is rewound to now minus the initial lookback
// and stays there until the supervisor pushes a newer watermark.
func (c *HikvisionClient) windowStart(now time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	steppedBack := !c.lastDevTime.IsZero() && now.Before(c.lastDevTime)
	c.lastDevTime = now

	if c.watermark.IsZero() {
		return now.Add(-c.initialLookback)
	}
	if steppedBack || now.Before(c.watermark) {
		rewound := now.Add(-c.initialLookback)
		c.log.Warn().
			Time("device_time", now).
			Time("watermark", c.watermark).
			Time("rewound_to", rewound).
			Msg("Device clock is behind the event watermark, rewinding search window")
		c.watermark = rewound
	}
	return c.watermark
}

// deviceNow reads the terminal clock so the search window is in device
// time. Host time is used when the terminal does not answer.
func (c *HikvisionClient) deviceNow(ctx context.Context) time.Time {
	var t hikTime
	err := c.doRequest(ctx, requestConfig{method: http.MethodGet, path: hikPathSystemTime}, &t)
	if err == nil {
		var parsed time.Time
		if parsed, err = parseHikTime(t.LocalTime, c.loc); err == nil {
			return parsed
		}
	}
	c.log.Debug().Err(err).Msg("Device clock unavailable, using host time")
	return c.now()
}

func parseHikTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(hikTimeLayout, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", s, loc)
}

// Connect probes deviceInfo; the HTTP API has no session to open.
func (c *HikvisionClient) Connect(ctx context.Context) error {
	if _, err := c.GetDeviceInfo(ctx); err != nil {
		return connErr(c.id, "connect", err)
	}
	return nil
}

// Disconnect implements Adapter.
func (c *HikvisionClient) Disconnect(_ context.Context) error {
	c.client.CloseIdleConnections()
	return nil
}

// GetDeviceInfo implements Adapter.
func (c *HikvisionClient) GetDeviceInfo(ctx context.Context) (*models.DeviceInfo, error) {
	var info hikDeviceInfo
	if err := c.doRequest(ctx, requestConfig{
		method: http.MethodGet,
		path:   hikPathDeviceInfo,
	}, &info); err != nil {
		return nil, connErr(c.id, "device info", err)
	}
	return &models.DeviceInfo{
		Vendor:   models.VendorHikvision,
		Name:     info.DeviceName,
		Model:    info.Model,
		Firmware: info.FirmwareVersion,
		Serial:   info.SerialNumber,
		MAC:      info.MACAddress,
	}, nil
}

// ListAttendanceEvents implements Adapter. The search window runs from the
// watermark to the terminal's own clock. Door and alarm events without an
// employee number are returned too; the normalizer rejects them.
func (c *HikvisionClient) ListAttendanceEvents(ctx context.Context) ([]models.RawRecord, error) {
	now := c.deviceNow(ctx)
	start := c.windowStart(now)
	searchID := uuid.NewString()

	var out []models.RawRecord
	for pos := 0; ; {
		page, err := c.searchEvents(ctx, hikAcsEventCond{
			SearchID:             searchID,
			SearchResultPosition: pos,
			MaxResults:           c.pageSize,
			Major:                hikMajorEvent,
			StartTime:            start.In(c.loc).Format(hikTimeLayout),
			EndTime:              now.In(c.loc).Format(hikTimeLayout),
		})
		if err != nil {
			return nil, connErr(c.id, "event search", err)
		}

		for i := range page.InfoList {
			ev := page.InfoList[i]
			ev.Source = c.host
			out = append(out, &ev)
		}

		pos += len(page.InfoList)
		if page.ResponseStatusStrg != hikStatusMore || len(page.InfoList) == 0 {
			break
		}
	}

	return out, nil
}

func (c *HikvisionClient) searchEvents(ctx context.Context, cond hikAcsEventCond) (*hikAcsEventPage, error) {
	body, err := json.Marshal(hikAcsEventRequest{AcsEventCond: cond})
	if err != nil {
		return nil, fmt.Errorf("encode search: %w", err)
	}

	raw, err := c.doRaw(ctx, requestConfig{
		method:      http.MethodPost,
		path:        hikPathAcsEvent,
		query:       url.Values{"format": []string{"json"}},
		body:        body,
		contentType: "application/json",
	})
	if err != nil {
		return nil, err
	}
	return decodeAcsEventPage(raw)
}

// decodeAcsEventPage accepts {"AcsEvent":{...}} or <AcsEvent>...</AcsEvent>.
func decodeAcsEventPage(raw []byte) (*hikAcsEventPage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '<' {
		var page hikAcsEventPage
		if err := xml.Unmarshal(trimmed, &page); err != nil {
			return nil, fmt.Errorf("decode AcsEvent xml: %w", err)
		}
		return &page, nil
	}
	var resp hikAcsEventResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, fmt.Errorf("decode AcsEvent json: %w", err)
	}
	return &resp.AcsEvent, nil
}

// ListUsers implements Adapter.
func (c *HikvisionClient) ListUsers(ctx context.Context) ([]models.DeviceUser, error) {
	searchID := uuid.NewString()
	var users []models.DeviceUser
	for pos := 0; ; {
		var resp hikUserSearchResponse
		err := c.doJSON(ctx, http.MethodPost, hikPathUserSearch, hikUserSearchRequest{
			UserInfoSearchCond: hikUserSearchCond{
				SearchID:             searchID,
				SearchResultPosition: pos,
				MaxResults:           c.pageSize,
			},
		}, &resp)
		if err != nil {
			return nil, connErr(c.id, "list users", err)
		}

		page := resp.UserInfoSearch
		for _, u := range page.UserInfo {
			users = append(users, models.DeviceUser{UserID: string(u.EmployeeNo), Name: u.Name})
		}
		pos += len(page.UserInfo)
		if page.ResponseStatusStrg != hikStatusMore || len(page.UserInfo) == 0 {
			break
		}
	}
	return users, nil
}

// CreateUser adds a user record to the terminal.
func (c *HikvisionClient) CreateUser(ctx context.Context, user UserRecord) error {
	if verr := validation.ValidateStruct(&user); verr != nil {
		return verr
	}
	begin := user.ValidFrom
	if begin.IsZero() {
		begin = c.now()
	}
	end := user.ValidTo
	if end.IsZero() {
		end = begin.AddDate(10, 0, 0)
	}

	req := hikUserRecordRequest{UserInfo: hikUserInfo{
		EmployeeNo: models.FlexString(user.EmployeeNo),
		Name:       user.Name,
		UserType:   "normal",
		Valid: &hikUserValidity{
			Enable:    true,
			BeginTime: begin.In(c.loc).Format("2006-01-02T15:04:05"),
			EndTime:   end.In(c.loc).Format("2006-01-02T15:04:05"),
		},
	}}
	if err := c.doJSON(ctx, http.MethodPost, hikPathUserRecord, req, nil); err != nil {
		return connErr(c.id, "create user", err)
	}
	return nil
}

// DeleteUser removes a user (and their credentials) from the terminal.
func (c *HikvisionClient) DeleteUser(ctx context.Context, employeeNo string) error {
	if strings.TrimSpace(employeeNo) == "" {
		return fmt.Errorf("employee number is required")
	}
	var req hikUserDeleteRequest
	req.UserInfoDelCond.EmployeeNoList = []hikEmployeeRef{{EmployeeNo: employeeNo}}
	if err := c.doJSON(ctx, http.MethodPut, hikPathUserDelete, req, nil); err != nil {
		return connErr(c.id, "delete user", err)
	}
	return nil
}

// EnrollFingerprint captures a finger on the terminal's reader and binds the
// template to employeeNo. The call blocks while the user places the finger,
// bounded by the client timeout.
func (c *HikvisionClient) EnrollFingerprint(ctx context.Context, employeeNo string, fingerNo, cardReaderNo int) (*FingerprintResult, error) {
	if strings.TrimSpace(employeeNo) == "" {
		return nil, fmt.Errorf("employee number is required")
	}
	if fingerNo < 1 || fingerNo > 10 {
		return nil, fmt.Errorf("finger number must be between 1 and 10, got %d", fingerNo)
	}
	if cardReaderNo < 1 {
		cardReaderNo = 1
	}

	body, err := xml.Marshal(hikCaptureFingerCond{
		Version:  "2.0",
		XMLNS:    "http://www.isapi.org/ver20/XMLSchema",
		FingerNo: fingerNo,
	})
	if err != nil {
		return nil, fmt.Errorf("encode capture request: %w", err)
	}

	var captured hikCaptureFingerResult
	if err := c.doRequest(ctx, requestConfig{
		method:      http.MethodPost,
		path:        hikPathCaptureFinger,
		body:        body,
		contentType: "application/xml",
	}, &captured); err != nil {
		return nil, connErr(c.id, "capture fingerprint", err)
	}
	if captured.FingerData == "" {
		return nil, fmt.Errorf("device %s: capture returned no fingerprint data", c.id)
	}

	req := hikFingerprintRequest{FingerPrintCfg: hikFingerprintCfg{
		EmployeeNo:       employeeNo,
		EnableCardReader: []int{cardReaderNo},
		FingerPrintID:    fingerNo,
		FingerType:       "normalFP",
		FingerData:       captured.FingerData,
	}}
	if err := c.doJSON(ctx, http.MethodPost, hikPathFingerprintSetup, req, nil); err != nil {
		return nil, connErr(c.id, "store fingerprint", err)
	}

	return &FingerprintResult{EmployeeNo: employeeNo, FingerNo: fingerNo, Quality: captured.FingerPrintQuality}, nil
}

type requestConfig struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
}

// doJSON sends a JSON body with ?format=json and decodes a JSON or XML reply.
func (c *HikvisionClient) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.doRequest(ctx, requestConfig{
		method:      method,
		path:        path,
		query:       url.Values{"format": []string{"json"}},
		body:        body,
		contentType: "application/json",
	}, out)
}

func (c *HikvisionClient) doRequest(ctx context.Context, cfg requestConfig, out interface{}) error {
	raw, err := c.doRaw(ctx, cfg)
	if err != nil {
		return err
	}
	if out == nil {
		return checkStatusDocument(raw)
	}
	return decodeBody(raw, out)
}

// doRaw executes the request and returns the body of a 2xx response.
// Non-2xx responses become errors carrying the ISAPI status text.
func (c *HikvisionClient) doRaw(ctx context.Context, cfg requestConfig) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reqURL := c.baseURL + cfg.path
	if len(cfg.query) > 0 {
		reqURL += "?" + cfg.query.Encode()
	}

	var body io.Reader = http.NoBody
	if cfg.body != nil {
		body = bytes.NewReader(cfg.body)
	}
	req, err := http.NewRequestWithContext(ctx, cfg.method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	if cfg.contentType != "" {
		req.Header.Set("Content-Type", cfg.contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", cfg.method, cfg.path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var st hikStatus
		if decodeBody(raw, &st) == nil && st.StatusString != "" {
			return nil, fmt.Errorf("%s %s: status %d: %s (%s)", cfg.method, cfg.path, resp.StatusCode, st.StatusString, st.SubStatusCode)
		}
		return nil, fmt.Errorf("%s %s: status %d: %s", cfg.method, cfg.path, resp.StatusCode, truncate(string(raw), 200))
	}
	return raw, nil
}

func decodeBody(raw []byte, out interface{}) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty response body")
	}
	if trimmed[0] == '<' {
		if err := xml.Unmarshal(trimmed, out); err != nil {
			return fmt.Errorf("decode xml: %w", err)
		}
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// checkStatusDocument rejects 200 responses whose body reports a failure.
func checkStatusDocument(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var st hikStatus
	if err := decodeBody(raw, &st); err != nil {
		return nil
	}
	if st.StatusCode > 1 {
		msg := st.StatusString
		if st.ErrorMsg != "" {
			msg += ": " + st.ErrorMsg
		}
		return fmt.Errorf("device rejected request: %s (%s)", msg, st.SubStatusCode)
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
