// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package device

import (
	"encoding/xml"
	"time"

	"github.com/tomtom215/gymbridge/internal/models"
)

// ISAPI paths used by the adapter.
const (
	hikPathDeviceInfo       = "/ISAPI/System/deviceInfo"
	hikPathSystemTime       = "/ISAPI/System/time"
	hikPathAcsEvent         = "/ISAPI/AccessControl/AcsEvent"
	hikPathUserSearch       = "/ISAPI/AccessControl/UserInfo/Search"
	hikPathUserRecord       = "/ISAPI/AccessControl/UserInfo/Record"
	hikPathUserDelete       = "/ISAPI/AccessControl/UserInfo/Delete"
	hikPathCaptureFinger    = "/ISAPI/AccessControl/CaptureFingerPrint"
	hikPathFingerprintSetup = "/ISAPI/AccessControl/FingerPrintDownload"

	// hikMajorEvent is the "event" major type that carries authentication results.
	hikMajorEvent = 5

	hikTimeLayout = "2006-01-02T15:04:05-07:00"

	hikStatusMore = "MORE"
)

type hikDeviceInfo struct {
	XMLName         xml.Name `xml:"DeviceInfo"`
	DeviceName      string   `xml:"deviceName"`
	DeviceID        string   `xml:"deviceID"`
	Model           string   `xml:"model"`
	SerialNumber    string   `xml:"serialNumber"`
	MACAddress      string   `xml:"macAddress"`
	FirmwareVersion string   `xml:"firmwareVersion"`
}

// hikTime is the terminal clock, /ISAPI/System/time.
type hikTime struct {
	XMLName   xml.Name `xml:"Time"`
	TimeMode  string   `xml:"timeMode"`
	LocalTime string   `xml:"localTime"`
	TimeZone  string   `xml:"timeZone"`
}

type hikAcsEventCond struct {
	SearchID             string `json:"searchID"`
	SearchResultPosition int    `json:"searchResultPosition"`
	MaxResults           int    `json:"maxResults"`
	Major                int    `json:"major"`
	Minor                int    `json:"minor"`
	StartTime            string `json:"startTime"`
	EndTime              string `json:"endTime"`
}

type hikAcsEventRequest struct {
	AcsEventCond hikAcsEventCond `json:"AcsEventCond"`
}

// hikAcsEventPage is one page of search results in either encoding.
type hikAcsEventPage struct {
	SearchID           string                  `json:"searchID" xml:"searchID"`
	ResponseStatusStrg string                  `json:"responseStatusStrg" xml:"responseStatusStrg"`
	NumOfMatches       int                     `json:"numOfMatches" xml:"numOfMatches"`
	TotalMatches       int                     `json:"totalMatches" xml:"totalMatches"`
	InfoList           []models.HikvisionEvent `json:"InfoList" xml:"InfoList>Info"`
}

type hikAcsEventResponse struct {
	AcsEvent hikAcsEventPage `json:"AcsEvent"`
}

type hikUserSearchCond struct {
	SearchID             string `json:"searchID"`
	SearchResultPosition int    `json:"searchResultPosition"`
	MaxResults           int    `json:"maxResults"`
}

type hikUserSearchRequest struct {
	UserInfoSearchCond hikUserSearchCond `json:"UserInfoSearchCond"`
}

type hikUserInfo struct {
	EmployeeNo models.FlexString `json:"employeeNo"`
	Name       string            `json:"name"`
	UserType   string            `json:"userType,omitempty"`
	Valid      *hikUserValidity  `json:"Valid,omitempty"`
}

type hikUserValidity struct {
	Enable    bool   `json:"enable"`
	BeginTime string `json:"beginTime"`
	EndTime   string `json:"endTime"`
}

type hikUserSearchResponse struct {
	UserInfoSearch struct {
		SearchID           string        `json:"searchID"`
		ResponseStatusStrg string        `json:"responseStatusStrg"`
		NumOfMatches       int           `json:"numOfMatches"`
		TotalMatches       int           `json:"totalMatches"`
		UserInfo           []hikUserInfo `json:"UserInfo"`
	} `json:"UserInfoSearch"`
}

type hikUserRecordRequest struct {
	UserInfo hikUserInfo `json:"UserInfo"`
}

type hikEmployeeRef struct {
	EmployeeNo string `json:"employeeNo"`
}

type hikUserDeleteRequest struct {
	UserInfoDelCond struct {
		EmployeeNoList []hikEmployeeRef `json:"EmployeeNoList"`
	} `json:"UserInfoDelCond"`
}

type hikCaptureFingerCond struct {
	XMLName  xml.Name `xml:"CaptureFingerPrintCond"`
	Version  string   `xml:"version,attr"`
	XMLNS    string   `xml:"xmlns,attr"`
	FingerNo int      `xml:"fingerNo"`
}

type hikCaptureFingerResult struct {
	XMLName            xml.Name `xml:"CaptureFingerPrint"`
	FingerData         string   `xml:"fingerData"`
	FingerNo           int      `xml:"fingerNo"`
	FingerPrintQuality int      `xml:"fingerPrintQuality"`
}

type hikFingerprintCfg struct {
	EmployeeNo       string `json:"employeeNo"`
	EnableCardReader []int  `json:"enableCardReader"`
	FingerPrintID    int    `json:"fingerPrintID"`
	FingerType       string `json:"fingerType"`
	FingerData       string `json:"fingerData"`
}

type hikFingerprintRequest struct {
	FingerPrintCfg hikFingerprintCfg `json:"FingerPrintCfg"`
}

// hikStatus is the generic ISAPI status document.
type hikStatus struct {
	StatusCode    int    `json:"statusCode" xml:"statusCode"`
	StatusString  string `json:"statusString" xml:"statusString"`
	SubStatusCode string `json:"subStatusCode" xml:"subStatusCode"`
	ErrorMsg      string `json:"errorMsg" xml:"errorMsg"`
}

// UserRecord describes a user to provision on a Hikvision terminal.
type UserRecord struct {
	EmployeeNo string    `json:"employee_no" validate:"required,max=32"`
	Name       string    `json:"name" validate:"required,max=32"`
	ValidFrom  time.Time `json:"valid_from"`
	ValidTo    time.Time `json:"valid_to"`
}

// FingerprintResult reports a completed enrollment.
type FingerprintResult struct {
	EmployeeNo string `json:"employee_no"`
	FingerNo   int    `json:"finger_no"`
	Quality    int    `json:"quality"`
}
