// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

// Package auth protects the push endpoints with HTTP Basic Auth.
//
// Terminals such as Hikvision readers can attach a username and password to
// their HTTP host notifications. When WEBHOOK_USERNAME is set, the webhook
// routes require those credentials; the password is kept only as a bcrypt
// hash and the username is compared in constant time.
//
// Status endpoints are not protected.
package auth
