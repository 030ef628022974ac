// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is used when NewBasicAuthManager is given a zero cost.
const DefaultBcryptCost = 12

// MinPasswordLength is the shortest accepted webhook password.
const MinPasswordLength = 8

var (
	// ErrNoCredentials means the request carried no Basic Authorization header.
	ErrNoCredentials = errors.New("no credentials provided")

	// ErrInvalidCredentials means the header was malformed or did not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// BasicAuthManager verifies HTTP Basic credentials against one configured
// username and a bcrypt hash of its password.
type BasicAuthManager struct {
	username     string
	passwordHash []byte
	realm        string
}

// NewBasicAuthManager hashes password once at startup. cost <= 0 selects
// DefaultBcryptCost.
func NewBasicAuthManager(username, password string, cost int) (*BasicAuthManager, error) {
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if cost <= 0 {
		cost = DefaultBcryptCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	return &BasicAuthManager{
		username:     username,
		passwordHash: hash,
		realm:        "Gymbridge",
	}, nil
}

// ValidateCredentials checks an Authorization header value and returns the
// username on success.
func (m *BasicAuthManager) ValidateCredentials(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrNoCredentials
	}
	encoded, ok := strings.CutPrefix(authHeader, "Basic ")
	if !ok {
		return "", ErrNoCredentials
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", fmt.Errorf("%w: bad encoding", ErrInvalidCredentials)
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", fmt.Errorf("%w: missing separator", ErrInvalidCredentials)
	}

	if !m.match(username, password) {
		return "", ErrInvalidCredentials
	}
	return username, nil
}

// match compares both fields without short-circuiting.
func (m *BasicAuthManager) match(username, password string) bool {
	usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(m.username)) == 1
	passwordMatch := bcrypt.CompareHashAndPassword(m.passwordHash, []byte(password)) == nil
	return usernameMatch && passwordMatch
}

// WWWAuthenticate is the challenge sent with 401 responses.
func (m *BasicAuthManager) WWWAuthenticate() string {
	return fmt.Sprintf(`Basic realm=%q, charset="UTF-8"`, m.realm)
}
