// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomtom215/gymbridge/internal/logging"
	"github.com/tomtom215/gymbridge/internal/metrics"
)

type contextKey struct{}

// UsernameFromContext returns the authenticated caller, or "" when the
// request did not pass through RequireBasic.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKey{}).(string); ok {
		return v
	}
	return ""
}

// RequireBasic rejects requests without valid Basic credentials.
func RequireBasic(m *BasicAuthManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, err := m.ValidateCredentials(r.Header.Get("Authorization"))
			if err != nil {
				reason := "invalid"
				if errors.Is(err, ErrNoCredentials) {
					reason = "missing"
				}
				metrics.WebhookAuthFailures.WithLabelValues(reason).Inc()
				logging.Ctx(r.Context()).Warn().
					Err(err).
					Str("remote_addr", r.RemoteAddr).
					Msg("Webhook authentication failed")

				w.Header().Set("WWW-Authenticate", m.WWWAuthenticate())
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, username)))
		})
	}
}
