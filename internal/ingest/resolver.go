// Gymbridge - Biometric Attendance Bridge
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gymbridge

package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tomtom215/gymbridge/internal/logging"
	"github.com/tomtom215/gymbridge/internal/models"
)

// ErrUnresolved means no single member matches a device user id. It is a
// normal outcome, not a failure.
var ErrUnresolved = errors.New("member not resolved")

// Resolver maps device user ids to members.
type Resolver struct {
	members MemberFinder
}

// NewResolver creates a resolver over members.
func NewResolver(members MemberFinder) *Resolver {
	return &Resolver{members: members}
}

// Resolve returns the one member whose external id equals deviceUserID.
// Zero or several matches return ErrUnresolved.
func (r *Resolver) Resolve(ctx context.Context, deviceUserID string) (*models.Member, error) {
	id := strings.TrimSpace(deviceUserID)
	if id == "" {
		return nil, fmt.Errorf("%w: empty device user id", ErrUnresolved)
	}

	matches, err := r.members.FindMembersByExternalID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve member %q: %w", id, err)
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: no member with id %q", ErrUnresolved, id)
	case 1:
		m := matches[0]
		return &m, nil
	default:
		logging.Ctx(ctx).Warn().
			Str("device_user_id", id).
			Int("matches", len(matches)).
			Msg("Ambiguous member id, refusing to guess")
		return nil, fmt.Errorf("%w: %d members share id %q", ErrUnresolved, len(matches), id)
	}
}
