package services

import (
	"context"
	"errors"
	"fmt"
	"ticket-ledger/internal/derive"
	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/status"
	"ticket-ledger/models"
)

// PermissionService decides who may create events and at what platform
// fee. Lookups always hit the ledger: permission can be revoked between
// sessions, so there is deliberately no cache here.
type PermissionService struct {
	gateway ledger.Gateway

	// adminAddress is the ledger-level administrative authority, which
	// is always an allowed organizer at zero platform fee.
	adminAddress string
}

func NewPermissionService(gateway ledger.Gateway, adminAddress string) *PermissionService {
	return &PermissionService{gateway: gateway, adminAddress: adminAddress}
}

// IsAllowedOrganizer reports whether identity may create events, and the
// platform fee (basis points) its events carry.
func (s *PermissionService) IsAllowedOrganizer(ctx context.Context, identity string) (bool, int, error) {
	if identity == s.adminAddress {
		return true, 0, nil
	}

	addr, err := derive.WhitelistAddress(identity)
	if err != nil {
		return false, 0, err
	}

	state, err := s.gateway.FetchAccount(ctx, addr.String())
	if errors.Is(err, status.ErrNotFound) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("isAllowedOrganizer: %w", err)
	}

	var entry models.PermissionEntry
	if err := state.Decode(&entry); err != nil {
		return false, 0, err
	}

	if !entry.Active || !entry.IsOrganizer {
		return false, 0, nil
	}

	return true, entry.FeeBps, nil
}

// RequireOrganizer is IsAllowedOrganizer for call sites that gate an
// operation rather than compute a fee.
func (s *PermissionService) RequireOrganizer(ctx context.Context, identity string) (int, error) {
	allowed, feeBps, err := s.IsAllowedOrganizer(ctx, identity)
	if err != nil {
		return 0, err
	}
	if !allowed {
		return 0, status.ErrNotAuthorized
	}
	return feeBps, nil
}
