package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/receptionist-dialer/internal/domain"
	"github.com/acme/receptionist-dialer/internal/repository"
	apperrors "github.com/acme/receptionist-dialer/pkg/errors"
	"github.com/acme/receptionist-dialer/pkg/phone"
)

// Gate answers whether a number may be dialed for a tenant. It must be
// consulted immediately before every dispatch attempt, never only at enqueue
// time: a number added to the registry after an item was queued still blocks
// the dial.
type Gate struct {
	repo repository.DNCRepository
}

// NewGate constructs the compliance gate.
func NewGate(repo repository.DNCRepository) *Gate {
	return &Gate{repo: repo}
}

// Check reports whether the number is blocked for the tenant. The raw number
// is normalized before lookup; malformed numbers are rejected, not coerced.
func (g *Gate) Check(ctx context.Context, tenantID uuid.UUID, rawPhone string) (bool, error) {
	normalized, err := phone.NormalizeE164(rawPhone)
	if err != nil {
		return false, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	blocked, err := g.repo.Exists(ctx, tenantID, normalized)
	if err != nil {
		return false, fmt.Errorf("compliance gate: check: %w", err)
	}
	return blocked, nil
}

// Add suppresses a number for the tenant. Adding an already-present number
// returns ErrConflict rather than creating a duplicate row.
func (g *Gate) Add(ctx context.Context, tenantID uuid.UUID, rawPhone string, reason domain.DNCReason, addedBy string) (*domain.DNCEntry, error) {
	normalized, err := phone.NormalizeE164(rawPhone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	if !domain.ValidDNCReason(reason) {
		return nil, fmt.Errorf("%w: unknown dnc reason %q", apperrors.ErrValidation, reason)
	}

	entry := &domain.DNCEntry{
		TenantID:  tenantID,
		Phone:     normalized,
		Reason:    reason,
		AddedBy:   addedBy,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.repo.Add(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Remove lifts the suppression for a number.
func (g *Gate) Remove(ctx context.Context, tenantID uuid.UUID, rawPhone string) error {
	normalized, err := phone.NormalizeE164(rawPhone)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	return g.repo.Remove(ctx, tenantID, normalized)
}

// List pages through the tenant's registry with optional phone search.
func (g *Gate) List(ctx context.Context, tenantID uuid.UUID, search string, offset, limit int) ([]*domain.DNCEntry, int64, error) {
	return g.repo.List(ctx, tenantID, search, offset, limit)
}
