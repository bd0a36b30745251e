package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/receptionist-dialer/internal/domain"
	"github.com/acme/receptionist-dialer/internal/repository"
)

// TenantRepository resolves per-tenant dialing limits.
type TenantRepository struct {
	db *sqlx.DB
}

// NewTenantRepository constructs the repository.
func NewTenantRepository(db *sqlx.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// GetSettings fetches the tenant's limits. ErrNotFound means the caller
// should use configured defaults.
func (r *TenantRepository) GetSettings(ctx context.Context, tenantID uuid.UUID) (*domain.TenantSettings, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT
		tenant_id, max_concurrent_calls, daily_call_cap, max_attempts, time_zone
		FROM tenant_settings WHERE tenant_id = $1`, tenantID)

	var rec struct {
		TenantID           uuid.UUID `db:"tenant_id"`
		MaxConcurrentCalls int       `db:"max_concurrent_calls"`
		DailyCallCap       int       `db:"daily_call_cap"`
		MaxAttempts        int       `db:"max_attempts"`
		TimeZone           string    `db:"time_zone"`
	}
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("tenant repo: get settings: %w", err)
	}

	return &domain.TenantSettings{
		TenantID:           rec.TenantID,
		MaxConcurrentCalls: rec.MaxConcurrentCalls,
		DailyCallCap:       rec.DailyCallCap,
		MaxAttempts:        rec.MaxAttempts,
		TimeZone:           rec.TimeZone,
	}, nil
}

// UpsertSettings writes the tenant's limits.
func (r *TenantRepository) UpsertSettings(ctx context.Context, settings *domain.TenantSettings) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO tenant_settings
		(tenant_id, max_concurrent_calls, daily_call_cap, max_attempts, time_zone)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id) DO UPDATE SET
			max_concurrent_calls = EXCLUDED.max_concurrent_calls,
			daily_call_cap = EXCLUDED.daily_call_cap,
			max_attempts = EXCLUDED.max_attempts,
			time_zone = EXCLUDED.time_zone`,
		settings.TenantID, settings.MaxConcurrentCalls, settings.DailyCallCap,
		settings.MaxAttempts, settings.TimeZone)
	if err != nil {
		return fmt.Errorf("tenant repo: upsert settings: %w", err)
	}
	return nil
}
