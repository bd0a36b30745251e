package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/receptionist-dialer/internal/domain"
	"github.com/acme/receptionist-dialer/internal/repository"
)

const campaignColumns = `id, tenant_id, name, type, status, settings,
	created_at, updated_at, started_at, completed_at`

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create inserts a new campaign.
func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign) error {
	settings, err := json.Marshal(campaign.Settings)
	if err != nil {
		return fmt.Errorf("campaign repo: marshal settings: %w", err)
	}

	q := `INSERT INTO campaigns (
		id, tenant_id, name, type, status, settings, created_at, updated_at, started_at, completed_at
	) VALUES (
		:id, :tenant_id, :name, :type, :status, :settings, :created_at, :updated_at, :started_at, :completed_at
	)`

	params := map[string]any{
		"id":           campaign.ID,
		"tenant_id":    campaign.TenantID,
		"name":         campaign.Name,
		"type":         campaign.Type,
		"status":       campaign.Status,
		"settings":     settings,
		"created_at":   campaign.CreatedAt,
		"updated_at":   campaign.UpdatedAt,
		"started_at":   campaign.StartedAt,
		"completed_at": campaign.CompletedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("campaign repo: insert: %w", err)
	}
	return nil
}

// Get fetches a campaign by id, scoped to the tenant.
func (r *CampaignRepository) Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.Campaign, error) {
	row := r.db.QueryRowxContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)

	var rec campaignRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}
	return rec.toDomain()
}

// UpdateStatus transitions a campaign, stamping started/completed times.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status domain.CampaignStatus) error {
	q := `UPDATE campaigns SET status = $3, updated_at = NOW(),
		started_at = CASE WHEN $3 = 'running' AND started_at IS NULL THEN NOW() ELSE started_at END,
		completed_at = CASE WHEN $3 = 'completed' THEN NOW() ELSE completed_at END
		WHERE tenant_id = $1 AND id = $2`

	res, err := r.db.ExecContext(ctx, q, tenantID, id, status)
	if err != nil {
		return fmt.Errorf("campaign repo: update status: %w", err)
	}
	n, err := rowsAffected(res, "campaign repo: update status")
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// List returns the tenant's campaigns with keyset pagination.
func (r *CampaignRepository) List(ctx context.Context, tenantID uuid.UUID, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sqlx.Rows
	var err error
	if afterID != nil {
		rows, err = r.db.QueryxContext(ctx, `SELECT `+campaignColumns+`
			FROM campaigns WHERE tenant_id = $1 AND id > $2 ORDER BY id ASC LIMIT $3`,
			tenantID, *afterID, limit)
	} else {
		rows, err = r.db.QueryxContext(ctx, `SELECT `+campaignColumns+`
			FROM campaigns WHERE tenant_id = $1 ORDER BY id ASC LIMIT $2`,
			tenantID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list: %w", err)
	}
	defer rows.Close()

	return collectCampaigns(rows)
}

// ListRunning returns running campaigns across all tenants for the scheduler.
func (r *CampaignRepository) ListRunning(ctx context.Context, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+campaignColumns+`
		FROM campaigns WHERE status = 'running' ORDER BY updated_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list running: %w", err)
	}
	defer rows.Close()

	return collectCampaigns(rows)
}

type campaignRecord struct {
	ID          uuid.UUID    `db:"id"`
	TenantID    uuid.UUID    `db:"tenant_id"`
	Name        string       `db:"name"`
	Type        string       `db:"type"`
	Status      string       `db:"status"`
	Settings    []byte       `db:"settings"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
	StartedAt   sql.NullTime `db:"started_at"`
	CompletedAt sql.NullTime `db:"completed_at"`
}

func (rec campaignRecord) toDomain() (*domain.Campaign, error) {
	campaign := &domain.Campaign{
		ID:        rec.ID,
		TenantID:  rec.TenantID,
		Name:      rec.Name,
		Type:      domain.CampaignType(rec.Type),
		Status:    domain.CampaignStatus(rec.Status),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if len(rec.Settings) > 0 {
		if err := json.Unmarshal(rec.Settings, &campaign.Settings); err != nil {
			return nil, fmt.Errorf("campaign repo: unmarshal settings: %w", err)
		}
	}
	if rec.StartedAt.Valid {
		t := rec.StartedAt.Time
		campaign.StartedAt = &t
	}
	if rec.CompletedAt.Valid {
		t := rec.CompletedAt.Time
		campaign.CompletedAt = &t
	}
	return campaign, nil
}

func collectCampaigns(rows *sqlx.Rows) ([]*domain.Campaign, error) {
	var results []*domain.Campaign
	for rows.Next() {
		var rec campaignRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("campaign repo: scan: %w", err)
		}
		campaign, err := rec.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}
	return results, nil
}
