package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/receptionist-dialer/internal/domain"
	"github.com/acme/receptionist-dialer/internal/repository"
)

const queueItemColumns = `id, campaign_id, tenant_id, phone, contact_name, status, outcome,
	attempt_count, max_attempts, last_error, provider_call_id,
	created_at, updated_at, last_attempt_at, next_attempt_at`

// QueueRepository persists queue items in PostgreSQL. It is the sole
// mutation point for queue-item status.
type QueueRepository struct {
	db *sqlx.DB
}

// NewQueueRepository constructs the repository.
func NewQueueRepository(db *sqlx.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Enqueue bulk-inserts queue items for a launched campaign.
func (r *QueueRepository) Enqueue(ctx context.Context, items []*domain.QueueItem) error {
	if len(items) == 0 {
		return nil
	}

	query := `INSERT INTO queue_items (
		id, campaign_id, tenant_id, phone, contact_name, status, attempt_count,
		max_attempts, created_at, updated_at
	) VALUES (:id, :campaign_id, :tenant_id, :phone, :contact_name, :status, :attempt_count,
		:max_attempts, :created_at, :updated_at)
	ON CONFLICT (id) DO NOTHING`

	rows := make([]map[string]any, 0, len(items))
	for _, it := range items {
		rows = append(rows, map[string]any{
			"id":            it.ID,
			"campaign_id":   it.CampaignID,
			"tenant_id":     it.TenantID,
			"phone":         it.Phone,
			"contact_name":  it.ContactName,
			"status":        it.Status,
			"attempt_count": it.AttemptCount,
			"max_attempts":  it.MaxAttempts,
			"created_at":    it.CreatedAt,
			"updated_at":    it.UpdatedAt,
		})
	}

	if _, err := r.db.NamedExecContext(ctx, query, rows); err != nil {
		return fmt.Errorf("queue repo: enqueue: %w", err)
	}
	return nil
}

// Get fetches a queue item by id.
func (r *QueueRepository) Get(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	row := r.db.QueryRowxContext(ctx,
		`SELECT `+queueItemColumns+` FROM queue_items WHERE id = $1`, id)
	return scanQueueItem(row)
}

// GetByProviderCallID locates the item carrying the given provider call id.
func (r *QueueRepository) GetByProviderCallID(ctx context.Context, providerCallID string) (*domain.QueueItem, error) {
	row := r.db.QueryRowxContext(ctx,
		`SELECT `+queueItemColumns+` FROM queue_items WHERE provider_call_id = $1
		 ORDER BY updated_at DESC LIMIT 1`, providerCallID)
	return scanQueueItem(row)
}

// PeekEligible returns pending items for running campaigns whose backoff
// delay has elapsed, without claiming them.
func (r *QueueRepository) PeekEligible(ctx context.Context, tenantID uuid.UUID, now time.Time, limit int) ([]*domain.QueueItem, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+prefixColumns("qi")+`
		FROM queue_items qi
		JOIN campaigns c ON c.id = qi.campaign_id
		WHERE qi.tenant_id = $1
		  AND qi.status = 'pending'
		  AND (qi.next_attempt_at IS NULL OR qi.next_attempt_at <= $2)
		  AND c.status = 'running'
		ORDER BY qi.created_at ASC
		LIMIT $3`, tenantID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("queue repo: peek eligible: %w", err)
	}
	defer rows.Close()

	return collectQueueItems(rows, "peek eligible")
}

// ClaimBatch transitions the given pending items to calling without letting
// the tenant's calling count exceed cap. A per-tenant advisory lock
// serializes concurrent claims so overlapping ticks cannot overshoot.
func (r *QueueRepository) ClaimBatch(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID, cap int, now time.Time) ([]*domain.QueueItem, error) {
	if len(ids) == 0 || cap <= 0 {
		return nil, nil
	}

	var claimed []*domain.QueueItem
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 7))`, tenantID); err != nil {
			return fmt.Errorf("claim: advisory lock: %w", err)
		}

		var calling int
		if err := tx.QueryRowxContext(ctx,
			`SELECT COUNT(*) FROM queue_items WHERE tenant_id = $1 AND status = 'calling'`,
			tenantID).Scan(&calling); err != nil {
			return fmt.Errorf("claim: count calling: %w", err)
		}

		room := cap - calling
		if room <= 0 {
			return nil
		}
		if room > len(ids) {
			room = len(ids)
		}

		rows, err := tx.QueryxContext(ctx, `UPDATE queue_items SET
			status = 'calling', last_attempt_at = $1, updated_at = $1, next_attempt_at = NULL
			WHERE id IN (
				SELECT id FROM queue_items
				WHERE tenant_id = $2 AND status = 'pending' AND id = ANY($3)
				ORDER BY created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $4
			)
			RETURNING `+queueItemColumns, now, tenantID, ids, room)
		if err != nil {
			return fmt.Errorf("claim: update: %w", err)
		}
		defer rows.Close()

		claimed, err = collectQueueItems(rows, "claim")
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("queue repo: %w", err)
	}
	return claimed, nil
}

// MarkDispatched records the provider call id after a successful dispatch.
func (r *QueueRepository) MarkDispatched(ctx context.Context, id uuid.UUID, providerCallID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE queue_items SET
		provider_call_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'calling'`, id, providerCallID)
	if err != nil {
		return fmt.Errorf("queue repo: mark dispatched: %w", err)
	}
	n, err := rowsAffected(res, "queue repo: mark dispatched")
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Release returns a calling item to pending without consuming an attempt.
// Used when the dispatch itself failed transiently.
func (r *QueueRepository) Release(ctx context.Context, id uuid.UUID, lastError string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE queue_items SET
		status = 'pending', last_error = $2, provider_call_id = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'calling'`, id, lastError)
	if err != nil {
		return fmt.Errorf("queue repo: release: %w", err)
	}
	n, err := rowsAffected(res, "queue repo: release")
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkDNCBlocked terminalizes a pending item whose number is suppressed.
func (r *QueueRepository) MarkDNCBlocked(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `UPDATE queue_items SET
		status = 'dnc_blocked', next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("queue repo: mark dnc blocked: %w", err)
	}
	n, err := rowsAffected(res, "queue repo: mark dnc blocked")
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Terminalize finishes an attempt lineage. It reports whether this call
// performed the transition; an already-terminal item is a fixed point and
// yields false with no error, which keeps redelivered webhooks side-effect
// free.
func (r *QueueRepository) Terminalize(ctx context.Context, id uuid.UUID, status domain.QueueItemStatus, outcome domain.CallOutcome, lastError *string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("queue repo: terminalize: %s is not terminal", status)
	}

	res, err := r.db.ExecContext(ctx, `UPDATE queue_items SET
		status = $2, outcome = $3, last_error = $4, next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'calling')`, id, status, outcome, lastError)
	if err != nil {
		return false, fmt.Errorf("queue repo: terminalize: %w", err)
	}
	n, err := rowsAffected(res, "queue repo: terminalize")
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ScheduleRetry loops a calling item back to pending for attempt number
// `attempt`. The attempt_count guard makes redelivered webhooks no-ops.
// provider_call_id is kept through the loop so a duplicate of the last
// attempt's webhook still resolves to this row instead of landing in the
// failed-webhook ledger; the next dispatch overwrites it.
func (r *QueueRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, attempt int, nextAttemptAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE queue_items SET
		status = 'pending', attempt_count = $2, next_attempt_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'calling' AND attempt_count = $2 - 1 AND attempt_count < max_attempts`,
		id, attempt, nextAttemptAt)
	if err != nil {
		return false, fmt.Errorf("queue repo: schedule retry: %w", err)
	}
	n, err := rowsAffected(res, "queue repo: schedule retry")
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountCalling reports the tenant's in-flight call count.
func (r *QueueRepository) CountCalling(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var n int
	if err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE tenant_id = $1 AND status = 'calling'`,
		tenantID).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue repo: count calling: %w", err)
	}
	return n, nil
}

// ListByCampaign returns queue items together with aggregate counts
// partitioned by status.
func (r *QueueRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int) ([]*domain.QueueItem, domain.QueueStats, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+queueItemColumns+`
		FROM queue_items WHERE campaign_id = $1
		ORDER BY created_at ASC LIMIT $2`, campaignID, limit)
	if err != nil {
		return nil, domain.QueueStats{}, fmt.Errorf("queue repo: list by campaign: %w", err)
	}
	defer rows.Close()

	items, err := collectQueueItems(rows, "list by campaign")
	if err != nil {
		return nil, domain.QueueStats{}, err
	}

	statRows, err := r.db.QueryxContext(ctx,
		`SELECT status, COUNT(*) AS n FROM queue_items WHERE campaign_id = $1 GROUP BY status`,
		campaignID)
	if err != nil {
		return nil, domain.QueueStats{}, fmt.Errorf("queue repo: stats: %w", err)
	}
	defer statRows.Close()

	var stats domain.QueueStats
	for statRows.Next() {
		var status string
		var n int64
		if err := statRows.Scan(&status, &n); err != nil {
			return nil, domain.QueueStats{}, fmt.Errorf("queue repo: stats scan: %w", err)
		}
		stats.Total += n
		switch domain.QueueItemStatus(status) {
		case domain.QueueItemPending:
			stats.Pending = n
		case domain.QueueItemCalling:
			stats.Calling = n
		case domain.QueueItemCompleted:
			stats.Completed = n
		case domain.QueueItemFailed:
			stats.Failed = n
		case domain.QueueItemDeclined:
			stats.Declined = n
		case domain.QueueItemDNCBlocked:
			stats.DNCBlocked = n
		case domain.QueueItemNoAnswer:
			stats.NoAnswer = n
		}
	}
	if err := statRows.Err(); err != nil {
		return nil, domain.QueueStats{}, fmt.Errorf("queue repo: stats rows: %w", err)
	}

	return items, stats, nil
}

// StuckCalling returns items that entered calling before the cutoff and never
// received a terminal webhook.
func (r *QueueRepository) StuckCalling(ctx context.Context, cutoff time.Time, limit int) ([]*domain.QueueItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryxContext(ctx, `SELECT `+queueItemColumns+`
		FROM queue_items
		WHERE status = 'calling' AND last_attempt_at IS NOT NULL AND last_attempt_at < $1
		ORDER BY last_attempt_at ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("queue repo: stuck calling: %w", err)
	}
	defer rows.Close()

	return collectQueueItems(rows, "stuck calling")
}

type queueItemRecord struct {
	ID             uuid.UUID      `db:"id"`
	CampaignID     uuid.UUID      `db:"campaign_id"`
	TenantID       uuid.UUID      `db:"tenant_id"`
	Phone          string         `db:"phone"`
	ContactName    sql.NullString `db:"contact_name"`
	Status         string         `db:"status"`
	Outcome        sql.NullString `db:"outcome"`
	AttemptCount   int            `db:"attempt_count"`
	MaxAttempts    int            `db:"max_attempts"`
	LastError      sql.NullString `db:"last_error"`
	ProviderCallID sql.NullString `db:"provider_call_id"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	LastAttemptAt  sql.NullTime   `db:"last_attempt_at"`
	NextAttemptAt  sql.NullTime   `db:"next_attempt_at"`
}

func (rec queueItemRecord) toDomain() *domain.QueueItem {
	item := &domain.QueueItem{
		ID:           rec.ID,
		CampaignID:   rec.CampaignID,
		TenantID:     rec.TenantID,
		Phone:        rec.Phone,
		ContactName:  rec.ContactName.String,
		Status:       domain.QueueItemStatus(rec.Status),
		AttemptCount: rec.AttemptCount,
		MaxAttempts:  rec.MaxAttempts,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	if rec.Outcome.Valid {
		outcome := domain.CallOutcome(rec.Outcome.String)
		item.Outcome = &outcome
	}
	if rec.LastError.Valid {
		s := rec.LastError.String
		item.LastError = &s
	}
	if rec.ProviderCallID.Valid {
		s := rec.ProviderCallID.String
		item.ProviderCallID = &s
	}
	if rec.LastAttemptAt.Valid {
		t := rec.LastAttemptAt.Time
		item.LastAttemptAt = &t
	}
	if rec.NextAttemptAt.Valid {
		t := rec.NextAttemptAt.Time
		item.NextAttemptAt = &t
	}
	return item
}

func scanQueueItem(row *sqlx.Row) (*domain.QueueItem, error) {
	var rec queueItemRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("queue repo: scan: %w", err)
	}
	return rec.toDomain(), nil
}

func collectQueueItems(rows *sqlx.Rows, op string) ([]*domain.QueueItem, error) {
	var items []*domain.QueueItem
	for rows.Next() {
		var rec queueItemRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("queue repo: %s scan: %w", op, err)
		}
		items = append(items, rec.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue repo: %s rows: %w", op, err)
	}
	return items, nil
}

func prefixColumns(alias string) string {
	return alias + ".id, " + alias + ".campaign_id, " + alias + ".tenant_id, " +
		alias + ".phone, " + alias + ".contact_name, " + alias + ".status, " +
		alias + ".outcome, " + alias + ".attempt_count, " + alias + ".max_attempts, " +
		alias + ".last_error, " + alias + ".provider_call_id, " + alias + ".created_at, " +
		alias + ".updated_at, " + alias + ".last_attempt_at, " + alias + ".next_attempt_at"
}
