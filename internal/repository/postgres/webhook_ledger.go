package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/receptionist-dialer/internal/domain"
	"github.com/acme/receptionist-dialer/internal/repository"
)

// WebhookLedger persists provider events that failed to process so they can
// be retried after the provider's own redelivery window closes.
type WebhookLedger struct {
	db *sqlx.DB
}

// NewWebhookLedger constructs the ledger.
func NewWebhookLedger(db *sqlx.DB) *WebhookLedger {
	return &WebhookLedger{db: db}
}

// Store records a failed event and returns its id.
func (l *WebhookLedger) Store(ctx context.Context, record *domain.FailedWebhookRecord) (uuid.UUID, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	_, err := l.db.ExecContext(ctx, `INSERT INTO failed_webhooks
		(id, source, event_type, payload, error, attempt_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID, record.Source, record.EventType, []byte(record.Payload),
		record.Error, record.AttemptCount, record.CreatedAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("webhook ledger: store: %w", err)
	}
	return record.ID, nil
}

// ListRetryable returns records still under the give-up threshold, oldest
// first.
func (l *WebhookLedger) ListRetryable(ctx context.Context, giveUpAfter int, limit int) ([]*domain.FailedWebhookRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryxContext(ctx, `SELECT
		id, source, event_type, payload, error, attempt_count, created_at, last_retry_at
		FROM failed_webhooks
		WHERE attempt_count < $1
		ORDER BY created_at ASC LIMIT $2`, giveUpAfter, limit)
	if err != nil {
		return nil, fmt.Errorf("webhook ledger: list: %w", err)
	}
	defer rows.Close()

	var records []*domain.FailedWebhookRecord
	for rows.Next() {
		var rec struct {
			ID           uuid.UUID    `db:"id"`
			Source       string       `db:"source"`
			EventType    string       `db:"event_type"`
			Payload      []byte       `db:"payload"`
			Error        string       `db:"error"`
			AttemptCount int          `db:"attempt_count"`
			CreatedAt    time.Time    `db:"created_at"`
			LastRetryAt  sql.NullTime `db:"last_retry_at"`
		}
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("webhook ledger: scan: %w", err)
		}
		record := &domain.FailedWebhookRecord{
			ID:           rec.ID,
			Source:       rec.Source,
			EventType:    rec.EventType,
			Payload:      rec.Payload,
			Error:        rec.Error,
			AttemptCount: rec.AttemptCount,
			CreatedAt:    rec.CreatedAt,
		}
		if rec.LastRetryAt.Valid {
			t := rec.LastRetryAt.Time
			record.LastRetryAt = &t
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("webhook ledger: rows err: %w", err)
	}
	return records, nil
}

// MarkRetried bumps the attempt counter after an unsuccessful retry.
func (l *WebhookLedger) MarkRetried(ctx context.Context, id uuid.UUID, retryErr string, at time.Time) error {
	res, err := l.db.ExecContext(ctx, `UPDATE failed_webhooks SET
		attempt_count = attempt_count + 1, error = $2, last_retry_at = $3
		WHERE id = $1`, id, retryErr, at)
	if err != nil {
		return fmt.Errorf("webhook ledger: mark retried: %w", err)
	}
	n, err := rowsAffected(res, "webhook ledger: mark retried")
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes a successfully processed record.
func (l *WebhookLedger) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM failed_webhooks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("webhook ledger: delete: %w", err)
	}
	return nil
}

// CleanupOld purges records past the retention window.
func (l *WebhookLedger) CleanupOld(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM failed_webhooks WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("webhook ledger: cleanup: %w", err)
	}
	return rowsAffected(res, "webhook ledger: cleanup")
}

// Count reports the ledger size for the alarm threshold.
func (l *WebhookLedger) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := l.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM failed_webhooks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("webhook ledger: count: %w", err)
	}
	return n, nil
}
