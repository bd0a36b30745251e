package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/acme/receptionist-dialer/internal/domain"
	"github.com/acme/receptionist-dialer/internal/repository"
)

// DNCRepository persists tenant-scoped do-not-call entries.
type DNCRepository struct {
	db *sqlx.DB
}

// NewDNCRepository constructs the repository.
func NewDNCRepository(db *sqlx.DB) *DNCRepository {
	return &DNCRepository{db: db}
}

// Add inserts an entry. Adding an already-present number returns ErrConflict.
func (r *DNCRepository) Add(ctx context.Context, entry *domain.DNCEntry) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO dnc_entries
		(tenant_id, phone, reason, added_by, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.TenantID, entry.Phone, entry.Reason, entry.AddedBy, entry.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrConflict
		}
		return fmt.Errorf("dnc repo: add: %w", err)
	}
	return nil
}

// Remove deletes the entry for the given number.
func (r *DNCRepository) Remove(ctx context.Context, tenantID uuid.UUID, phone string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM dnc_entries WHERE tenant_id = $1 AND phone = $2`, tenantID, phone)
	if err != nil {
		return fmt.Errorf("dnc repo: remove: %w", err)
	}
	n, err := rowsAffected(res, "dnc repo: remove")
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Exists reports whether the number is suppressed for the tenant.
func (r *DNCRepository) Exists(ctx context.Context, tenantID uuid.UUID, phone string) (bool, error) {
	var found bool
	err := r.db.QueryRowxContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM dnc_entries WHERE tenant_id = $1 AND phone = $2)`,
		tenantID, phone).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("dnc repo: exists: %w", err)
	}
	return found, nil
}

// List returns entries with offset pagination and optional phone search.
func (r *DNCRepository) List(ctx context.Context, tenantID uuid.UUID, search string, offset, limit int) ([]*domain.DNCEntry, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	where := `tenant_id = $1`
	args := []any{tenantID}
	if search != "" {
		where += ` AND phone LIKE $2`
		args = append(args, "%"+search+"%")
	}

	var total int64
	if err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM dnc_entries WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("dnc repo: count: %w", err)
	}

	query := fmt.Sprintf(`SELECT tenant_id, phone, reason, added_by, created_at
		FROM dnc_entries WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("dnc repo: list: %w", err)
	}
	defer rows.Close()

	var entries []*domain.DNCEntry
	for rows.Next() {
		var rec struct {
			TenantID  uuid.UUID `db:"tenant_id"`
			Phone     string    `db:"phone"`
			Reason    string    `db:"reason"`
			AddedBy   string    `db:"added_by"`
			CreatedAt time.Time `db:"created_at"`
		}
		if err := rows.StructScan(&rec); err != nil {
			return nil, 0, fmt.Errorf("dnc repo: scan: %w", err)
		}
		entries = append(entries, &domain.DNCEntry{
			TenantID:  rec.TenantID,
			Phone:     rec.Phone,
			Reason:    domain.DNCReason(rec.Reason),
			AddedBy:   rec.AddedBy,
			CreatedAt: rec.CreatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("dnc repo: rows err: %w", err)
	}

	return entries, total, nil
}
