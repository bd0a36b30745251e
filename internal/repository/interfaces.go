package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/receptionist-dialer/internal/domain"
	apperrors "github.com/acme/receptionist-dialer/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// CampaignRepository manages campaign metadata persistence.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *domain.Campaign) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.Campaign, error)
	UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status domain.CampaignStatus) error
	List(ctx context.Context, tenantID uuid.UUID, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error)
	ListRunning(ctx context.Context, limit int) ([]*domain.Campaign, error)
}

// TenantRepository resolves per-tenant dialing limits.
type TenantRepository interface {
	GetSettings(ctx context.Context, tenantID uuid.UUID) (*domain.TenantSettings, error)
	UpsertSettings(ctx context.Context, settings *domain.TenantSettings) error
}

// QueueRepository is the single mutation point for queue-item state.
type QueueRepository interface {
	Enqueue(ctx context.Context, items []*domain.QueueItem) error
	Get(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error)
	GetByProviderCallID(ctx context.Context, providerCallID string) (*domain.QueueItem, error)

	// PeekEligible returns pending items for running campaigns of the tenant
	// whose backoff delay has elapsed, without claiming them.
	PeekEligible(ctx context.Context, tenantID uuid.UUID, now time.Time, limit int) ([]*domain.QueueItem, error)

	// ClaimBatch atomically transitions the given pending items to calling,
	// never letting the tenant's calling count exceed cap. Claims for one
	// tenant serialize; the returned slice holds only the items won.
	ClaimBatch(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID, cap int, now time.Time) ([]*domain.QueueItem, error)

	MarkDispatched(ctx context.Context, id uuid.UUID, providerCallID string) error
	// Release returns a calling item to pending without consuming an attempt.
	Release(ctx context.Context, id uuid.UUID, lastError string) error
	MarkDNCBlocked(ctx context.Context, id uuid.UUID) error
	// Terminalize finishes a lineage and reports whether this call performed
	// the transition; an already-terminal item yields false with no error.
	Terminalize(ctx context.Context, id uuid.UUID, status domain.QueueItemStatus, outcome domain.CallOutcome, lastError *string) (bool, error)
	// ScheduleRetry moves a calling item back to pending with the next
	// attempt index and a future eligibility time. Guarded so a redelivered
	// webhook cannot advance the attempt count twice.
	ScheduleRetry(ctx context.Context, id uuid.UUID, attempt int, nextAttemptAt time.Time) (bool, error)

	CountCalling(ctx context.Context, tenantID uuid.UUID) (int, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int) ([]*domain.QueueItem, domain.QueueStats, error)
	// StuckCalling returns items that entered calling before the cutoff and
	// never received a terminal webhook.
	StuckCalling(ctx context.Context, cutoff time.Time, limit int) ([]*domain.QueueItem, error)
}

// DNCRepository stores tenant-scoped do-not-call entries.
type DNCRepository interface {
	Add(ctx context.Context, entry *domain.DNCEntry) error
	Remove(ctx context.Context, tenantID uuid.UUID, phone string) error
	Exists(ctx context.Context, tenantID uuid.UUID, phone string) (bool, error)
	List(ctx context.Context, tenantID uuid.UUID, search string, offset, limit int) ([]*domain.DNCEntry, int64, error)
}

// WebhookLedger keeps provider events that failed to process.
type WebhookLedger interface {
	Store(ctx context.Context, record *domain.FailedWebhookRecord) (uuid.UUID, error)
	ListRetryable(ctx context.Context, giveUpAfter int, limit int) ([]*domain.FailedWebhookRecord, error)
	MarkRetried(ctx context.Context, id uuid.UUID, retryErr string, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	CleanupOld(ctx context.Context, olderThan time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// CallRecordStore persists durable call reporting data.
type CallRecordStore interface {
	CreateRecord(ctx context.Context, record *domain.CallRecord) error
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.CallRecord, []byte, error)
	AppendAttempt(ctx context.Context, attempt domain.CallAttempt) error
}
