package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/receptionist-dialer/internal/domain"
)

// CallRecordStore persists durable call reporting rows in Scylla, written by
// the reconciler independently of queue-item state.
type CallRecordStore struct {
	session *gocql.Session
}

// NewCallRecordStore creates a new store.
func NewCallRecordStore(session *gocql.Session) *CallRecordStore {
	return &CallRecordStore{session: session}
}

// CreateRecord inserts a terminal-outcome record, bucketed by day for the
// campaign reporting partition.
func (s *CallRecordStore) CreateRecord(ctx context.Context, record *domain.CallRecord) error {
	bucket := bucketDate(record.EndedAt)
	durationMs := record.Duration.Milliseconds()

	if err := s.session.Query(`INSERT INTO call_records_by_campaign
		(campaign_id, bucket, record_id, tenant_id, queue_item_id, phone, outcome,
		 attempt_count, duration_ms, recording_url, transcript_url, ended_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.CampaignID.String(), bucket, record.ID.String(), record.TenantID.String(),
		record.QueueItemID.String(), record.Phone, string(record.Outcome),
		record.AttemptCount, durationMs, record.RecordingURL, record.TranscriptURL,
		record.EndedAt, record.CreatedAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call record store: insert by campaign: %w", err)
	}

	if err := s.session.Query(`INSERT INTO call_records_by_outcome
		(tenant_id, outcome, bucket, record_id, campaign_id, phone, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.TenantID.String(), string(record.Outcome), bucket, record.ID.String(),
		record.CampaignID.String(), record.Phone, record.EndedAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call record store: insert by outcome: %w", err)
	}

	return nil
}

// ListByCampaign pages through a campaign's call records.
func (s *CallRecordStore) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.CallRecord, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT bucket, record_id, tenant_id, queue_item_id, phone, outcome,
		attempt_count, duration_ms, recording_url, transcript_url, ended_at, created_at
		FROM call_records_by_campaign WHERE campaign_id = ?`, campaignID.String()).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	records := make([]domain.CallRecord, 0, limit)

	var (
		bucket        time.Time
		recordIDStr   string
		tenantIDStr   string
		itemIDStr     string
		phone         string
		outcome       string
		attemptCount  int
		durationMs    int64
		recordingURL  string
		transcriptURL string
		endedAt       time.Time
		createdAt     time.Time
	)

	for iter.Scan(&bucket, &recordIDStr, &tenantIDStr, &itemIDStr, &phone, &outcome,
		&attemptCount, &durationMs, &recordingURL, &transcriptURL, &endedAt, &createdAt) {
		recordID, err := uuid.Parse(recordIDStr)
		if err != nil {
			continue
		}
		tenantID, _ := uuid.Parse(tenantIDStr)
		itemID, _ := uuid.Parse(itemIDStr)

		records = append(records, domain.CallRecord{
			ID:            recordID,
			TenantID:      tenantID,
			CampaignID:    campaignID,
			QueueItemID:   itemID,
			Phone:         phone,
			Outcome:       domain.CallOutcome(outcome),
			AttemptCount:  attemptCount,
			Duration:      time.Duration(durationMs) * time.Millisecond,
			RecordingURL:  recordingURL,
			TranscriptURL: transcriptURL,
			EndedAt:       endedAt,
			CreatedAt:     createdAt,
		})
	}

	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("call record store: iter close: %w", err)
	}

	return records, iter.PageState(), nil
}

// AppendAttempt writes one dial's observability row.
func (s *CallRecordStore) AppendAttempt(ctx context.Context, attempt domain.CallAttempt) error {
	durationMs := attempt.Duration.Milliseconds()
	if err := s.session.Query(`INSERT INTO call_attempts
		(queue_item_id, attempt_number, status, error, created_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		attempt.QueueItemID.String(), attempt.AttemptNum, string(attempt.Status),
		attempt.Error, attempt.CreatedAt, durationMs,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call record store: append attempt: %w", err)
	}
	return nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
