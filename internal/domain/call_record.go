package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallRecord is the durable reporting row written when an attempt lineage
// reaches a terminal outcome. It lives independently of the queue item.
type CallRecord struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	CampaignID    uuid.UUID
	QueueItemID   uuid.UUID
	Phone         string
	Outcome       CallOutcome
	AttemptCount  int
	Duration      time.Duration
	RecordingURL  string
	TranscriptURL string
	EndedAt       time.Time
	CreatedAt     time.Time
}

// CallAttempt captures a single dial for observability. Attempts are keyed
// by (queue item, attempt number), so a redelivered event overwrites its row.
type CallAttempt struct {
	QueueItemID uuid.UUID
	AttemptNum  int
	Status      ProviderCallStatus
	Error       string
	CreatedAt   time.Time
	Duration    time.Duration
}
