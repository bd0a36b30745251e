package queue

import (
	"time"

	"github.com/google/uuid"
)

// AlertKind classifies operator notifications emitted by the reconciler.
type AlertKind string

const (
	AlertMissedCall AlertKind = "missed_call"
)

// AlertMessage is an operator notification decoupled from the reconciliation
// transaction. Downstream consumers fan it out to email/SMS/push.
type AlertMessage struct {
	Kind        AlertKind `json:"kind"`
	TenantID    uuid.UUID `json:"tenant_id"`
	CampaignID  uuid.UUID `json:"campaign_id"`
	QueueItemID uuid.UUID `json:"queue_item_id"`
	Phone       string    `json:"phone"`
	ContactName string    `json:"contact_name,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// CallEventMessage records a terminal call outcome for downstream analytics.
type CallEventMessage struct {
	TenantID       uuid.UUID `json:"tenant_id"`
	CampaignID     uuid.UUID `json:"campaign_id"`
	QueueItemID    uuid.UUID `json:"queue_item_id"`
	ProviderCallID string    `json:"provider_call_id"`
	Phone          string    `json:"phone"`
	Outcome        string    `json:"outcome"`
	Attempt        int       `json:"attempt"`
	DurationMs     int64     `json:"duration_ms,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}
