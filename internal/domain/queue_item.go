package domain

import (
	"time"

	"github.com/google/uuid"
)

// QueueItemStatus enumerates states of a queue item's attempt lineage.
type QueueItemStatus string

const (
	QueueItemPending    QueueItemStatus = "pending"
	QueueItemCalling    QueueItemStatus = "calling"
	QueueItemCompleted  QueueItemStatus = "completed"
	QueueItemNoAnswer   QueueItemStatus = "no_answer"
	QueueItemFailed     QueueItemStatus = "failed"
	QueueItemDeclined   QueueItemStatus = "declined"
	QueueItemDNCBlocked QueueItemStatus = "dnc_blocked"
)

// Terminal reports whether the status admits no further transitions besides
// a retry loop back to pending from no_answer or failed.
func (s QueueItemStatus) Terminal() bool {
	switch s {
	case QueueItemCompleted, QueueItemNoAnswer, QueueItemFailed, QueueItemDeclined, QueueItemDNCBlocked:
		return true
	}
	return false
}

// CallOutcome is the terminal classification of a finished attempt lineage.
type CallOutcome string

const (
	OutcomeAnswered      CallOutcome = "answered"
	OutcomeNoAnswer      CallOutcome = "no_answer"
	OutcomeBusy          CallOutcome = "busy"
	OutcomeFailed        CallOutcome = "failed"
	OutcomeDeclined      CallOutcome = "declined"
	OutcomeInvalidNumber CallOutcome = "invalid_number"
)

// QueueItem is one contact's attempt lineage within a campaign.
//
// AttemptCount is the 1-based index of the attempt currently underway (or
// last made). It is set to 1 at enqueue and incremented only when the retry
// controller loops the item back to pending, so AttemptCount <= MaxAttempts
// holds after every transition.
type QueueItem struct {
	ID             uuid.UUID
	CampaignID     uuid.UUID
	TenantID       uuid.UUID
	Phone          string
	ContactName    string
	Status         QueueItemStatus
	Outcome        *CallOutcome
	AttemptCount   int
	MaxAttempts    int
	LastError      *string
	ProviderCallID *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAttemptAt  *time.Time
	NextAttemptAt  *time.Time
}

// Contact is a campaign list entry prior to enqueueing.
type Contact struct {
	Phone string
	Name  string
}
