package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProviderCallStatus enumerates statuses reported by the voice provider.
type ProviderCallStatus string

const (
	ProviderStatusRinging    ProviderCallStatus = "ringing"
	ProviderStatusInProgress ProviderCallStatus = "in-progress"
	ProviderStatusCompleted  ProviderCallStatus = "completed"
	ProviderStatusNoAnswer   ProviderCallStatus = "no-answer"
	ProviderStatusBusy       ProviderCallStatus = "busy"
	ProviderStatusFailed     ProviderCallStatus = "failed"
	ProviderStatusDeclined   ProviderCallStatus = "declined"
)

// Intermediate reports whether the status is a progress update rather than a
// terminal outcome.
func (s ProviderCallStatus) Intermediate() bool {
	return s == ProviderStatusRinging || s == ProviderStatusInProgress
}

// StatusEvent is a provider status callback decoded once at the boundary.
// Delivery is at-least-once and unordered.
type StatusEvent struct {
	ProviderCallID string
	Status         ProviderCallStatus
	DurationSec    int
	RecordingURL   string
	TranscriptURL  string
	ErrorDetail    string
	OccurredAt     time.Time
}

// FailedWebhookRecord is a provider event the engine failed to consume. It is
// retried by a dedicated tick, independent of call-level retries, until it
// processes or ages past the give-up threshold.
type FailedWebhookRecord struct {
	ID           uuid.UUID
	Source       string
	EventType    string
	Payload      json.RawMessage
	Error        string
	AttemptCount int
	CreatedAt    time.Time
	LastRetryAt  *time.Time
}
