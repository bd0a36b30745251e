package voice

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/acme/receptionist-dialer/internal/domain"
)

// statusCallback is the provider's webhook payload.
type statusCallback struct {
	CallID        string    `json:"call_id"`
	Status        string    `json:"status"`
	DurationSec   int       `json:"duration_seconds"`
	RecordingURL  string    `json:"recording_url"`
	TranscriptURL string    `json:"transcript_url"`
	Error         string    `json:"error"`
	Timestamp     time.Time `json:"timestamp"`
}

// DecodeStatusEvent parses a provider status callback. The same decoder
// serves the live webhook path and ledger replay, so a payload that parsed
// once parses the same way on retry.
func DecodeStatusEvent(payload []byte) (domain.StatusEvent, error) {
	var cb statusCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return domain.StatusEvent{}, fmt.Errorf("decode status callback: %w", err)
	}
	if cb.CallID == "" {
		return domain.StatusEvent{}, fmt.Errorf("status callback missing call_id")
	}
	if cb.Status == "" {
		return domain.StatusEvent{}, fmt.Errorf("status callback missing status")
	}
	return domain.StatusEvent{
		ProviderCallID: cb.CallID,
		Status:         domain.ProviderCallStatus(cb.Status),
		DurationSec:    cb.DurationSec,
		RecordingURL:   cb.RecordingURL,
		TranscriptURL:  cb.TranscriptURL,
		ErrorDetail:    cb.Error,
		OccurredAt:     cb.Timestamp,
	}, nil
}
