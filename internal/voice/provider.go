package voice

import (
	"context"
	"errors"
	"fmt"
)

// CallRequest asks the voice provider to originate an outbound call.
type CallRequest struct {
	Phone     string
	AgentID   string
	Variables map[string]string
}

// Placement is the provider's acknowledgment of an originated call.
type Placement struct {
	ProviderCallID string
}

// RejectionError is a structured dispatch failure. Permanent rejections
// (invalid number, provider refuses the destination) must not be retried;
// transient ones (rate limit, timeout, 5xx) may be.
type RejectionError struct {
	Reason    string
	Permanent bool
}

func (e *RejectionError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("call rejected (%s): %s", kind, e.Reason)
}

// AsRejection extracts a RejectionError if err carries one.
func AsRejection(err error) (*RejectionError, bool) {
	var rejection *RejectionError
	if errors.As(err, &rejection) {
		return rejection, true
	}
	return nil, false
}

// Provider abstracts the external voice-AI call origination API.
type Provider interface {
	PlaceCall(ctx context.Context, req CallRequest) (Placement, error)
}
