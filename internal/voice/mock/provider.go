package mock

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/acme/receptionist-dialer/internal/config"
	"github.com/acme/receptionist-dialer/internal/voice"
)

// Provider simulates the voice provider's origination API for local runs.
type Provider struct {
	timeout time.Duration
	rng     *rand.Rand
}

// NewProvider constructs a mock provider.
func NewProvider(cfg config.CallBridgeConfig) *Provider {
	return &Provider{
		timeout: cfg.RequestTimeout,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// PlaceCall simulates origination. Numbers ending in 00 are rejected as
// invalid, numbers ending in 99 hit a simulated rate limit; everything else
// is accepted.
func (p *Provider) PlaceCall(ctx context.Context, req voice.CallRequest) (voice.Placement, error) {
	latency := time.Duration(10+p.rng.Intn(40)) * time.Millisecond
	select {
	case <-ctx.Done():
		return voice.Placement{}, &voice.RejectionError{Reason: ctx.Err().Error(), Permanent: false}
	case <-time.After(latency):
	}

	switch {
	case strings.HasSuffix(req.Phone, "00"):
		return voice.Placement{}, &voice.RejectionError{Reason: "invalid destination number", Permanent: true}
	case strings.HasSuffix(req.Phone, "99"):
		return voice.Placement{}, &voice.RejectionError{Reason: "rate limited", Permanent: false}
	}

	return voice.Placement{ProviderCallID: "mock-" + uuid.NewString()}, nil
}
