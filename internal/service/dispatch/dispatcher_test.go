package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/receptionist-dialer/internal/domain"
	"github.com/acme/receptionist-dialer/internal/voice"
	"github.com/acme/receptionist-dialer/pkg/logger"
)

type fakeProvider struct {
	placement voice.Placement
	err       error
	lastReq   voice.CallRequest
}

func (f *fakeProvider) PlaceCall(_ context.Context, req voice.CallRequest) (voice.Placement, error) {
	f.lastReq = req
	if f.err != nil {
		return voice.Placement{}, f.err
	}
	return f.placement, nil
}

type fakeQueue struct {
	dispatchedID   uuid.UUID
	providerCallID string
	released       bool
	releaseErr     string
	terminalized   bool
	termStatus     domain.QueueItemStatus
	termOutcome    domain.CallOutcome
}

func (f *fakeQueue) Enqueue(context.Context, []*domain.QueueItem) error { return nil }
func (f *fakeQueue) Get(context.Context, uuid.UUID) (*domain.QueueItem, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeQueue) GetByProviderCallID(context.Context, string) (*domain.QueueItem, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeQueue) PeekEligible(context.Context, uuid.UUID, time.Time, int) ([]*domain.QueueItem, error) {
	return nil, nil
}
func (f *fakeQueue) ClaimBatch(context.Context, uuid.UUID, []uuid.UUID, int, time.Time) ([]*domain.QueueItem, error) {
	return nil, nil
}

func (f *fakeQueue) MarkDispatched(_ context.Context, id uuid.UUID, providerCallID string) error {
	f.dispatchedID = id
	f.providerCallID = providerCallID
	return nil
}

func (f *fakeQueue) Release(_ context.Context, _ uuid.UUID, lastError string) error {
	f.released = true
	f.releaseErr = lastError
	return nil
}

func (f *fakeQueue) MarkDNCBlocked(context.Context, uuid.UUID) error { return nil }

func (f *fakeQueue) Terminalize(_ context.Context, _ uuid.UUID, status domain.QueueItemStatus, outcome domain.CallOutcome, _ *string) (bool, error) {
	f.terminalized = true
	f.termStatus = status
	f.termOutcome = outcome
	return true, nil
}

func (f *fakeQueue) ScheduleRetry(context.Context, uuid.UUID, int, time.Time) (bool, error) {
	return false, nil
}
func (f *fakeQueue) CountCalling(context.Context, uuid.UUID) (int, error) { return 0, nil }
func (f *fakeQueue) ListByCampaign(context.Context, uuid.UUID, int) ([]*domain.QueueItem, domain.QueueStats, error) {
	return nil, domain.QueueStats{}, nil
}
func (f *fakeQueue) StuckCalling(context.Context, time.Time, int) ([]*domain.QueueItem, error) {
	return nil, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	lg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return lg
}

func testCampaign() *domain.Campaign {
	return &domain.Campaign{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Name:     "Appointment reminders",
		Type:     domain.CampaignTypeReminder,
		Status:   domain.CampaignStatusRunning,
		Settings: domain.CampaignSettings{
			Instruction: "Remind the patient about tomorrow's appointment",
			Purpose:     "appointment_reminder",
		},
	}
}

func testItem(campaign *domain.Campaign) *domain.QueueItem {
	return &domain.QueueItem{
		ID:           uuid.New(),
		CampaignID:   campaign.ID,
		TenantID:     campaign.TenantID,
		Phone:        "+15550001234",
		ContactName:  "Dana",
		Status:       domain.QueueItemCalling,
		AttemptCount: 1,
		MaxAttempts:  3,
	}
}

func TestDispatchSuccessMarksDispatched(t *testing.T) {
	provider := &fakeProvider{placement: voice.Placement{ProviderCallID: "prov-123"}}
	queue := &fakeQueue{}
	d := NewDispatcher(provider, queue, "agent-1", time.Second, testLogger(t))

	campaign := testCampaign()
	item := testItem(campaign)

	res := d.Dispatch(context.Background(), campaign, item)
	if !res.Dialed || res.Err != nil {
		t.Fatalf("Dispatch = %+v, want dialed without error", res)
	}
	if queue.dispatchedID != item.ID || queue.providerCallID != "prov-123" {
		t.Fatalf("MarkDispatched recorded %v/%s", queue.dispatchedID, queue.providerCallID)
	}
	if provider.lastReq.AgentID != "agent-1" {
		t.Fatalf("agent id = %q", provider.lastReq.AgentID)
	}
	if provider.lastReq.Variables["contact_name"] != "Dana" {
		t.Fatalf("contact_name variable missing: %v", provider.lastReq.Variables)
	}
	if provider.lastReq.Variables["instruction"] == "" {
		t.Fatalf("instruction variable missing: %v", provider.lastReq.Variables)
	}
}

func TestDispatchPermanentRejectionTerminalizes(t *testing.T) {
	provider := &fakeProvider{err: &voice.RejectionError{Reason: "invalid destination", Permanent: true}}
	queue := &fakeQueue{}
	d := NewDispatcher(provider, queue, "agent-1", time.Second, testLogger(t))

	campaign := testCampaign()
	item := testItem(campaign)

	res := d.Dispatch(context.Background(), campaign, item)
	if res.Dialed {
		t.Fatal("permanent rejection must not count as dialed")
	}
	if !res.Permanent {
		t.Fatal("result should flag permanent")
	}
	if !queue.terminalized || queue.termStatus != domain.QueueItemFailed || queue.termOutcome != domain.OutcomeInvalidNumber {
		t.Fatalf("expected failed/invalid_number terminalization, got %+v", queue)
	}
	if queue.released {
		t.Fatal("permanent rejection must not release the item")
	}
}

func TestDispatchTransientRejectionReleases(t *testing.T) {
	provider := &fakeProvider{err: &voice.RejectionError{Reason: "rate limited"}}
	queue := &fakeQueue{}
	d := NewDispatcher(provider, queue, "agent-1", time.Second, testLogger(t))

	campaign := testCampaign()
	item := testItem(campaign)

	res := d.Dispatch(context.Background(), campaign, item)
	if res.Dialed || res.Permanent {
		t.Fatalf("transient rejection result = %+v", res)
	}
	if !queue.released || queue.releaseErr != "rate limited" {
		t.Fatalf("expected release with reason, got %+v", queue)
	}
	if queue.terminalized {
		t.Fatal("transient rejection must not terminalize")
	}
}

func TestDispatchPlainErrorTreatedTransient(t *testing.T) {
	provider := &fakeProvider{err: errors.New("connection reset")}
	queue := &fakeQueue{}
	d := NewDispatcher(provider, queue, "agent-1", time.Second, testLogger(t))

	campaign := testCampaign()
	res := d.Dispatch(context.Background(), campaign, testItem(campaign))
	if res.Permanent {
		t.Fatal("unclassified errors must be treated as transient")
	}
	if !queue.released {
		t.Fatal("item should be released on unclassified error")
	}
}
