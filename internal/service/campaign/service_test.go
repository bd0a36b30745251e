package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/receptionist-dialer/internal/domain"
	"github.com/acme/receptionist-dialer/internal/repository"
	apperrors "github.com/acme/receptionist-dialer/pkg/errors"
	"github.com/acme/receptionist-dialer/pkg/logger"
)

type memCampaigns struct {
	byID map[uuid.UUID]*domain.Campaign
}

func newMemCampaigns() *memCampaigns {
	return &memCampaigns{byID: map[uuid.UUID]*domain.Campaign{}}
}

func (m *memCampaigns) Create(_ context.Context, c *domain.Campaign) error {
	m.byID[c.ID] = c
	return nil
}

func (m *memCampaigns) Get(_ context.Context, tenantID, id uuid.UUID) (*domain.Campaign, error) {
	c, ok := m.byID[id]
	if !ok || c.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	clone := *c
	return &clone, nil
}

func (m *memCampaigns) UpdateStatus(_ context.Context, tenantID, id uuid.UUID, status domain.CampaignStatus) error {
	c, ok := m.byID[id]
	if !ok || c.TenantID != tenantID {
		return repository.ErrNotFound
	}
	c.Status = status
	return nil
}

func (m *memCampaigns) List(_ context.Context, tenantID uuid.UUID, _ *uuid.UUID, _ int) ([]*domain.Campaign, error) {
	var out []*domain.Campaign
	for _, c := range m.byID {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCampaigns) ListRunning(_ context.Context, _ int) ([]*domain.Campaign, error) {
	var out []*domain.Campaign
	for _, c := range m.byID {
		if c.Status == domain.CampaignStatusRunning {
			out = append(out, c)
		}
	}
	return out, nil
}

type captureQueue struct {
	enqueued []*domain.QueueItem
	items    []*domain.QueueItem
	stats    domain.QueueStats
}

func (c *captureQueue) Enqueue(_ context.Context, items []*domain.QueueItem) error {
	c.enqueued = append(c.enqueued, items...)
	return nil
}

func (c *captureQueue) Get(context.Context, uuid.UUID) (*domain.QueueItem, error) {
	return nil, repository.ErrNotFound
}

func (c *captureQueue) GetByProviderCallID(context.Context, string) (*domain.QueueItem, error) {
	return nil, repository.ErrNotFound
}

func (c *captureQueue) PeekEligible(context.Context, uuid.UUID, time.Time, int) ([]*domain.QueueItem, error) {
	return nil, nil
}

func (c *captureQueue) ClaimBatch(context.Context, uuid.UUID, []uuid.UUID, int, time.Time) ([]*domain.QueueItem, error) {
	return nil, nil
}

func (c *captureQueue) MarkDispatched(context.Context, uuid.UUID, string) error { return nil }
func (c *captureQueue) Release(context.Context, uuid.UUID, string) error        { return nil }
func (c *captureQueue) MarkDNCBlocked(context.Context, uuid.UUID) error         { return nil }

func (c *captureQueue) Terminalize(context.Context, uuid.UUID, domain.QueueItemStatus, domain.CallOutcome, *string) (bool, error) {
	return false, nil
}

func (c *captureQueue) ScheduleRetry(context.Context, uuid.UUID, int, time.Time) (bool, error) {
	return false, nil
}

func (c *captureQueue) CountCalling(context.Context, uuid.UUID) (int, error) { return 0, nil }

func (c *captureQueue) ListByCampaign(context.Context, uuid.UUID, int) ([]*domain.QueueItem, domain.QueueStats, error) {
	return c.items, c.stats, nil
}

func (c *captureQueue) StuckCalling(context.Context, time.Time, int) ([]*domain.QueueItem, error) {
	return nil, nil
}

type memTenants struct {
	settings map[uuid.UUID]*domain.TenantSettings
}

func (m *memTenants) GetSettings(_ context.Context, tenantID uuid.UUID) (*domain.TenantSettings, error) {
	if m.settings == nil {
		return nil, repository.ErrNotFound
	}
	ts, ok := m.settings[tenantID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return ts, nil
}

func (m *memTenants) UpsertSettings(_ context.Context, settings *domain.TenantSettings) error {
	if m.settings == nil {
		m.settings = map[uuid.UUID]*domain.TenantSettings{}
	}
	m.settings[settings.TenantID] = settings
	return nil
}

type stubRecords struct {
	records []domain.CallRecord
	next    []byte
	gotPage []byte
}

func (s *stubRecords) CreateRecord(context.Context, *domain.CallRecord) error { return nil }

func (s *stubRecords) ListByCampaign(_ context.Context, _ uuid.UUID, _ int, pagingState []byte) ([]domain.CallRecord, []byte, error) {
	s.gotPage = pagingState
	return s.records, s.next, nil
}

func (s *stubRecords) AppendAttempt(context.Context, domain.CallAttempt) error { return nil }

func newTestService(t *testing.T, campaigns *memCampaigns, q *captureQueue, tenants *memTenants, records *stubRecords) *Service {
	t.Helper()
	lg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	if tenants == nil {
		tenants = &memTenants{}
	}
	if records == nil {
		records = &stubRecords{}
	}
	return NewService(campaigns, q, tenants, records, 3, lg, nil)
}

func validInput() CreateInput {
	return CreateInput{
		Name: "Recall outreach",
		Type: domain.CampaignTypeReminder,
		Settings: domain.CampaignSettings{
			Purpose:     "appointment_reminder",
			Instruction: "Offer the next available slot",
		},
		Contacts: []domain.Contact{
			{Phone: "+15550001234", Name: "Dana"},
			{Phone: "+1 555-000-5678", Name: "Robin"},
		},
	}
}

func TestCreateNormalizesAndEnqueues(t *testing.T) {
	campaigns := newMemCampaigns()
	q := &captureQueue{}
	svc := newTestService(t, campaigns, q, nil, nil)
	tenantID := uuid.New()

	c, err := svc.Create(context.Background(), tenantID, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Status != domain.CampaignStatusDraft {
		t.Fatalf("status = %s, want draft", c.Status)
	}
	if len(q.enqueued) != 2 {
		t.Fatalf("enqueued %d items, want 2", len(q.enqueued))
	}
	for _, item := range q.enqueued {
		if item.AttemptCount != 1 {
			t.Fatalf("attempt_count = %d, want 1 at enqueue", item.AttemptCount)
		}
		if item.MaxAttempts != 3 {
			t.Fatalf("max_attempts = %d, want default 3", item.MaxAttempts)
		}
		if item.Status != domain.QueueItemPending {
			t.Fatalf("status = %s, want pending", item.Status)
		}
	}
	if q.enqueued[1].Phone != "+15550005678" {
		t.Fatalf("second phone = %q, want normalized form", q.enqueued[1].Phone)
	}
}

func TestCreateRejectsMalformedPhone(t *testing.T) {
	svc := newTestService(t, newMemCampaigns(), &captureQueue{}, nil, nil)

	in := validInput()
	in.Contacts = append(in.Contacts, domain.Contact{Phone: "not a number"})

	_, err := svc.Create(context.Background(), uuid.New(), in)
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestCreateRejectsMissingFields(t *testing.T) {
	svc := newTestService(t, newMemCampaigns(), &captureQueue{}, nil, nil)
	ctx := context.Background()
	tenantID := uuid.New()

	in := validInput()
	in.Name = ""
	if _, err := svc.Create(ctx, tenantID, in); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("missing name: err = %v", err)
	}

	in = validInput()
	in.Type = "newsletter"
	if _, err := svc.Create(ctx, tenantID, in); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("bad type: err = %v", err)
	}

	in = validInput()
	in.Contacts = nil
	if _, err := svc.Create(ctx, tenantID, in); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("no contacts: err = %v", err)
	}
}

func TestCreateDeduplicatesContacts(t *testing.T) {
	q := &captureQueue{}
	svc := newTestService(t, newMemCampaigns(), q, nil, nil)

	in := validInput()
	in.Contacts = []domain.Contact{
		{Phone: "+15550001234", Name: "Dana"},
		{Phone: "+1 (555) 000-1234", Name: "Dana again"},
	}
	if _, err := svc.Create(context.Background(), uuid.New(), in); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(q.enqueued) != 1 {
		t.Fatalf("enqueued %d, want 1 after dedupe", len(q.enqueued))
	}
}

func TestCreateUsesTenantMaxAttempts(t *testing.T) {
	tenantID := uuid.New()
	tenants := &memTenants{settings: map[uuid.UUID]*domain.TenantSettings{
		tenantID: {TenantID: tenantID, MaxAttempts: 5},
	}}
	q := &captureQueue{}
	svc := newTestService(t, newMemCampaigns(), q, tenants, nil)

	if _, err := svc.Create(context.Background(), tenantID, validInput()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if q.enqueued[0].MaxAttempts != 5 {
		t.Fatalf("max_attempts = %d, want tenant setting 5", q.enqueued[0].MaxAttempts)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	campaigns := newMemCampaigns()
	svc := newTestService(t, campaigns, &captureQueue{}, nil, nil)
	ctx := context.Background()
	tenantID := uuid.New()

	c, err := svc.Create(ctx, tenantID, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.Pause(ctx, tenantID, c.ID); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("pausing a draft should fail validation, got %v", err)
	}

	if err := svc.Launch(ctx, tenantID, c.ID); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if campaigns.byID[c.ID].Status != domain.CampaignStatusRunning {
		t.Fatalf("status after launch = %s", campaigns.byID[c.ID].Status)
	}

	if err := svc.Pause(ctx, tenantID, c.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := svc.Resume(ctx, tenantID, c.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if campaigns.byID[c.ID].Status != domain.CampaignStatusRunning {
		t.Fatalf("status after resume = %s", campaigns.byID[c.ID].Status)
	}
}

func TestTenantScoping(t *testing.T) {
	campaigns := newMemCampaigns()
	svc := newTestService(t, campaigns, &captureQueue{}, nil, nil)
	ctx := context.Background()

	owner := uuid.New()
	c, err := svc.Create(ctx, owner, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.Get(ctx, uuid.New(), c.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("cross-tenant get: err = %v, want not found", err)
	}
	if err := svc.Launch(ctx, uuid.New(), c.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("cross-tenant launch: err = %v, want not found", err)
	}
}

func TestCallHistoryPageTokenRoundTrip(t *testing.T) {
	campaigns := newMemCampaigns()
	records := &stubRecords{
		records: []domain.CallRecord{{ID: uuid.New(), Outcome: domain.OutcomeAnswered}},
		next:    []byte{0x01, 0x02, 0x03},
	}
	svc := newTestService(t, campaigns, &captureQueue{}, nil, records)
	ctx := context.Background()
	tenantID := uuid.New()

	c, err := svc.Create(ctx, tenantID, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, token, err := svc.CallHistory(ctx, tenantID, c.ID, 10, "")
	if err != nil {
		t.Fatalf("CallHistory: %v", err)
	}
	if len(got) != 1 || token == "" {
		t.Fatalf("records = %d, token = %q", len(got), token)
	}

	if _, _, err := svc.CallHistory(ctx, tenantID, c.ID, 10, token); err != nil {
		t.Fatalf("CallHistory with token: %v", err)
	}
	if string(records.gotPage) != string(records.next) {
		t.Fatalf("paging state not round-tripped: %v", records.gotPage)
	}

	if _, _, err := svc.CallHistory(ctx, tenantID, c.ID, 10, "!!!"); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("bad token: err = %v", err)
	}
}
