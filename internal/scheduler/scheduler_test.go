package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/receptionist-dialer/internal/config"
	"github.com/acme/receptionist-dialer/internal/domain"
	"github.com/acme/receptionist-dialer/internal/repository"
	"github.com/acme/receptionist-dialer/internal/service/compliance"
	"github.com/acme/receptionist-dialer/internal/service/dispatch"
	"github.com/acme/receptionist-dialer/pkg/logger"
)

// memQueue mirrors the claim and transition guards of the Postgres
// repository so claiming semantics can be exercised in-memory.
type memQueue struct {
	order   []uuid.UUID
	items   map[uuid.UUID]*domain.QueueItem
	running map[uuid.UUID]bool
}

func newMemQueue() *memQueue {
	return &memQueue{items: map[uuid.UUID]*domain.QueueItem{}, running: map[uuid.UUID]bool{}}
}

func (m *memQueue) add(item *domain.QueueItem) {
	m.order = append(m.order, item.ID)
	m.items[item.ID] = item
}

func (m *memQueue) Enqueue(_ context.Context, items []*domain.QueueItem) error {
	for _, it := range items {
		m.add(it)
	}
	return nil
}

func (m *memQueue) Get(_ context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	it, ok := m.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return it, nil
}

func (m *memQueue) GetByProviderCallID(_ context.Context, providerCallID string) (*domain.QueueItem, error) {
	for _, it := range m.items {
		if it.ProviderCallID != nil && *it.ProviderCallID == providerCallID {
			return it, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memQueue) PeekEligible(_ context.Context, tenantID uuid.UUID, now time.Time, limit int) ([]*domain.QueueItem, error) {
	var out []*domain.QueueItem
	for _, id := range m.order {
		it := m.items[id]
		if it.TenantID != tenantID || it.Status != domain.QueueItemPending {
			continue
		}
		if !m.running[it.CampaignID] {
			continue
		}
		if it.NextAttemptAt != nil && it.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, it)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memQueue) ClaimBatch(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID, cap int, now time.Time) ([]*domain.QueueItem, error) {
	calling, _ := m.CountCalling(context.Background(), tenantID)
	room := cap - calling
	if room <= 0 {
		return nil, nil
	}
	var claimed []*domain.QueueItem
	for _, id := range ids {
		if len(claimed) == room {
			break
		}
		it, ok := m.items[id]
		if !ok || it.TenantID != tenantID || it.Status != domain.QueueItemPending {
			continue
		}
		it.Status = domain.QueueItemCalling
		it.LastAttemptAt = &now
		it.NextAttemptAt = nil
		claimed = append(claimed, it)
	}
	return claimed, nil
}

func (m *memQueue) MarkDispatched(_ context.Context, id uuid.UUID, providerCallID string) error {
	m.items[id].ProviderCallID = &providerCallID
	return nil
}

func (m *memQueue) Release(_ context.Context, id uuid.UUID, lastError string) error {
	it := m.items[id]
	it.Status = domain.QueueItemPending
	it.LastError = &lastError
	return nil
}

func (m *memQueue) MarkDNCBlocked(_ context.Context, id uuid.UUID) error {
	m.items[id].Status = domain.QueueItemDNCBlocked
	return nil
}

func (m *memQueue) Terminalize(_ context.Context, id uuid.UUID, status domain.QueueItemStatus, outcome domain.CallOutcome, lastError *string) (bool, error) {
	it, ok := m.items[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if it.Status.Terminal() {
		return false, nil
	}
	it.Status = status
	it.Outcome = &outcome
	it.LastError = lastError
	return true, nil
}

func (m *memQueue) ScheduleRetry(_ context.Context, id uuid.UUID, attempt int, nextAttemptAt time.Time) (bool, error) {
	it, ok := m.items[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if it.Status != domain.QueueItemCalling || it.AttemptCount != attempt-1 || it.AttemptCount >= it.MaxAttempts {
		return false, nil
	}
	it.Status = domain.QueueItemPending
	it.AttemptCount = attempt
	it.NextAttemptAt = &nextAttemptAt
	return true, nil
}

func (m *memQueue) CountCalling(_ context.Context, tenantID uuid.UUID) (int, error) {
	n := 0
	for _, it := range m.items {
		if it.TenantID == tenantID && it.Status == domain.QueueItemCalling {
			n++
		}
	}
	return n, nil
}

func (m *memQueue) ListByCampaign(_ context.Context, campaignID uuid.UUID, _ int) ([]*domain.QueueItem, domain.QueueStats, error) {
	var items []*domain.QueueItem
	var stats domain.QueueStats
	for _, id := range m.order {
		it := m.items[id]
		if it.CampaignID != campaignID {
			continue
		}
		items = append(items, it)
		stats.Total++
		switch it.Status {
		case domain.QueueItemPending:
			stats.Pending++
		case domain.QueueItemCalling:
			stats.Calling++
		case domain.QueueItemCompleted:
			stats.Completed++
		case domain.QueueItemFailed:
			stats.Failed++
		case domain.QueueItemDeclined:
			stats.Declined++
		case domain.QueueItemDNCBlocked:
			stats.DNCBlocked++
		case domain.QueueItemNoAnswer:
			stats.NoAnswer++
		}
	}
	return items, stats, nil
}

func (m *memQueue) StuckCalling(_ context.Context, cutoff time.Time, limit int) ([]*domain.QueueItem, error) {
	var out []*domain.QueueItem
	for _, id := range m.order {
		it := m.items[id]
		if it.Status == domain.QueueItemCalling && it.LastAttemptAt != nil && it.LastAttemptAt.Before(cutoff) {
			out = append(out, it)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type memCampaigns struct {
	byID map[uuid.UUID]*domain.Campaign
}

func newMemCampaigns() *memCampaigns { return &memCampaigns{byID: map[uuid.UUID]*domain.Campaign{}} }

func (m *memCampaigns) Create(_ context.Context, c *domain.Campaign) error {
	m.byID[c.ID] = c
	return nil
}

func (m *memCampaigns) Get(_ context.Context, tenantID, id uuid.UUID) (*domain.Campaign, error) {
	c, ok := m.byID[id]
	if !ok || c.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (m *memCampaigns) UpdateStatus(_ context.Context, tenantID, id uuid.UUID, status domain.CampaignStatus) error {
	c, ok := m.byID[id]
	if !ok || c.TenantID != tenantID {
		return repository.ErrNotFound
	}
	c.Status = status
	return nil
}

func (m *memCampaigns) List(context.Context, uuid.UUID, *uuid.UUID, int) ([]*domain.Campaign, error) {
	return nil, nil
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

type memDNC struct {
	blocked map[string]bool
}

func (m *memDNC) Add(_ context.Context, entry *domain.DNCEntry) error {
	if m.blocked == nil {
		m.blocked = map[string]bool{}
	}
	m.blocked[entry.TenantID.String()+"|"+entry.Phone] = true
	return nil
}

func (m *memDNC) Remove(context.Context, uuid.UUID, string) error { return nil }

func (m *memDNC) Exists(_ context.Context, tenantID uuid.UUID, phone string) (bool, error) {
	return m.blocked[tenantID.String()+"|"+phone], nil
}

func (m *memDNC) List(context.Context, uuid.UUID, string, int, int) ([]*domain.DNCEntry, int64, error) {
	return nil, 0, nil
}

type stubTenants struct {
	settings *domain.TenantSettings
}

func (s *stubTenants) GetSettings(context.Context, uuid.UUID) (*domain.TenantSettings, error) {
	if s.settings == nil {
		return nil, repository.ErrNotFound
	}
	return s.settings, nil
}

func (s *stubTenants) UpsertSettings(context.Context, *domain.TenantSettings) error { return nil }

// memQuota is an in-memory daily counter.
type memQuota struct {
	used int
}

func (m *memQuota) capOf(t domain.TenantSettings) int { return t.DailyCallCap }

func (m *memQuota) Remaining(_ context.Context, t domain.TenantSettings) (int, error) {
	left := m.capOf(t) - m.used
	if left < 0 {
		left = 0
	}
	return left, nil
}

func (m *memQuota) Reserve(_ context.Context, t domain.TenantSettings, n int) (bool, error) {
	if m.used+n > m.capOf(t) {
		return false, nil
	}
	m.used += n
	return true, nil
}

func (m *memQuota) Refund(_ context.Context, _ domain.TenantSettings, n int) error {
	m.used -= n
	if m.used < 0 {
		m.used = 0
	}
	return nil
}

// recordingDispatcher marks dispatch without a real provider.
type recordingDispatcher struct {
	dispatched []uuid.UUID
	queue      *memQueue
	fail       func(item *domain.QueueItem) *dispatch.Result
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, _ *domain.Campaign, item *domain.QueueItem) dispatch.Result {
	if d.fail != nil {
		if res := d.fail(item); res != nil {
			if !res.Dialed && !res.Permanent {
				_ = d.queue.Release(ctx, item.ID, "transient")
			}
			return *res
		}
	}
	d.dispatched = append(d.dispatched, item.ID)
	callID := "prov-" + item.ID.String()
	_ = d.queue.MarkDispatched(ctx, item.ID, callID)
	return dispatch.Result{Dialed: true, ProviderCallID: callID}
}

type fixture struct {
	scheduler  *Scheduler
	queue      *memQueue
	campaigns  *memCampaigns
	dnc        *memDNC
	quota      *memQuota
	dispatcher *recordingDispatcher
	tenantID   uuid.UUID
	campaign   *domain.Campaign
	now        time.Time
}

func newFixture(t *testing.T, settings *domain.TenantSettings) *fixture {
	t.Helper()
	lg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	f := &fixture{
		queue:     newMemQueue(),
		campaigns: newMemCampaigns(),
		dnc:       &memDNC{},
		quota:     &memQuota{},
		tenantID:  uuid.New(),
		now:       time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC),
	}
	f.dispatcher = &recordingDispatcher{queue: f.queue}

	f.campaign = &domain.Campaign{
		ID:       uuid.New(),
		TenantID: f.tenantID,
		Name:     "Recall outreach",
		Type:     domain.CampaignTypeReminder,
		Status:   domain.CampaignStatusRunning,
	}
	_ = f.campaigns.Create(context.Background(), f.campaign)
	f.queue.running[f.campaign.ID] = true

	if settings != nil {
		settings.TenantID = f.tenantID
	}

	f.scheduler = New(
		f.campaigns,
		&stubTenants{settings: settings},
		f.queue,
		compliance.NewGate(f.dnc),
		f.dispatcher,
		f.quota,
		config.SchedulerConfig{TickInterval: time.Second, MaxBatchSize: 50, CallingCeiling: 10 * time.Minute, CampaignLimit: 10},
		config.TenantConfig{DefaultConcurrency: 5, DefaultDailyCap: 100, DefaultMaxAttempts: 3},
		lg,
		func() time.Time { return f.now },
	)
	return f
}

func (f *fixture) pendingItem(phone string) *domain.QueueItem {
	item := &domain.QueueItem{
		ID:           uuid.New(),
		CampaignID:   f.campaign.ID,
		TenantID:     f.tenantID,
		Phone:        phone,
		Status:       domain.QueueItemPending,
		AttemptCount: 1,
		MaxAttempts:  3,
		CreatedAt:    f.now,
	}
	f.queue.add(item)
	return item
}

func TestTickBlocksDNCAndDialsRest(t *testing.T) {
	f := newFixture(t, nil)
	blocked := f.pendingItem("+15550001234")
	a := f.pendingItem("+15550002222")
	b := f.pendingItem("+15550003333")

	_ = f.dnc.Add(context.Background(), &domain.DNCEntry{TenantID: f.tenantID, Phone: "+15550001234"})

	if err := f.scheduler.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if got := f.queue.items[blocked.ID].Status; got != domain.QueueItemDNCBlocked {
		t.Fatalf("blocked item status = %s, want dnc_blocked", got)
	}
	for _, it := range []*domain.QueueItem{a, b} {
		if got := f.queue.items[it.ID].Status; got != domain.QueueItemCalling {
			t.Fatalf("item %s status = %s, want calling", it.ID, got)
		}
	}
	if len(f.dispatcher.dispatched) != 2 {
		t.Fatalf("dispatched %d, want 2", len(f.dispatcher.dispatched))
	}
}

func TestTickRespectsConcurrencyCap(t *testing.T) {
	f := newFixture(t, &domain.TenantSettings{MaxConcurrentCalls: 2, DailyCallCap: 100, MaxAttempts: 3})
	for i := 0; i < 5; i++ {
		f.pendingItem("+1555000200" + string(rune('0'+i)))
	}

	if err := f.scheduler.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	calling, _ := f.queue.CountCalling(context.Background(), f.tenantID)
	if calling != 2 {
		t.Fatalf("calling = %d, want concurrency cap 2", calling)
	}

	// A second tick with both slots occupied claims nothing more.
	if err := f.scheduler.Tick(context.Background()); err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	calling, _ = f.queue.CountCalling(context.Background(), f.tenantID)
	if calling != 2 {
		t.Fatalf("calling after second tick = %d, want 2", calling)
	}
}

func TestTickRespectsDailyCap(t *testing.T) {
	f := newFixture(t, &domain.TenantSettings{MaxConcurrentCalls: 10, DailyCallCap: 3, MaxAttempts: 3})
	for i := 0; i < 5; i++ {
		f.pendingItem("+1555000210" + string(rune('0'+i)))
	}

	if err := f.scheduler.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(f.dispatcher.dispatched) != 3 {
		t.Fatalf("dispatched %d, want daily cap 3", len(f.dispatcher.dispatched))
	}
	if f.quota.used != 3 {
		t.Fatalf("quota used = %d, want 3", f.quota.used)
	}

	// Remaining items stay pending, not failed.
	pending := 0
	for _, it := range f.queue.items {
		if it.Status == domain.QueueItemPending {
			pending++
		}
	}
	if pending != 2 {
		t.Fatalf("pending = %d, want 2", pending)
	}
}

func TestTickSkipsBackoffDelayedItems(t *testing.T) {
	f := newFixture(t, nil)
	ready := f.pendingItem("+15550002222")
	delayed := f.pendingItem("+15550003333")
	future := f.now.Add(30 * time.Minute)
	delayed.NextAttemptAt = &future

	if err := f.scheduler.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if f.queue.items[ready.ID].Status != domain.QueueItemCalling {
		t.Fatalf("ready item not claimed")
	}
	if f.queue.items[delayed.ID].Status != domain.QueueItemPending {
		t.Fatalf("delayed item claimed before next_attempt_at")
	}

	// Advance past the delay and it dials.
	f.now = f.now.Add(time.Hour)
	if err := f.scheduler.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if f.queue.items[delayed.ID].Status != domain.QueueItemCalling {
		t.Fatalf("delayed item not claimed after backoff elapsed")
	}
}

func TestPausedCampaignNotClaimed(t *testing.T) {
	f := newFixture(t, nil)
	item := f.pendingItem("+15550002222")

	f.campaign.Status = domain.CampaignStatusPaused
	f.queue.running[f.campaign.ID] = false

	if err := f.scheduler.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if f.queue.items[item.ID].Status != domain.QueueItemPending {
		t.Fatalf("paused campaign item claimed")
	}
}

func TestTransientDispatchRefundsQuota(t *testing.T) {
	f := newFixture(t, &domain.TenantSettings{MaxConcurrentCalls: 10, DailyCallCap: 10, MaxAttempts: 3})
	f.pendingItem("+15550002222")
	f.dispatcher.fail = func(*domain.QueueItem) *dispatch.Result {
		return &dispatch.Result{Err: context.DeadlineExceeded}
	}

	if err := f.scheduler.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if f.quota.used != 0 {
		t.Fatalf("quota used = %d after transient rejection, want 0", f.quota.used)
	}
}

func TestStuckCallingSweep(t *testing.T) {
	f := newFixture(t, nil)

	old := f.now.Add(-time.Hour)
	retryable := f.pendingItem("+15550002222")
	retryable.Status = domain.QueueItemCalling
	retryable.LastAttemptAt = &old

	exhausted := f.pendingItem("+15550003333")
	exhausted.Status = domain.QueueItemCalling
	exhausted.AttemptCount = 3
	exhausted.LastAttemptAt = &old

	if err := f.scheduler.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	// The retryable item loops back (and is immediately re-claimable, so it
	// may already be calling again); its attempt count advanced.
	if got := f.queue.items[retryable.ID].AttemptCount; got != 2 {
		t.Fatalf("retryable attempt count = %d, want 2", got)
	}
	got := f.queue.items[exhausted.ID]
	if got.Status != domain.QueueItemFailed || got.Outcome == nil || *got.Outcome != domain.OutcomeFailed {
		t.Fatalf("exhausted stuck item = %+v, want failed", got)
	}
}

func TestDrainedCampaignCompletes(t *testing.T) {
	f := newFixture(t, nil)
	item := f.pendingItem("+15550002222")
	item.Status = domain.QueueItemCompleted

	if err := f.scheduler.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if f.campaigns.byID[f.campaign.ID].Status != domain.CampaignStatusCompleted {
		t.Fatalf("campaign status = %s, want completed", f.campaigns.byID[f.campaign.ID].Status)
	}
}

func TestEmptyCampaignNotCompleted(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.scheduler.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if f.campaigns.byID[f.campaign.ID].Status != domain.CampaignStatusRunning {
		t.Fatalf("empty campaign moved to %s", f.campaigns.byID[f.campaign.ID].Status)
	}
}
