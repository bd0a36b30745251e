package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/receptionist-dialer/internal/config"
	"github.com/acme/receptionist-dialer/internal/domain"
	"github.com/acme/receptionist-dialer/internal/repository"
	"github.com/acme/receptionist-dialer/internal/service/compliance"
	"github.com/acme/receptionist-dialer/internal/service/dispatch"
	"github.com/acme/receptionist-dialer/pkg/logger"
)

// Dispatcher places one call for a claimed item.
type Dispatcher interface {
	Dispatch(ctx context.Context, campaign *domain.Campaign, item *domain.QueueItem) dispatch.Result
}

// Quota tracks the per-tenant daily dial budget.
type Quota interface {
	Remaining(ctx context.Context, tenant domain.TenantSettings) (int, error)
	Reserve(ctx context.Context, tenant domain.TenantSettings, n int) (bool, error)
	Refund(ctx context.Context, tenant domain.TenantSettings, n int) error
}

// Scheduler drives the dial loop: every tick it claims eligible pending
// items per tenant, within concurrency and daily caps, gates each against
// the do-not-call registry, and hands survivors to the dispatcher. It also
// sweeps items stuck in calling and completes drained campaigns.
type Scheduler struct {
	campaigns  repository.CampaignRepository
	tenants    repository.TenantRepository
	queue      repository.QueueRepository
	gate       *compliance.Gate
	dispatcher Dispatcher
	quota      Quota
	cfg        config.SchedulerConfig
	defaults   config.TenantConfig
	log        *logger.Logger
	now        func() time.Time
}

// New constructs a scheduler. now is injectable for tests.
func New(
	campaigns repository.CampaignRepository,
	tenants repository.TenantRepository,
	queue repository.QueueRepository,
	gate *compliance.Gate,
	dispatcher Dispatcher,
	quota Quota,
	cfg config.SchedulerConfig,
	defaults config.TenantConfig,
	log *logger.Logger,
	now func() time.Time,
) *Scheduler {
	if now == nil {
		now = time.Now
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 50
	}
	if cfg.CampaignLimit <= 0 {
		cfg.CampaignLimit = 100
	}
	if cfg.CallingCeiling <= 0 {
		cfg.CallingCeiling = 15 * time.Minute
	}
	return &Scheduler{
		campaigns:  campaigns,
		tenants:    tenants,
		queue:      queue,
		gate:       gate,
		dispatcher: dispatcher,
		quota:      quota,
		cfg:        cfg,
		defaults:   defaults,
		log:        log.Named("scheduler"),
		now:        now,
	}
}

// Run executes the dial loop until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs one scheduling pass. Failures on one tenant or item never
// stall the rest of the pass.
func (s *Scheduler) Tick(ctx context.Context) error {
	tracer := otel.Tracer("dialer.scheduler")
	tctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	running, err := s.campaigns.ListRunning(tctx, s.cfg.CampaignLimit)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("list running campaigns: %w", err)
	}
	span.SetAttributes(attribute.Int("campaigns.running", len(running)))

	byTenant := map[uuid.UUID][]*domain.Campaign{}
	for _, c := range running {
		byTenant[c.TenantID] = append(byTenant[c.TenantID], c)
	}

	for tenantID, tenantCampaigns := range byTenant {
		if err := s.dialTenant(tctx, tenantID, tenantCampaigns); err != nil {
			s.log.Error("tenant pass failed",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err))
		}
	}

	s.sweepStuck(tctx)
	s.completeDrained(tctx, running)
	return nil
}

// dialTenant claims and dispatches up to the tenant's headroom for one tick.
func (s *Scheduler) dialTenant(ctx context.Context, tenantID uuid.UUID, campaigns []*domain.Campaign) error {
	settings := s.settingsFor(ctx, tenantID)
	now := s.now().UTC()

	eligible, err := s.queue.PeekEligible(ctx, tenantID, now, s.cfg.MaxBatchSize)
	if err != nil {
		return fmt.Errorf("peek eligible: %w", err)
	}
	if len(eligible) == 0 {
		return nil
	}

	// Gate every candidate right before claiming. Blocked items terminate
	// as dnc_blocked and never reach the dispatcher.
	ids := make([]uuid.UUID, 0, len(eligible))
	for _, item := range eligible {
		blocked, err := s.gate.Check(ctx, tenantID, item.Phone)
		if err != nil {
			s.log.Error("compliance check failed, skipping item",
				zap.String("queue_item_id", item.ID.String()),
				zap.Error(err))
			continue
		}
		if blocked {
			if err := s.queue.MarkDNCBlocked(ctx, item.ID); err != nil {
				s.log.Error("mark dnc_blocked failed",
					zap.String("queue_item_id", item.ID.String()),
					zap.Error(err))
			}
			continue
		}
		ids = append(ids, item.ID)
	}
	if len(ids) == 0 {
		return nil
	}

	quotaLeft, err := s.quota.Remaining(ctx, settings)
	if err != nil {
		return fmt.Errorf("daily quota: %w", err)
	}
	if quotaLeft <= 0 {
		// Cap reached: items simply stay pending until the next window.
		return nil
	}
	if len(ids) > quotaLeft {
		ids = ids[:quotaLeft]
	}

	claimed, err := s.queue.ClaimBatch(ctx, tenantID, ids, settings.MaxConcurrentCalls, now)
	if err != nil {
		return fmt.Errorf("claim batch: %w", err)
	}
	if len(claimed) == 0 {
		return nil
	}

	reserved, err := s.quota.Reserve(ctx, settings, len(claimed))
	if err != nil {
		return fmt.Errorf("reserve quota: %w", err)
	}
	if !reserved {
		// Another tick spent the budget between Remaining and Reserve.
		for _, item := range claimed {
			if err := s.queue.Release(ctx, item.ID, "daily cap reached"); err != nil {
				s.log.Error("release after quota race failed",
					zap.String("queue_item_id", item.ID.String()),
					zap.Error(err))
			}
		}
		return nil
	}

	byID := make(map[uuid.UUID]*domain.Campaign, len(campaigns))
	for _, c := range campaigns {
		byID[c.ID] = c
	}

	for _, item := range claimed {
		campaign, ok := byID[item.CampaignID]
		if !ok {
			// Campaign was paused between peek and claim.
			if err := s.queue.Release(ctx, item.ID, "campaign no longer running"); err != nil {
				s.log.Error("release orphan claim failed",
					zap.String("queue_item_id", item.ID.String()),
					zap.Error(err))
			}
			s.refund(ctx, settings, 1)
			continue
		}
		res := s.dispatcher.Dispatch(ctx, campaign, item)
		if !res.Dialed {
			// No call was placed, so the reservation goes back.
			s.refund(ctx, settings, 1)
		}
	}
	return nil
}

func (s *Scheduler) refund(ctx context.Context, settings domain.TenantSettings, n int) {
	if err := s.quota.Refund(ctx, settings, n); err != nil {
		s.log.Error("quota refund failed",
			zap.String("tenant_id", settings.TenantID.String()),
			zap.Error(err))
	}
}

// sweepStuck reclaims items whose webhook never arrived: retry if budget
// remains, otherwise terminalize as failed.
func (s *Scheduler) sweepStuck(ctx context.Context) {
	cutoff := s.now().UTC().Add(-s.cfg.CallingCeiling)
	stuck, err := s.queue.StuckCalling(ctx, cutoff, s.cfg.MaxBatchSize)
	if err != nil {
		s.log.Error("stuck-calling sweep failed", zap.Error(err))
		return
	}
	for _, item := range stuck {
		if item.AttemptCount < item.MaxAttempts {
			if _, err := s.queue.ScheduleRetry(ctx, item.ID, item.AttemptCount+1, s.now().UTC()); err != nil {
				s.log.Error("retry stuck item failed",
					zap.String("queue_item_id", item.ID.String()),
					zap.Error(err))
			}
			continue
		}
		reason := "no status callback received"
		if _, err := s.queue.Terminalize(ctx, item.ID, domain.QueueItemFailed, domain.OutcomeFailed, &reason); err != nil {
			s.log.Error("terminalize stuck item failed",
				zap.String("queue_item_id", item.ID.String()),
				zap.Error(err))
		}
		s.log.Warn("stuck item terminalized",
			zap.String("queue_item_id", item.ID.String()),
			zap.Int("attempts", item.AttemptCount))
	}
}

// completeDrained marks running campaigns completed once no item is pending
// or calling.
func (s *Scheduler) completeDrained(ctx context.Context, running []*domain.Campaign) {
	for _, c := range running {
		_, stats, err := s.queue.ListByCampaign(ctx, c.ID, 1)
		if err != nil {
			s.log.Error("campaign stats failed",
				zap.String("campaign_id", c.ID.String()),
				zap.Error(err))
			continue
		}
		if stats.Total == 0 || stats.Pending+stats.Calling > 0 {
			continue
		}
		if err := s.campaigns.UpdateStatus(ctx, c.TenantID, c.ID, domain.CampaignStatusCompleted); err != nil {
			s.log.Error("complete campaign failed",
				zap.String("campaign_id", c.ID.String()),
				zap.Error(err))
			continue
		}
		s.log.Info("campaign completed", zap.String("campaign_id", c.ID.String()))
	}
}

// settingsFor loads tenant limits, falling back to configured defaults.
func (s *Scheduler) settingsFor(ctx context.Context, tenantID uuid.UUID) domain.TenantSettings {
	settings, err := s.tenants.GetSettings(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("tenant settings lookup failed, using defaults",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err))
		}
		return domain.TenantSettings{
			TenantID:           tenantID,
			MaxConcurrentCalls: s.defaults.DefaultConcurrency,
			DailyCallCap:       s.defaults.DefaultDailyCap,
			MaxAttempts:        s.defaults.DefaultMaxAttempts,
		}
	}
	out := *settings
	if out.MaxConcurrentCalls <= 0 {
		out.MaxConcurrentCalls = s.defaults.DefaultConcurrency
	}
	if out.DailyCallCap <= 0 {
		out.DailyCallCap = s.defaults.DefaultDailyCap
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = s.defaults.DefaultMaxAttempts
	}
	return out
}
