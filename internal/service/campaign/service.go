package campaign

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/receptionist-dialer/internal/domain"
	"github.com/acme/receptionist-dialer/internal/repository"
	apperrors "github.com/acme/receptionist-dialer/pkg/errors"
	"github.com/acme/receptionist-dialer/pkg/logger"
	"github.com/acme/receptionist-dialer/pkg/phone"
)

// Service owns the campaign lifecycle: creation with a contact list,
// launch, pause/resume, and reporting.
type Service struct {
	campaigns          repository.CampaignRepository
	queue              repository.QueueRepository
	tenants            repository.TenantRepository
	records            repository.CallRecordStore
	defaultMaxAttempts int
	log                *logger.Logger
	now                func() time.Time
}

// NewService wires the campaign service.
func NewService(
	campaigns repository.CampaignRepository,
	queue repository.QueueRepository,
	tenants repository.TenantRepository,
	records repository.CallRecordStore,
	defaultMaxAttempts int,
	log *logger.Logger,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = 3
	}
	return &Service{
		campaigns:          campaigns,
		queue:              queue,
		tenants:            tenants,
		records:            records,
		defaultMaxAttempts: defaultMaxAttempts,
		log:                log.Named("campaign"),
		now:                now,
	}
}

// CreateInput is the operator's campaign definition.
type CreateInput struct {
	Name     string
	Type     domain.CampaignType
	Settings domain.CampaignSettings
	Contacts []domain.Contact
}

// Create validates the input, normalizes every contact phone, and persists
// the campaign in draft together with its queue items. A single malformed
// phone number rejects the whole request; nothing is enqueued.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, in CreateInput) (*domain.Campaign, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("campaign name is required: %w", apperrors.ErrValidation)
	}
	switch in.Type {
	case domain.CampaignTypeReminder, domain.CampaignTypeFollowUp, domain.CampaignTypeCustom:
	default:
		return nil, fmt.Errorf("unknown campaign type %q: %w", in.Type, apperrors.ErrValidation)
	}
	if len(in.Contacts) == 0 {
		return nil, fmt.Errorf("campaign needs at least one contact: %w", apperrors.ErrValidation)
	}

	maxAttempts := s.maxAttempts(ctx, tenantID, in.Settings)

	now := s.now().UTC()
	c := &domain.Campaign{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      in.Name,
		Type:      in.Type,
		Status:    domain.CampaignStatusDraft,
		Settings:  in.Settings,
		CreatedAt: now,
		UpdatedAt: now,
	}

	items := make([]*domain.QueueItem, 0, len(in.Contacts))
	seen := make(map[string]bool, len(in.Contacts))
	for _, contact := range in.Contacts {
		normalized, err := phone.NormalizeE164(contact.Phone)
		if err != nil {
			return nil, fmt.Errorf("contact %q: %w: %w", contact.Phone, err, apperrors.ErrValidation)
		}
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		items = append(items, &domain.QueueItem{
			ID:           uuid.New(),
			CampaignID:   c.ID,
			TenantID:     tenantID,
			Phone:        normalized,
			ContactName:  contact.Name,
			Status:       domain.QueueItemPending,
			AttemptCount: 1,
			MaxAttempts:  maxAttempts,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	if err := s.campaigns.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	if err := s.queue.Enqueue(ctx, items); err != nil {
		return nil, fmt.Errorf("enqueue contacts: %w", err)
	}

	s.log.Info("campaign created",
		zap.String("campaign_id", c.ID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.Int("contacts", len(items)))
	return c, nil
}

// Launch moves a draft campaign to running so the scheduler starts claiming
// its queue items.
func (s *Service) Launch(ctx context.Context, tenantID, id uuid.UUID) error {
	return s.transition(ctx, tenantID, id, domain.CampaignStatusRunning, domain.CampaignStatusDraft, domain.CampaignStatusPaused)
}

// Pause stops the scheduler from claiming further items. Calls already in
// flight still reconcile.
func (s *Service) Pause(ctx context.Context, tenantID, id uuid.UUID) error {
	return s.transition(ctx, tenantID, id, domain.CampaignStatusPaused, domain.CampaignStatusRunning)
}

// Resume puts a paused campaign back into rotation.
func (s *Service) Resume(ctx context.Context, tenantID, id uuid.UUID) error {
	return s.transition(ctx, tenantID, id, domain.CampaignStatusRunning, domain.CampaignStatusPaused)
}

func (s *Service) transition(ctx context.Context, tenantID, id uuid.UUID, to domain.CampaignStatus, from ...domain.CampaignStatus) error {
	c, err := s.campaigns.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	allowed := false
	for _, f := range from {
		if c.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("campaign is %s, cannot move to %s: %w", c.Status, to, apperrors.ErrValidation)
	}
	if err := s.campaigns.UpdateStatus(ctx, tenantID, id, to); err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	s.log.Info("campaign status changed",
		zap.String("campaign_id", id.String()),
		zap.String("from", string(c.Status)),
		zap.String("to", string(to)))
	return nil
}

// Get returns one campaign scoped to the tenant.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.Campaign, error) {
	return s.campaigns.Get(ctx, tenantID, id)
}

// List pages campaigns by creation order.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.campaigns.List(ctx, tenantID, afterID, limit)
}

// QueueSnapshot is the inspection view of a campaign's queue.
type QueueSnapshot struct {
	Campaign *domain.Campaign
	Items    []*domain.QueueItem
	Stats    domain.QueueStats
}

// Queue returns the campaign with its queue items and status partition
// counts.
func (s *Service) Queue(ctx context.Context, tenantID, id uuid.UUID, limit int) (*QueueSnapshot, error) {
	c, err := s.campaigns.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	items, stats, err := s.queue.ListByCampaign(ctx, c.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	return &QueueSnapshot{Campaign: c, Items: items, Stats: stats}, nil
}

// CallHistory pages terminal call records for a campaign. The page token is
// opaque to callers.
func (s *Service) CallHistory(ctx context.Context, tenantID, id uuid.UUID, limit int, pageToken string) ([]domain.CallRecord, string, error) {
	if _, err := s.campaigns.Get(ctx, tenantID, id); err != nil {
		return nil, "", err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var state []byte
	if pageToken != "" {
		decoded, err := base64.RawURLEncoding.DecodeString(pageToken)
		if err != nil {
			return nil, "", fmt.Errorf("bad page token: %w", apperrors.ErrValidation)
		}
		state = decoded
	}
	records, next, err := s.records.ListByCampaign(ctx, id, limit, state)
	if err != nil {
		return nil, "", fmt.Errorf("list call records: %w", err)
	}
	nextToken := ""
	if len(next) > 0 {
		nextToken = base64.RawURLEncoding.EncodeToString(next)
	}
	return records, nextToken, nil
}

// maxAttempts resolves the attempt budget: campaign settings win, then
// tenant settings, then the configured default.
func (s *Service) maxAttempts(ctx context.Context, tenantID uuid.UUID, settings domain.CampaignSettings) int {
	if settings.MaxAttempts > 0 {
		return settings.MaxAttempts
	}
	ts, err := s.tenants.GetSettings(ctx, tenantID)
	if err == nil && ts.MaxAttempts > 0 {
		return ts.MaxAttempts
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.log.Warn("tenant settings lookup failed, using default attempts",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err))
	}
	return s.defaultMaxAttempts
}
