package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/receptionist-dialer/internal/domain"
	campaignsvc "github.com/acme/receptionist-dialer/internal/service/campaign"
)

type contactRequest struct {
	Phone string `json:"phone"`
	Name  string `json:"name,omitempty"`
}

type createCampaignRequest struct {
	Name     string           `json:"name"`
	Type     string           `json:"type"`
	Settings campaignSettings `json:"settings"`
	Contacts []contactRequest `json:"contacts"`
}

type campaignSettings struct {
	Instruction string `json:"instruction,omitempty"`
	Purpose     string `json:"purpose,omitempty"`
	DailyCap    int    `json:"daily_cap,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

type campaignResponse struct {
	ID          uuid.UUID             `json:"id"`
	Name        string                `json:"name"`
	Type        domain.CampaignType   `json:"type"`
	Status      domain.CampaignStatus `json:"status"`
	Settings    campaignSettings      `json:"settings"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

type listCampaignsResponse struct {
	Campaigns []campaignResponse `json:"campaigns"`
}

type queueItemResponse struct {
	ID           uuid.UUID              `json:"id"`
	Phone        string                 `json:"phone"`
	ContactName  string                 `json:"contact_name,omitempty"`
	Status       domain.QueueItemStatus `json:"status"`
	Outcome      *domain.CallOutcome    `json:"outcome,omitempty"`
	AttemptCount int                    `json:"attempt_count"`
	MaxAttempts  int                    `json:"max_attempts"`
	LastError    *string                `json:"last_error,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	NextAttempt  *time.Time             `json:"next_attempt_at,omitempty"`
}

type queueStatsResponse struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	Calling    int64 `json:"calling"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Declined   int64 `json:"declined"`
	DNCBlocked int64 `json:"dnc_blocked"`
	NoAnswer   int64 `json:"no_answer"`
}

type campaignQueueResponse struct {
	Campaign campaignResponse    `json:"campaign"`
	Calls    []queueItemResponse `json:"calls"`
	Stats    queueStatsResponse  `json:"stats"`
}

type callRecordResponse struct {
	ID            uuid.UUID          `json:"id"`
	Phone         string             `json:"phone"`
	Outcome       domain.CallOutcome `json:"outcome"`
	AttemptCount  int                `json:"attempt_count"`
	DurationSec   int                `json:"duration_seconds"`
	RecordingURL  string             `json:"recording_url,omitempty"`
	TranscriptURL string             `json:"transcript_url,omitempty"`
	EndedAt       time.Time          `json:"ended_at"`
}

type listCallRecordsResponse struct {
	Calls    []callRecordResponse `json:"calls"`
	NextPage string               `json:"next_page_token,omitempty"`
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	return campaignResponse{
		ID:     c.ID,
		Name:   c.Name,
		Type:   c.Type,
		Status: c.Status,
		Settings: campaignSettings{
			Instruction: c.Settings.Instruction,
			Purpose:     c.Settings.Purpose,
			DailyCap:    c.Settings.DailyCap,
			MaxAttempts: c.Settings.MaxAttempts,
		},
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		StartedAt:   c.StartedAt,
		CompletedAt: c.CompletedAt,
	}
}

func (h *HandlerSet) createCampaign(ctx *fiber.Ctx) error {
	var req createCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	contacts := make([]domain.Contact, 0, len(req.Contacts))
	for _, c := range req.Contacts {
		contacts = append(contacts, domain.Contact{Phone: c.Phone, Name: c.Name})
	}

	campaign, err := h.campaigns.Create(ctx.Context(), tenantID(ctx), campaignsvc.CreateInput{
		Name: req.Name,
		Type: domain.CampaignType(req.Type),
		Settings: domain.CampaignSettings{
			Instruction: req.Settings.Instruction,
			Purpose:     req.Settings.Purpose,
			DailyCap:    req.Settings.DailyCap,
			MaxAttempts: req.Settings.MaxAttempts,
		},
		Contacts: contacts,
	})
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) listCampaigns(ctx *fiber.Ctx) error {
	var afterID *uuid.UUID
	if raw := ctx.Query("after"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "malformed after cursor")
		}
		afterID = &id
	}

	campaigns, err := h.campaigns.List(ctx.Context(), tenantID(ctx), afterID, ctx.QueryInt("limit"))
	if err != nil {
		return translateError(err)
	}

	resp := listCampaignsResponse{Campaigns: make([]campaignResponse, 0, len(campaigns))}
	for _, c := range campaigns {
		resp.Campaigns = append(resp.Campaigns, toCampaignResponse(c))
	}
	return ctx.JSON(resp)
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "malformed campaign id")
	}
	campaign, err := h.campaigns.Get(ctx.Context(), tenantID(ctx), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) launchCampaign(ctx *fiber.Ctx) error {
	return h.lifecycle(ctx, h.campaigns.Launch)
}

func (h *HandlerSet) pauseCampaign(ctx *fiber.Ctx) error {
	return h.lifecycle(ctx, h.campaigns.Pause)
}

func (h *HandlerSet) resumeCampaign(ctx *fiber.Ctx) error {
	return h.lifecycle(ctx, h.campaigns.Resume)
}

func (h *HandlerSet) lifecycle(ctx *fiber.Ctx, op func(ctx context.Context, tenantID, id uuid.UUID) error) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "malformed campaign id")
	}
	if err := op(ctx.Context(), tenantID(ctx), id); err != nil {
		return translateError(err)
	}
	campaign, err := h.campaigns.Get(ctx.Context(), tenantID(ctx), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) campaignQueue(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "malformed campaign id")
	}
	snapshot, err := h.campaigns.Queue(ctx.Context(), tenantID(ctx), id, ctx.QueryInt("limit"))
	if err != nil {
		return translateError(err)
	}

	resp := campaignQueueResponse{
		Campaign: toCampaignResponse(snapshot.Campaign),
		Calls:    make([]queueItemResponse, 0, len(snapshot.Items)),
		Stats: queueStatsResponse{
			Total:      snapshot.Stats.Total,
			Pending:    snapshot.Stats.Pending,
			Calling:    snapshot.Stats.Calling,
			Completed:  snapshot.Stats.Completed,
			Failed:     snapshot.Stats.Failed,
			Declined:   snapshot.Stats.Declined,
			DNCBlocked: snapshot.Stats.DNCBlocked,
			NoAnswer:   snapshot.Stats.NoAnswer,
		},
	}
	for _, item := range snapshot.Items {
		resp.Calls = append(resp.Calls, queueItemResponse{
			ID:           item.ID,
			Phone:        item.Phone,
			ContactName:  item.ContactName,
			Status:       item.Status,
			Outcome:      item.Outcome,
			AttemptCount: item.AttemptCount,
			MaxAttempts:  item.MaxAttempts,
			LastError:    item.LastError,
			CreatedAt:    item.CreatedAt,
			UpdatedAt:    item.UpdatedAt,
			NextAttempt:  item.NextAttemptAt,
		})
	}
	return ctx.JSON(resp)
}

func (h *HandlerSet) campaignCalls(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "malformed campaign id")
	}
	records, next, err := h.campaigns.CallHistory(ctx.Context(), tenantID(ctx), id, ctx.QueryInt("limit"), ctx.Query("page_token"))
	if err != nil {
		return translateError(err)
	}

	resp := listCallRecordsResponse{Calls: make([]callRecordResponse, 0, len(records)), NextPage: next}
	for _, r := range records {
		resp.Calls = append(resp.Calls, callRecordResponse{
			ID:            r.ID,
			Phone:         r.Phone,
			Outcome:       r.Outcome,
			AttemptCount:  r.AttemptCount,
			DurationSec:   int(r.Duration / time.Second),
			RecordingURL:  r.RecordingURL,
			TranscriptURL: r.TranscriptURL,
			EndedAt:       r.EndedAt,
		})
	}
	return ctx.JSON(resp)
}
