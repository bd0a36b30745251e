package handlers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/receptionist-dialer/internal/domain"
	"github.com/acme/receptionist-dialer/internal/repository"
)

type tenantSettingsRequest struct {
	MaxConcurrentCalls int    `json:"max_concurrent_calls"`
	DailyCallCap       int    `json:"daily_call_cap"`
	MaxAttempts        int    `json:"max_attempts"`
	TimeZone           string `json:"time_zone,omitempty"`
}

type tenantSettingsResponse struct {
	MaxConcurrentCalls int    `json:"max_concurrent_calls"`
	DailyCallCap       int    `json:"daily_call_cap"`
	MaxAttempts        int    `json:"max_attempts"`
	TimeZone           string `json:"time_zone,omitempty"`
}

func (h *HandlerSet) getTenantSettings(ctx *fiber.Ctx) error {
	settings, err := h.container.Repositories().Tenants.GetSettings(ctx.Context(), tenantID(ctx))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// No row yet: report the configured defaults.
			cfg := h.container.Config.Tenant
			return ctx.JSON(tenantSettingsResponse{
				MaxConcurrentCalls: cfg.DefaultConcurrency,
				DailyCallCap:       cfg.DefaultDailyCap,
				MaxAttempts:        cfg.DefaultMaxAttempts,
			})
		}
		return translateError(err)
	}
	return ctx.JSON(tenantSettingsResponse{
		MaxConcurrentCalls: settings.MaxConcurrentCalls,
		DailyCallCap:       settings.DailyCallCap,
		MaxAttempts:        settings.MaxAttempts,
		TimeZone:           settings.TimeZone,
	})
}

func (h *HandlerSet) putTenantSettings(ctx *fiber.Ctx) error {
	var req tenantSettingsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.MaxConcurrentCalls < 0 || req.DailyCallCap < 0 || req.MaxAttempts < 0 {
		return fiber.NewError(http.StatusBadRequest, "limits must be non-negative")
	}

	settings := &domain.TenantSettings{
		TenantID:           tenantID(ctx),
		MaxConcurrentCalls: req.MaxConcurrentCalls,
		DailyCallCap:       req.DailyCallCap,
		MaxAttempts:        req.MaxAttempts,
		TimeZone:           req.TimeZone,
	}
	if err := h.container.Repositories().Tenants.UpsertSettings(ctx.Context(), settings); err != nil {
		return translateError(err)
	}
	return ctx.JSON(tenantSettingsResponse{
		MaxConcurrentCalls: settings.MaxConcurrentCalls,
		DailyCallCap:       settings.DailyCallCap,
		MaxAttempts:        settings.MaxAttempts,
		TimeZone:           settings.TimeZone,
	})
}
