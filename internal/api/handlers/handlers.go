package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/receptionist-dialer/internal/app"
	campaignsvc "github.com/acme/receptionist-dialer/internal/service/campaign"
	"github.com/acme/receptionist-dialer/internal/service/compliance"
)

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	container *app.Container
	campaigns *campaignsvc.Service
	gate      *compliance.Gate
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) *HandlerSet {
	services := container.Services()
	return &HandlerSet{
		container: container,
		campaigns: services.Campaign,
		gate:      services.Gate,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(fiberApp *fiber.App) {
	fiberApp.Get("/healthz", h.health)

	// Provider callbacks carry no tenant header; the call id scopes them.
	fiberApp.Post("/webhooks/voice", h.voiceWebhook)

	v1 := fiberApp.Group("/api/v1", h.requireTenant)

	campaigns := v1.Group("/campaigns")
	campaigns.Post("/", h.createCampaign)
	campaigns.Get("/", h.listCampaigns)
	campaigns.Get("/:id", h.getCampaign)
	campaigns.Post("/:id/launch", h.launchCampaign)
	campaigns.Post("/:id/pause", h.pauseCampaign)
	campaigns.Post("/:id/resume", h.resumeCampaign)
	campaigns.Get("/:id/queue", h.campaignQueue)
	campaigns.Get("/:id/calls", h.campaignCalls)

	dnc := v1.Group("/dnc")
	dnc.Get("/", h.listDNC)
	dnc.Post("/", h.addDNC)
	dnc.Delete("/:phone", h.removeDNC)

	tenant := v1.Group("/tenant")
	tenant.Get("/settings", h.getTenantSettings)
	tenant.Put("/settings", h.putTenantSettings)
}

const tenantHeader = "X-Tenant-ID"

// requireTenant resolves the tenant from the request header. Auth proper is
// handled upstream; the engine only needs scoping.
func (h *HandlerSet) requireTenant(ctx *fiber.Ctx) error {
	raw := ctx.Get(tenantHeader)
	if raw == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing "+tenantHeader+" header")
	}
	tenantID, err := uuid.Parse(raw)
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, "malformed "+tenantHeader+" header")
	}
	ctx.Locals("tenantID", tenantID)
	return ctx.Next()
}

func tenantID(ctx *fiber.Ctx) uuid.UUID {
	id, _ := ctx.Locals("tenantID").(uuid.UUID)
	return id
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.container.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)

	if err := h.container.Postgres.DB().PingContext(healthCtx); err != nil {
		errs["postgres"] = err.Error()
	}
	if err := h.container.Redis.Inner().Ping(healthCtx).Err(); err != nil {
		errs["redis"] = err.Error()
	}
	if err := h.container.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(healthCtx).Exec(); err != nil {
		errs["scylla"] = err.Error()
	}

	status := fiber.StatusOK
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
	}
	return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
}
