package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/receptionist-dialer/internal/domain"
	"github.com/acme/receptionist-dialer/internal/voice"
)

// voiceWebhook ingests provider status callbacks. The payload is decoded
// once here; any failure to consume it lands the raw body in the
// failed-webhook ledger, so an event is never dropped. Only a ledger write
// failure surfaces as 5xx, prompting the provider to redeliver.
func (h *HandlerSet) voiceWebhook(ctx *fiber.Ctx) error {
	body := make([]byte, len(ctx.Body()))
	copy(body, ctx.Body())

	ev, err := voice.DecodeStatusEvent(body)
	if err != nil {
		return h.parkWebhook(ctx, body, err)
	}

	if err := h.container.Services().Reconciler.OnStatusEvent(ctx.Context(), ev); err != nil {
		return h.parkWebhook(ctx, body, err)
	}

	return ctx.SendStatus(http.StatusOK)
}

func (h *HandlerSet) parkWebhook(ctx *fiber.Ctx, body []byte, cause error) error {
	repos := h.container.Repositories()
	record := &domain.FailedWebhookRecord{
		Source:    "voice-provider",
		EventType: "call.status",
		Payload:   body,
		Error:     cause.Error(),
		CreatedAt: time.Now().UTC(),
	}
	id, err := repos.WebhookLedger.Store(ctx.Context(), record)
	if err != nil {
		h.container.Logger.Error("webhook ledger store failed",
			zap.Error(err),
			zap.NamedError("cause", cause))
		return fiber.NewError(http.StatusInternalServerError, "event not persisted")
	}

	h.container.Logger.Warn("webhook parked for retry",
		zap.String("record_id", id.String()),
		zap.NamedError("cause", cause))
	return ctx.SendStatus(http.StatusOK)
}
