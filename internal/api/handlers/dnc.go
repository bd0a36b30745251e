package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/receptionist-dialer/internal/domain"
)

type addDNCRequest struct {
	Phone  string `json:"phone"`
	Reason string `json:"reason"`
}

type dncEntryResponse struct {
	Phone     string           `json:"phone"`
	Reason    domain.DNCReason `json:"reason"`
	AddedBy   string           `json:"added_by,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

type listDNCResponse struct {
	Entries []dncEntryResponse `json:"entries"`
	Total   int64              `json:"total"`
	Offset  int                `json:"offset"`
	Limit   int                `json:"limit"`
}

func (h *HandlerSet) addDNC(ctx *fiber.Ctx) error {
	var req addDNCRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	entry, err := h.gate.Add(ctx.Context(), tenantID(ctx), req.Phone, domain.DNCReason(req.Reason), "operator")
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(dncEntryResponse{
		Phone:     entry.Phone,
		Reason:    entry.Reason,
		AddedBy:   entry.AddedBy,
		CreatedAt: entry.CreatedAt,
	})
}

func (h *HandlerSet) removeDNC(ctx *fiber.Ctx) error {
	phone := ctx.Params("phone")
	if err := h.gate.Remove(ctx.Context(), tenantID(ctx), phone); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) listDNC(ctx *fiber.Ctx) error {
	offset := ctx.QueryInt("offset")
	limit := ctx.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	entries, total, err := h.gate.List(ctx.Context(), tenantID(ctx), ctx.Query("search"), offset, limit)
	if err != nil {
		return translateError(err)
	}

	resp := listDNCResponse{
		Entries: make([]dncEntryResponse, 0, len(entries)),
		Total:   total,
		Offset:  offset,
		Limit:   limit,
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, dncEntryResponse{
			Phone:     e.Phone,
			Reason:    e.Reason,
			AddedBy:   e.AddedBy,
			CreatedAt: e.CreatedAt,
		})
	}
	return ctx.JSON(resp)
}
