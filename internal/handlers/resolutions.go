package handlers

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/resolution"
	"github.com/Ramsey-B/courier/pkg/tracing"
	"github.com/Ramsey-B/courier/pkg/utils"
)

type ResolutionHandler struct {
	workflow *resolution.Workflow
	logger   ectologger.Logger
}

func NewResolutionHandler(workflow *resolution.Workflow, logger ectologger.Logger) *ResolutionHandler {
	return &ResolutionHandler{workflow: workflow, logger: logger}
}

func (h *ResolutionHandler) Register(resolutions, requests *echo.Group) {
	resolutions.POST("", h.Create)
	resolutions.GET("/:id", h.Get)
	resolutions.PUT("/:id", h.Update)
	resolutions.POST("/:id/accept", h.Accept)
	resolutions.POST("/:id/reject", h.Reject)
	requests.GET("/:id/resolutions", h.ListForRequest)
}

type QuoteBody struct {
	BaseCost       float64 `json:"base_cost" validate:"gte=0"`
	WeightCost     float64 `json:"weight_cost" validate:"gte=0"`
	DistanceCost   float64 `json:"distance_cost" validate:"gte=0"`
	TypeMultiplier float64 `json:"type_multiplier" validate:"gte=0"`
	Total          float64 `json:"total" validate:"gte=0"`
}

func (b QuoteBody) toModel() models.QuoteBreakdown {
	return models.QuoteBreakdown{
		BaseCost:       b.BaseCost,
		WeightCost:     b.WeightCost,
		DistanceCost:   b.DistanceCost,
		TypeMultiplier: b.TypeMultiplier,
		Total:          b.Total,
	}
}

type CreateResolutionBody struct {
	RequestID             uuid.UUID `json:"request_id" validate:"required"`
	QuoteBreakdown        QuoteBody `json:"quote_breakdown"`
	EstimatedDeliveryDays int       `json:"estimated_delivery_days" validate:"required,gte=1"`
	Notes                 *string   `json:"notes"`
	InternalNotes         *string   `json:"internal_notes"`
}

type UpdateResolutionBody struct {
	QuoteBreakdown        *QuoteBody `json:"quote_breakdown"`
	EstimatedDeliveryDays *int       `json:"estimated_delivery_days" validate:"omitempty,gte=1"`
	Notes                 *string    `json:"notes"`
	InternalNotes         *string    `json:"internal_notes"`
}

type ResponseBody struct {
	Notes *string `json:"notes" validate:"omitempty,max=2000"`
}

// Create submits a quote for a claimed request
// POST /api/v1/resolutions
func (h *ResolutionHandler) Create(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ResolutionHandler.Create")
	defer span.End()

	actor, err := GetActor(c)
	if err != nil {
		return err
	}
	body, err := utils.BindRequest[CreateResolutionBody](c)
	if err != nil {
		return err
	}

	res, err := h.workflow.Create(ctx, actor, resolution.CreateInput{
		RequestID:             body.RequestID,
		Quote:                 body.QuoteBreakdown.toModel(),
		EstimatedDeliveryDays: body.EstimatedDeliveryDays,
		Notes:                 body.Notes,
		InternalNotes:         body.InternalNotes,
	})
	if err != nil {
		return err
	}
	return CreatedResponse(c, res)
}

// Get returns a resolution
// GET /api/v1/resolutions/:id
func (h *ResolutionHandler) Get(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	res, err := h.workflow.Get(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, res)
}

// ListForRequest returns a request's resolutions, newest first
// GET /api/v1/requests/:id/resolutions
func (h *ResolutionHandler) ListForRequest(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	items, err := h.workflow.ListForRequest(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, items)
}

// Update revises a pending quote
// PUT /api/v1/resolutions/:id
func (h *ResolutionHandler) Update(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	body, err := utils.BindRequest[UpdateResolutionBody](c)
	if err != nil {
		return err
	}

	patch := models.ResolutionPatch{
		EstimatedDeliveryDays: body.EstimatedDeliveryDays,
		Notes:                 body.Notes,
		InternalNotes:         body.InternalNotes,
	}
	if body.QuoteBreakdown != nil {
		quote := body.QuoteBreakdown.toModel()
		patch.QuoteBreakdown = &quote
	}

	res, err := h.workflow.Update(c.Request().Context(), actor, id, patch)
	if err != nil {
		return err
	}
	return SuccessResponse(c, res)
}

// Accept accepts a quote
// POST /api/v1/resolutions/:id/accept
func (h *ResolutionHandler) Accept(c echo.Context) error {
	return h.respond(c, h.workflow.Accept)
}

// Reject rejects a quote
// POST /api/v1/resolutions/:id/reject
func (h *ResolutionHandler) Reject(c echo.Context) error {
	return h.respond(c, h.workflow.Reject)
}

type responder func(ctx context.Context, customer models.Actor, id uuid.UUID, notes *string) (*models.Resolution, error)

func (h *ResolutionHandler) respond(c echo.Context, fn responder) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	body, err := utils.BindRequest[ResponseBody](c)
	if err != nil {
		return err
	}
	res, err := fn(c.Request().Context(), actor, id, body.Notes)
	if err != nil {
		return err
	}
	return SuccessResponse(c, res)
}
