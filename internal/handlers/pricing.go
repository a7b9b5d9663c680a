package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/courier/pkg/pricing"
	"github.com/Ramsey-B/courier/pkg/tracing"
	"github.com/Ramsey-B/courier/pkg/utils"
)

type PricingHandler struct {
	service *pricing.Service
}

func NewPricingHandler(service *pricing.Service) *PricingHandler {
	return &PricingHandler{service: service}
}

func (h *PricingHandler) Register(g *echo.Group) {
	g.POST("/calculate", h.Calculate)
	g.GET("/rules", h.ListRules)
	g.POST("/rules", h.CreateRule)
	g.PUT("/rules/:id", h.UpdateRule)
	g.POST("/rules/:id/activate", h.ActivateRule)
	g.DELETE("/rules/:id", h.DeleteRule)
}

// Calculate quotes a delivery against the active rule
// POST /api/v1/pricing/calculate
func (h *PricingHandler) Calculate(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "PricingHandler.Calculate")
	defer span.End()

	if _, err := GetActor(c); err != nil {
		return err
	}
	body, err := utils.BindRequest[pricing.Input](c)
	if err != nil {
		return err
	}
	quote, err := h.service.Quote(ctx, body)
	if err != nil {
		return err
	}
	return SuccessResponse(c, quote)
}

// GET /api/v1/pricing/rules
func (h *PricingHandler) ListRules(c echo.Context) error {
	actor, err := GetActor(c)
	if err != nil {
		return err
	}
	rules, err := h.service.ListRules(c.Request().Context(), actor)
	if err != nil {
		return err
	}
	return SuccessResponse(c, rules)
}

// POST /api/v1/pricing/rules
func (h *PricingHandler) CreateRule(c echo.Context) error {
	actor, err := GetActor(c)
	if err != nil {
		return err
	}
	body, err := utils.BindRequest[pricing.RuleInput](c)
	if err != nil {
		return err
	}
	rule, err := h.service.CreateRule(c.Request().Context(), actor, body)
	if err != nil {
		return err
	}
	return CreatedResponse(c, rule)
}

// PUT /api/v1/pricing/rules/:id
func (h *PricingHandler) UpdateRule(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	body, err := utils.BindRequest[pricing.RuleInput](c)
	if err != nil {
		return err
	}
	rule, err := h.service.UpdateRule(c.Request().Context(), actor, id, body)
	if err != nil {
		return err
	}
	return SuccessResponse(c, rule)
}

// ActivateRule makes the rule the one used for quotes
// POST /api/v1/pricing/rules/:id/activate
func (h *PricingHandler) ActivateRule(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	rule, err := h.service.ActivateRule(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, rule)
}

// DELETE /api/v1/pricing/rules/:id
func (h *PricingHandler) DeleteRule(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	if err := h.service.DeleteRule(c.Request().Context(), actor, id); err != nil {
		return err
	}
	return NoContentResponse(c)
}
