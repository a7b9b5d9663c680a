package handlers

import (
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/courier/pkg/lifecycle"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/tracing"
	"github.com/Ramsey-B/courier/pkg/utils"
)

// RequestHandler exposes the delivery request lifecycle.
type RequestHandler struct {
	engine *lifecycle.Engine
	logger ectologger.Logger
}

func NewRequestHandler(engine *lifecycle.Engine, logger ectologger.Logger) *RequestHandler {
	return &RequestHandler{engine: engine, logger: logger}
}

func (h *RequestHandler) Register(g *echo.Group) {
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/claim", h.Claim)
	g.POST("/:id/unclaim", h.Unclaim)
	g.PUT("/:id/status", h.UpdateStatus)
	g.POST("/:id/payment", h.SubmitPayment)
	g.POST("/:id/payment/confirm", h.ConfirmPayment)
}

type LocationBody struct {
	Address   string   `json:"address" validate:"required"`
	City      string   `json:"city" validate:"required"`
	State     string   `json:"state"`
	Country   string   `json:"country" validate:"required"`
	ZipCode   string   `json:"zip_code"`
	Latitude  *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude *float64 `json:"longitude" validate:"omitempty,longitude"`
}

func (b LocationBody) toModel() models.Location {
	return models.Location{
		Address:   b.Address,
		City:      b.City,
		State:     b.State,
		Country:   b.Country,
		ZipCode:   b.ZipCode,
		Latitude:  b.Latitude,
		Longitude: b.Longitude,
	}
}

type RequestBody struct {
	CustomerID             *uuid.UUID           `json:"customer_id"`
	Type                   models.RequestType   `json:"type" validate:"required"`
	Source                 models.Source        `json:"source"`
	ProductName            string               `json:"product_name" validate:"required,max=255"`
	ProductDescription     *string              `json:"product_description"`
	ProductURL             *string              `json:"product_url" validate:"omitempty,url"`
	ProductImages          []string             `json:"product_images" validate:"omitempty,dive,url"`
	Weight                 *float64             `json:"weight" validate:"omitempty,gte=0"`
	Quantity               int                  `json:"quantity" validate:"gte=0"`
	ShippingType           models.ShippingType  `json:"shipping_type" validate:"required"`
	PickupLocation         LocationBody         `json:"pickup_location"`
	DeliveryLocation       LocationBody         `json:"delivery_location"`
	PreferredContactMethod models.ContactMethod `json:"preferred_contact_method"`
	CustomerPhone          *string              `json:"customer_phone"`
	Notes                  *string              `json:"notes"`
}

func (b RequestBody) details() models.RequestDetails {
	return models.RequestDetails{
		Type:                   b.Type,
		Source:                 b.Source,
		ProductName:            b.ProductName,
		ProductDescription:     b.ProductDescription,
		ProductURL:             b.ProductURL,
		ProductImages:          b.ProductImages,
		Weight:                 b.Weight,
		Quantity:               b.Quantity,
		ShippingType:           b.ShippingType,
		PickupLocation:         b.PickupLocation.toModel(),
		DeliveryLocation:       b.DeliveryLocation.toModel(),
		PreferredContactMethod: b.PreferredContactMethod,
		CustomerPhone:          b.CustomerPhone,
		Notes:                  b.Notes,
	}
}

type StatusBody struct {
	Status models.RequestStatus `json:"status" validate:"required"`
	Reason *string              `json:"reason" validate:"omitempty,max=1000"`
}

type PaymentBody struct {
	Method models.PaymentMethod `json:"payment_method" validate:"required"`
	Proof  *string              `json:"payment_proof"`
}

// Create creates a request
// POST /api/v1/requests
func (h *RequestHandler) Create(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RequestHandler.Create")
	defer span.End()

	actor, err := GetActor(c)
	if err != nil {
		return err
	}
	body, err := utils.BindRequest[RequestBody](c)
	if err != nil {
		return err
	}

	req, err := h.engine.Create(ctx, actor, lifecycle.CreateInput{CustomerID: body.CustomerID, Details: body.details()})
	if err != nil {
		return err
	}
	return CreatedResponse(c, req)
}

// List returns the requests visible to the caller
// GET /api/v1/requests?status=&type=&shipping_type=&page=&limit=
func (h *RequestHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RequestHandler.List")
	defer span.End()

	actor, err := GetActor(c)
	if err != nil {
		return err
	}

	filter := models.RequestFilter{
		Page:  queryInt(c, "page"),
		Limit: queryInt(c, "limit"),
	}
	if v := c.QueryParam("status"); v != "" {
		status := models.RequestStatus(v)
		filter.Status = &status
	}
	if v := c.QueryParam("type"); v != "" {
		requestType := models.RequestType(v)
		filter.Type = &requestType
	}
	if v := c.QueryParam("shipping_type"); v != "" {
		shippingType := models.ShippingType(v)
		filter.ShippingType = &shippingType
	}

	page, err := h.engine.List(ctx, actor, filter)
	if err != nil {
		return err
	}
	return SuccessResponse(c, page)
}

// Get returns one request
// GET /api/v1/requests/:id
func (h *RequestHandler) Get(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	req, err := h.engine.Get(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, req)
}

// Update edits a pending request
// PUT /api/v1/requests/:id
func (h *RequestHandler) Update(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	body, err := utils.BindRequest[RequestBody](c)
	if err != nil {
		return err
	}
	req, err := h.engine.Update(c.Request().Context(), actor, id, body.details())
	if err != nil {
		return err
	}
	return SuccessResponse(c, req)
}

// Delete soft deletes a pending request
// DELETE /api/v1/requests/:id
func (h *RequestHandler) Delete(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	if err := h.engine.Delete(c.Request().Context(), actor, id); err != nil {
		return err
	}
	return NoContentResponse(c)
}

// Claim assigns the request to the calling agent
// POST /api/v1/requests/:id/claim
func (h *RequestHandler) Claim(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	req, err := h.engine.Claim(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, req)
}

// Unclaim releases the request back to the pool
// POST /api/v1/requests/:id/unclaim
func (h *RequestHandler) Unclaim(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	req, err := h.engine.Unclaim(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, req)
}

// UpdateStatus moves the request to another status
// PUT /api/v1/requests/:id/status
func (h *RequestHandler) UpdateStatus(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	body, err := utils.BindRequest[StatusBody](c)
	if err != nil {
		return err
	}
	req, err := h.engine.UpdateStatus(c.Request().Context(), actor, id, body.Status, body.Reason)
	if err != nil {
		return err
	}
	return SuccessResponse(c, req)
}

// SubmitPayment records the customer's payment
// POST /api/v1/requests/:id/payment
func (h *RequestHandler) SubmitPayment(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	body, err := utils.BindRequest[PaymentBody](c)
	if err != nil {
		return err
	}
	req, err := h.engine.SubmitPayment(c.Request().Context(), actor, id, lifecycle.PaymentInput{Method: body.Method, Proof: body.Proof})
	if err != nil {
		return err
	}
	return SuccessResponse(c, req)
}

// ConfirmPayment acknowledges the payment
// POST /api/v1/requests/:id/payment/confirm
func (h *RequestHandler) ConfirmPayment(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	req, err := h.engine.ConfirmPayment(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, req)
}
