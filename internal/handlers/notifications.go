package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/courier/pkg/email"
	"github.com/Ramsey-B/courier/pkg/models"
)

type NotificationHandler struct {
	history *email.History
}

func NewNotificationHandler(history *email.History) *NotificationHandler {
	return &NotificationHandler{history: history}
}

func (h *NotificationHandler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/stats", h.Stats)
	g.GET("/:id", h.Get)
	g.POST("/:id/retry", h.Retry)
}

// List returns the caller's notification history
// GET /api/v1/notifications?status=&template=&page=&limit=
func (h *NotificationHandler) List(c echo.Context) error {
	actor, err := GetActor(c)
	if err != nil {
		return err
	}

	filter := models.NotificationFilter{
		Template: c.QueryParam("template"),
		Page:     queryInt(c, "page"),
		Limit:    queryInt(c, "limit"),
	}
	if v := c.QueryParam("status"); v != "" {
		status := models.NotificationStatus(v)
		filter.Status = &status
	}

	page, err := h.history.List(c.Request().Context(), actor, filter)
	if err != nil {
		return err
	}
	return SuccessResponse(c, page)
}

// GET /api/v1/notifications/stats
func (h *NotificationHandler) Stats(c echo.Context) error {
	actor, err := GetActor(c)
	if err != nil {
		return err
	}
	stats, err := h.history.Stats(c.Request().Context(), actor)
	if err != nil {
		return err
	}
	return SuccessResponse(c, stats)
}

// GET /api/v1/notifications/:id
func (h *NotificationHandler) Get(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	n, err := h.history.Get(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, n)
}

// Retry requeues a failed notification
// POST /api/v1/notifications/:id/retry
func (h *NotificationHandler) Retry(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	n, err := h.history.Retry(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, n)
}
