package handlers

import (
	"context"

	"github.com/labstack/echo/v4"

	apperrors "github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/redis"
)

// DeadLetterReader is the read side of the notification dead letter stream.
type DeadLetterReader interface {
	List(ctx context.Context, count int64) ([]redis.DLQEntry, error)
	Len(ctx context.Context) (int64, error)
}

type DeadLetterHandler struct {
	queue DeadLetterReader
}

func NewDeadLetterHandler(queue DeadLetterReader) *DeadLetterHandler {
	return &DeadLetterHandler{queue: queue}
}

func (h *DeadLetterHandler) Register(g *echo.Group) {
	g.GET("", h.List)
}

type DeadLetterPage struct {
	Total int64            `json:"total"`
	Data  []redis.DLQEntry `json:"data"`
}

// List returns the newest exhausted notifications
// GET /api/v1/notifications/dead-letters?limit=
func (h *DeadLetterHandler) List(c echo.Context) error {
	actor, err := GetActor(c)
	if err != nil {
		return err
	}
	if actor.Role != models.RoleAdmin {
		return apperrors.Forbidden("only admins can read dead letters")
	}

	ctx := c.Request().Context()
	total, err := h.queue.Len(ctx)
	if err != nil {
		return err
	}
	entries, err := h.queue.List(ctx, int64(queryInt(c, "limit")))
	if err != nil {
		return err
	}
	return SuccessResponse(c, DeadLetterPage{Total: total, Data: entries})
}
