package handlers

import (
	"context"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/courier/pkg/models"
)

type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type UserHandler struct {
	users UserReader
}

func NewUserHandler(users UserReader) *UserHandler {
	return &UserHandler{users: users}
}

func (h *UserHandler) Register(g *echo.Group) {
	g.GET("/me", h.Me)
}

// Me returns the caller's stored profile
// GET /api/v1/users/me
func (h *UserHandler) Me(c echo.Context) error {
	actor, err := GetActor(c)
	if err != nil {
		return err
	}
	user, err := h.users.GetByID(c.Request().Context(), actor.UserID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, user)
}
