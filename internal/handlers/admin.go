package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/courier/pkg/admin"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/tracing"
	"github.com/Ramsey-B/courier/pkg/utils"
)

type AdminHandler struct {
	service *admin.Service
}

func NewAdminHandler(service *admin.Service) *AdminHandler {
	return &AdminHandler{service: service}
}

func (h *AdminHandler) Register(g *echo.Group) {
	g.GET("/stats", h.Stats)
	g.GET("/users", h.ListUsers)
	g.GET("/users/:id", h.GetUser)
	g.PUT("/users/:id/role", h.UpdateRole)
	g.PUT("/users/:id/status", h.UpdateStatus)
}

type UpdateRoleRequest struct {
	Role models.Role `json:"role" validate:"required"`
}

type UpdateStatusRequest struct {
	Status models.UserStatus `json:"status" validate:"required"`
}

// Stats returns the dashboard totals
// GET /api/v1/admin/stats
func (h *AdminHandler) Stats(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "AdminHandler.Stats")
	defer span.End()

	actor, err := GetActor(c)
	if err != nil {
		return err
	}
	stats, err := h.service.Dashboard(ctx, actor)
	if err != nil {
		return err
	}
	return SuccessResponse(c, stats)
}

// GET /api/v1/admin/users?role=&status=&page=&limit=
func (h *AdminHandler) ListUsers(c echo.Context) error {
	actor, err := GetActor(c)
	if err != nil {
		return err
	}

	filter := models.UserFilter{
		Page:  queryInt(c, "page"),
		Limit: queryInt(c, "limit"),
	}
	if v := c.QueryParam("role"); v != "" {
		role := models.Role(v)
		filter.Role = &role
	}
	if v := c.QueryParam("status"); v != "" {
		status := models.UserStatus(v)
		filter.Status = &status
	}

	page, err := h.service.ListUsers(c.Request().Context(), actor, filter)
	if err != nil {
		return err
	}
	return SuccessResponse(c, page)
}

// GET /api/v1/admin/users/:id
func (h *AdminHandler) GetUser(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	user, err := h.service.GetUser(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, user)
}

// PUT /api/v1/admin/users/:id/role
func (h *AdminHandler) UpdateRole(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	body, err := utils.BindRequest[UpdateRoleRequest](c)
	if err != nil {
		return err
	}
	user, err := h.service.UpdateUserRole(c.Request().Context(), actor, id, body.Role)
	if err != nil {
		return err
	}
	return SuccessResponse(c, user)
}

// PUT /api/v1/admin/users/:id/status
func (h *AdminHandler) UpdateStatus(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	body, err := utils.BindRequest[UpdateStatusRequest](c)
	if err != nil {
		return err
	}
	user, err := h.service.UpdateUserStatus(c.Request().Context(), actor, id, body.Status)
	if err != nil {
		return err
	}
	return SuccessResponse(c, user)
}
