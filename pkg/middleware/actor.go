package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/courier/pkg/context"
	"github.com/Ramsey-B/courier/pkg/models"
)

// ActorFromContext returns the actor an authentication middleware resolved.
func ActorFromContext(ctx context.Context) (models.Actor, error) {
	id, err := uuid.Parse(appctx.GetUserID(ctx))
	if err != nil {
		return models.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	role := models.Role(appctx.GetUserRole(ctx))
	if !role.IsValid() {
		return models.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return models.Actor{UserID: id, Role: role}, nil
}
