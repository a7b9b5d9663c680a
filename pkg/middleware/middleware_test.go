package middleware_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "github.com/Ramsey-B/courier/pkg/context"
	apperrors "github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/middleware"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/repositories/memory"
)

var nopLogger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

func newServer(handler echo.HandlerFunc) *echo.Echo {
	return newServerWithUsers(handler, memory.NewStore().Repositories().Users)
}

func newServerWithUsers(handler echo.HandlerFunc, users middleware.UserStore) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(nopLogger)
	e.Use(middleware.Context())
	e.GET("/whoami", handler, middleware.HeaderAuthentication(nopLogger, users))
	e.GET("/fail", handler)
	return e
}

func serve(e *echo.Echo, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHeaderAuthentication(t *testing.T) {
	e := newServer(func(c echo.Context) error {
		actor, err := middleware.ActorFromContext(c.Request().Context())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, actor)
	})

	t.Run("resolves the actor", func(t *testing.T) {
		rec := serve(e, "/whoami", map[string]string{
			middleware.HeaderUserID:   "6b8e5d8c-0a6b-4c43-9a9e-0a8a8c2c6a01",
			middleware.HeaderUserRole: "Agent",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var actor models.Actor
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &actor))
		assert.Equal(t, "6b8e5d8c-0a6b-4c43-9a9e-0a8a8c2c6a01", actor.UserID.String())
		assert.Equal(t, models.RoleAgent, actor.Role)
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("non uuid subjects map to stable ids", func(t *testing.T) {
		rec := serve(e, "/whoami", map[string]string{middleware.HeaderUserID: "auth0|carla"})
		require.Equal(t, http.StatusOK, rec.Code)

		var actor models.Actor
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &actor))
		assert.Equal(t, models.UserIDFromSubject("auth0|carla"), actor.UserID)
		assert.Equal(t, models.RoleCustomer, actor.Role)
	})

	t.Run("missing identity", func(t *testing.T) {
		rec := serve(e, "/whoami", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown role", func(t *testing.T) {
		rec := serve(e, "/whoami", map[string]string{middleware.HeaderUserID: "x", middleware.HeaderUserRole: "root"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unauthenticated context", func(t *testing.T) {
		_, err := middleware.ActorFromContext(appctx.SetUserID(context.Background(), "not-a-uuid"))
		assert.Error(t, err)
	})
}

func TestHeaderAuthenticationRejectsInactiveAccounts(t *testing.T) {
	ctx := context.Background()
	users := memory.NewStore().Repositories().Users
	e := newServerWithUsers(func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, users)

	const subject = "0d7c7d44-52f4-4d0a-b3a4-3fbb8e1f6a55"
	headers := map[string]string{middleware.HeaderUserID: subject}

	rec := serve(e, "/whoami", headers)
	require.Equal(t, http.StatusNoContent, rec.Code)

	for _, status := range []models.UserStatus{models.UserBlocked, models.UserInactive} {
		_, err := users.SetStatus(ctx, models.UserIDFromSubject(subject), status, time.Now())
		require.NoError(t, err)

		rec = serve(e, "/whoami", headers)
		assert.Equal(t, http.StatusForbidden, rec.Code, status.String())
	}

	_, err := users.SetStatus(ctx, models.UserIDFromSubject(subject), models.UserActive, time.Now())
	require.NoError(t, err)
	rec = serve(e, "/whoami", headers)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestClaimsRole(t *testing.T) {
	var claims middleware.UserClaims
	assert.Equal(t, models.RoleCustomer, claims.Role())

	claims.RealmAccess.Roles = []string{"offline_access", "agent"}
	assert.Equal(t, models.RoleAgent, claims.Role())

	claims.RealmAccess.Roles = append(claims.RealmAccess.Roles, "admin")
	assert.Equal(t, models.RoleAdmin, claims.Role())
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"not found", apperrors.NotFound("request x not found"), http.StatusNotFound, "request x not found"},
		{"wrapped conflict", errors.Wrap(apperrors.Conflict("taken"), "claim"), http.StatusConflict, "taken"},
		{"invalid transition", apperrors.InvalidTransition("request", models.StatusPending, models.StatusPayment), http.StatusUnprocessableEntity, "cannot transition request from pending to payment"},
		{"echo error", echo.NewHTTPError(http.StatusUnauthorized, "missing bearer"), http.StatusUnauthorized, "missing bearer"},
		{"infrastructure", errors.New("connection reset"), http.StatusInternalServerError, "Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newServer(func(echo.Context) error { return tt.err })
			rec := serve(e, "/fail", nil)
			assert.Equal(t, tt.code, rec.Code)

			var body middleware.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body.Message, tt.message)
			assert.NotEmpty(t, body.RequestID)
		})
	}

	t.Run("invalid transition meta", func(t *testing.T) {
		e := newServer(func(echo.Context) error {
			return apperrors.InvalidTransition("request", models.StatusPending, models.StatusPayment)
		})
		rec := serve(e, "/fail", nil)

		var body middleware.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "pending", body.Meta["from"])
		assert.Equal(t, "payment", body.Meta["to"])
		assert.Equal(t, "invalid_transition", body.Meta["kind"])
	})

	t.Run("rate limited sets retry after", func(t *testing.T) {
		e := newServer(func(echo.Context) error {
			return apperrors.TooManyRequests("slow down").WithMeta("retry_after_seconds", 3)
		})
		rec := serve(e, "/fail", nil)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "3", rec.Header().Get("Retry-After"))
	})
}
