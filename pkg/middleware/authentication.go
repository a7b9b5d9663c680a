package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	appctx "github.com/Ramsey-B/courier/pkg/context"
	apperrors "github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/tracing"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRole  = "X-User-Role"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
)

type UserClaims struct {
	Sub               string `json:"sub"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// Role picks the most privileged courier role granted by the realm.
// Tokens without one are customers.
func (c UserClaims) Role() models.Role {
	for _, role := range []models.Role{models.RoleAdmin, models.RoleAgent, models.RoleCustomer} {
		if ectolinq.Contains(c.RealmAccess.Roles, string(role)) {
			return role
		}
	}
	return models.RoleCustomer
}

// UserStore records every authenticated caller.
type UserStore interface {
	Upsert(ctx context.Context, user *models.User) (*models.User, error)
}

// NewOIDCVerifier discovers the issuer and returns a verifier for clientID.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*oidc.IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to discover oidc provider")
	}
	return provider.Verifier(&oidc.Config{ClientID: clientID}), nil
}

// Authentication resolves the actor from an OIDC bearer token.
func Authentication(logger ectologger.Logger, users UserStore, verifier *oidc.IDTokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, span := tracing.StartSpan(c.Request().Context(), "middleware.Authentication")
			defer span.End()

			raw := bearerToken(c)
			if raw == "" {
				logger.WithContext(ctx).Warn("request is missing bearer token")
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer")
			}

			verifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			idToken, err := verifier.Verify(verifyCtx, raw)
			if err != nil {
				logger.WithContext(ctx).WithError(err).Warn("token is invalid")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			var claims UserClaims
			if err := idToken.Claims(&claims); err != nil {
				logger.WithContext(ctx).WithError(err).Warn("failed to parse claims")
				return echo.NewHTTPError(http.StatusUnauthorized, "cannot parse claims")
			}

			name := claims.Name
			if name == "" {
				name = claims.PreferredUsername
			}
			user := &models.User{
				ID:    models.UserIDFromSubject(claims.Sub),
				Email: claims.Email,
				Name:  name,
				Role:  claims.Role(),
			}
			return resolve(ctx, c, logger, users, user, next)
		}
	}
}

// HeaderAuthentication trusts identity headers. It is meant for local
// development and tests behind a trusted proxy.
func HeaderAuthentication(logger ectologger.Logger, users UserStore) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			header := c.Request().Header

			subject := strings.TrimSpace(header.Get(HeaderUserID))
			if subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing "+HeaderUserID)
			}
			role := models.Role(strings.ToLower(strings.TrimSpace(header.Get(HeaderUserRole))))
			if role == "" {
				role = models.RoleCustomer
			}
			if !role.IsValid() {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid "+HeaderUserRole)
			}

			user := &models.User{
				ID:    models.UserIDFromSubject(subject),
				Email: header.Get(HeaderUserEmail),
				Name:  header.Get(HeaderUserName),
				Role:  role,
			}
			return resolve(ctx, c, logger, users, user, next)
		}
	}
}

func resolve(ctx context.Context, c echo.Context, logger ectologger.Logger, users UserStore, user *models.User, next echo.HandlerFunc) error {
	saved, err := users.Upsert(ctx, user)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Error("failed to record user")
		return err
	}
	if !saved.IsActive() {
		logger.WithContext(ctx).WithField("user_id", saved.ID).Warnf("rejected %s account", saved.Status)
		return apperrors.Forbidden("account is %s", saved.Status)
	}

	ctx = appctx.SetUserID(ctx, saved.ID.String())
	ctx = appctx.SetUserRole(ctx, saved.Role.String())
	c.SetRequest(c.Request().WithContext(ctx))

	return next(c)
}

func bearerToken(c echo.Context) string {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}
