package health_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/courier/pkg/health"
)

func get(t *testing.T, e *echo.Echo, path string) (int, health.Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body health.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestChecker(t *testing.T) {
	var redisErr error
	checker := health.NewChecker("1.2.3")
	checker.AddCheck("store", func(context.Context) error { return nil })
	checker.AddOptionalCheck("redis", func(context.Context) error { return redisErr })

	e := echo.New()
	checker.RegisterRoutes(e)

	code, body := get(t, e, "/api/v1/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1.2.3", body.Version)

	code, body = get(t, e, "/api/v1/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, health.StatusUnhealthy, body.Checks["startup"].Status)

	checker.SetReady(true)
	code, body = get(t, e, "/api/v1/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, health.StatusHealthy, body.Status)

	redisErr = errors.New("dial tcp: refused")
	code, body = get(t, e, "/api/v1/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, health.StatusDegraded, body.Status)
	assert.Equal(t, "dial tcp: refused", body.Checks["redis"].Message)

	checker.AddCheck("store", func(context.Context) error { return errors.New("down") })
	code, body = get(t, e, "/api/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, health.StatusUnhealthy, body.Status)
}
