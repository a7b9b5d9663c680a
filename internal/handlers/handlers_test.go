package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/courier/internal/handlers"
	adminsvc "github.com/Ramsey-B/courier/pkg/admin"
	"github.com/Ramsey-B/courier/pkg/email"
	"github.com/Ramsey-B/courier/pkg/fanout"
	"github.com/Ramsey-B/courier/pkg/lifecycle"
	"github.com/Ramsey-B/courier/pkg/middleware"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/pricing"
	"github.com/Ramsey-B/courier/pkg/realtime"
	"github.com/Ramsey-B/courier/pkg/redis"
	"github.com/Ramsey-B/courier/pkg/repositories"
	"github.com/Ramsey-B/courier/pkg/repositories/memory"
	"github.com/Ramsey-B/courier/pkg/resolution"
)

var nopLogger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

const (
	customerID = "6b8e5d8c-0a6b-4c43-9a9e-0a8a8c2c6a01"
	otherID    = "6b8e5d8c-0a6b-4c43-9a9e-0a8a8c2c6a02"
	agentID    = "6b8e5d8c-0a6b-4c43-9a9e-0a8a8c2c6a03"
	adminID    = "6b8e5d8c-0a6b-4c43-9a9e-0a8a8c2c6a04"
)

type caller struct {
	id   string
	role models.Role
}

var (
	customer = caller{customerID, models.RoleCustomer}
	other    = caller{otherID, models.RoleCustomer}
	agent    = caller{agentID, models.RoleAgent}
	admin    = caller{adminID, models.RoleAdmin}
)

type fakeDeadLetters struct {
	entries []redis.DLQEntry
}

func (f *fakeDeadLetters) List(_ context.Context, count int64) ([]redis.DLQEntry, error) {
	if count > 0 && int(count) < len(f.entries) {
		return f.entries[:count], nil
	}
	return f.entries, nil
}

func (f *fakeDeadLetters) Len(context.Context) (int64, error) {
	return int64(len(f.entries)), nil
}

type server struct {
	e        *echo.Echo
	store    *repositories.Store
	hub      *realtime.Hub
	recorder *fanout.Recorder
}

func newServer(t *testing.T) *server {
	t.Helper()
	store := memory.NewStore().Repositories()
	recorder := fanout.NewRecorder()
	hub := realtime.NewHub(nopLogger, 16)

	engine := lifecycle.NewEngine(store, recorder, nopLogger)
	workflow := resolution.NewWorkflow(store, recorder, nopLogger)
	prices := pricing.NewService(store.Transactor, store.PricingRules, nopLogger)

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(nopLogger)
	e.Use(middleware.Context())
	api := e.Group("/api/v1", middleware.HeaderAuthentication(nopLogger, store.Users))
	handlers.Handlers{
		Requests:      handlers.NewRequestHandler(engine, nopLogger),
		Resolutions:   handlers.NewResolutionHandler(workflow, nopLogger),
		Pricing:       handlers.NewPricingHandler(prices),
		Events:        handlers.NewEventHandler(hub, engine, nopLogger, time.Second),
		Users:         handlers.NewUserHandler(store.Users),
		Admin:         handlers.NewAdminHandler(adminsvc.NewService(store, hub, nopLogger)),
		Notifications: handlers.NewNotificationHandler(email.NewHistory(store.Notifications, nopLogger)),
		DeadLetters: handlers.NewDeadLetterHandler(&fakeDeadLetters{entries: []redis.DLQEntry{
			{ID: "1-0", Template: fanout.TemplateRequestClaimed, Reason: "smtp down", RetryCount: 3},
			{ID: "2-0", Template: fanout.TemplateRequestCreated, Reason: "smtp down", RetryCount: 3},
		}}),
	}.Register(api)

	return &server{e: e, store: store, hub: hub, recorder: recorder}
}

func (s *server) do(t *testing.T, who caller, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(middleware.HeaderUserID, who.id)
	req.Header.Set(middleware.HeaderUserRole, string(who.role))
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func requestBody() map[string]any {
	return map[string]any{
		"type":          "package",
		"source":        "amazon",
		"product_name":  "Desk lamp",
		"quantity":      1,
		"shipping_type": "national",
		"pickup_location": map[string]any{
			"address": "1 Main St", "city": "Austin", "country": "US",
		},
		"delivery_location": map[string]any{
			"address": "9 Elm St", "city": "Dallas", "country": "US",
		},
	}
}

func (s *server) createRequest(t *testing.T) models.Request {
	t.Helper()
	rec := s.do(t, customer, http.MethodPost, "/api/v1/requests", requestBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[models.Request](t, rec)
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	s := newServer(t)
	req := s.createRequest(t)
	assert.Equal(t, models.StatusPending, req.Status)
	base := "/api/v1/requests/" + req.ID.String()

	rec := s.do(t, agent, http.MethodPost, base+"/claim", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	claimed := decode[models.Request](t, rec)
	assert.Equal(t, models.StatusClaimed, claimed.Status)
	require.NotNil(t, claimed.ClaimedByAgentID)
	assert.Equal(t, agentID, claimed.ClaimedByAgentID.String())

	rec = s.do(t, agent, http.MethodPost, "/api/v1/resolutions", map[string]any{
		"request_id":              req.ID,
		"quote_breakdown":         map[string]any{"base_cost": 30, "weight_cost": 12.5, "distance_cost": 7.5, "type_multiplier": 1.2},
		"estimated_delivery_days": 4,
		"notes":                   "Ships Monday",
		"internal_notes":          "margin 20%",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	quote := decode[models.Resolution](t, rec)

	rec = s.do(t, customer, http.MethodGet, base+"/resolutions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[[]map[string]any](t, rec)
	require.Len(t, listed, 1)
	assert.NotContains(t, listed[0], "internal_notes")

	rec = s.do(t, customer, http.MethodPost, "/api/v1/resolutions/"+quote.ID.String()+"/accept", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.ResolutionAccepted, decode[models.Resolution](t, rec).Status)

	rec = s.do(t, customer, http.MethodPost, base+"/payment", map[string]any{"payment_method": "cash"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusVerification, decode[models.Request](t, rec).Status)

	rec = s.do(t, agent, http.MethodPost, base+"/payment/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusConfirmed, decode[models.Request](t, rec).Status)

	rec = s.do(t, agent, http.MethodPut, base+"/status", map[string]any{"status": "completed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decode[models.Request](t, rec)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Nil(t, done.ClaimedByAgentID)
	assert.NotNil(t, done.CompletedAt)
}

func TestErrorMapping(t *testing.T) {
	s := newServer(t)
	req := s.createRequest(t)
	base := "/api/v1/requests/" + req.ID.String()

	t.Run("invalid transition is 422 with from and to", func(t *testing.T) {
		rec := s.do(t, admin, http.MethodPut, base+"/status", map[string]any{"status": "completed"})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		body := decode[middleware.ErrorResponse](t, rec)
		assert.Equal(t, "pending", body.Meta["from"])
		assert.Equal(t, "completed", body.Meta["to"])
	})

	t.Run("customers cannot claim", func(t *testing.T) {
		rec := s.do(t, customer, http.MethodPost, base+"/claim", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("other customers do not see the request", func(t *testing.T) {
		rec := s.do(t, other, http.MethodGet, base, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("second claim conflicts", func(t *testing.T) {
		require.Equal(t, http.StatusOK, s.do(t, agent, http.MethodPost, base+"/claim", nil).Code)
		rec := s.do(t, caller{uuid.NewString(), models.RoleAgent}, http.MethodPost, base+"/claim", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("bad ids are 400", func(t *testing.T) {
		rec := s.do(t, agent, http.MethodGet, "/api/v1/requests/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("body validation is 400", func(t *testing.T) {
		body := requestBody()
		delete(body, "product_name")
		rec := s.do(t, customer, http.MethodPost, "/api/v1/requests", body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode[middleware.ErrorResponse](t, rec).Message, "ProductName")
	})
}

func TestListRequests(t *testing.T) {
	s := newServer(t)
	s.createRequest(t)
	s.createRequest(t)

	rec := s.do(t, customer, http.MethodGet, "/api/v1/requests?status=pending&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[models.RequestPage](t, rec)
	assert.Len(t, page.Data, 1)
	assert.Equal(t, 2, page.Meta.Total)

	rec = s.do(t, other, http.MethodGet, "/api/v1/requests", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[models.RequestPage](t, rec).Data)
}

func TestPricing(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, customer, http.MethodPost, "/api/v1/pricing/calculate", map[string]any{
		"weight": 2, "distance": 10, "shipping_type": "international", "request_type": "package", "quantity": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	quote := decode[models.QuoteBreakdown](t, rec)
	assert.InDelta(t, models.DefaultBaseRateInternational, quote.Total, 1e-9)

	rec = s.do(t, customer, http.MethodGet, "/api/v1/pricing/rules", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, admin, http.MethodPost, "/api/v1/pricing/rules", map[string]any{
		"base_rate_national": 12,
		"is_active":          true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, customer, http.MethodPost, "/api/v1/pricing/calculate", map[string]any{
		"shipping_type": "national", "request_type": "document",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.InDelta(t, 12.0, decode[models.QuoteBreakdown](t, rec).Total, 1e-9)
}

func TestEventSubscriptions(t *testing.T) {
	s := newServer(t)
	req := s.createRequest(t)
	path := "/api/v1/events/subscriptions/" + req.ID.String()

	sub := s.hub.Subscribe(models.Actor{UserID: uuid.MustParse(customerID), Role: models.RoleCustomer})
	defer s.hub.Unsubscribe(sub)

	rec := s.do(t, customer, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	joined := decode[handlers.SubscriptionResponse](t, rec)
	assert.Equal(t, fanout.RequestRoom(req.ID), joined.Room)
	assert.Equal(t, 1, joined.Joined)
	assert.Contains(t, s.hub.Rooms(sub), fanout.RequestRoom(req.ID))

	rec = s.do(t, other, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, customer, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, s.hub.Rooms(sub), fanout.RequestRoom(req.ID))
}

func TestDeadLetters(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, agent, http.MethodGet, "/api/v1/notifications/dead-letters", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, admin, http.MethodGet, "/api/v1/notifications/dead-letters?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[handlers.DeadLetterPage](t, rec)
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "1-0", page.Data[0].ID)
}

func TestAdminUsersAndStats(t *testing.T) {
	s := newServer(t)
	s.createRequest(t)
	require.Equal(t, http.StatusOK, s.do(t, agent, http.MethodGet, "/api/v1/requests", nil).Code)

	rec := s.do(t, customer, http.MethodGet, "/api/v1/admin/stats", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, admin, http.MethodGet, "/api/v1/admin/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decode[models.DashboardStats](t, rec)
	assert.Equal(t, 3, stats.Users.Total)
	assert.Equal(t, 1, stats.Requests.Total)
	assert.Equal(t, 1, stats.Requests.ByStatus[models.StatusPending])

	rec = s.do(t, admin, http.MethodGet, "/api/v1/admin/users?role=customer", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	users := decode[models.UserPage](t, rec)
	require.Len(t, users.Data, 1)
	assert.Equal(t, customerID, users.Data[0].ID.String())

	rec = s.do(t, admin, http.MethodGet, "/api/v1/admin/users?status=gone", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, admin, http.MethodPut, "/api/v1/admin/users/"+customerID+"/role", map[string]any{"role": "agent"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.RoleAgent, decode[models.User](t, rec).Role)

	// the role header still says customer, the assigned role wins
	rec = s.do(t, customer, http.MethodGet, "/api/v1/admin/users/"+customerID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(t, admin, http.MethodGet, "/api/v1/admin/users/"+customerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RoleAgent, decode[models.User](t, rec).Role)

	rec = s.do(t, admin, http.MethodPut, "/api/v1/admin/users/"+agentID+"/status", map[string]any{"status": "blocked"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.UserBlocked, decode[models.User](t, rec).Status)

	rec = s.do(t, agent, http.MethodGet, "/api/v1/requests", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, customer, http.MethodGet, "/api/v1/users/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[models.User](t, rec)
	assert.Equal(t, customerID, me.ID.String())
	assert.Equal(t, models.RoleAgent, me.Role)
	assert.Equal(t, models.UserActive, me.Status)

	rec = s.do(t, admin, http.MethodPut, "/api/v1/admin/users/"+adminID+"/status", map[string]any{"status": "inactive"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, admin, http.MethodPut, "/api/v1/admin/users/"+uuid.NewString()+"/role", map[string]any{"role": "agent"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotificationHistory(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	require.Equal(t, http.StatusOK, s.do(t, customer, http.MethodGet, "/api/v1/notifications", nil).Code)

	seed := func(status models.NotificationStatus) uuid.UUID {
		now := time.Now().UTC()
		n, err := s.store.Notifications.Create(ctx, &models.Notification{
			ID:        uuid.New(),
			UserID:    uuid.MustParse(customerID),
			Recipient: "customer@example.com",
			Template:  fanout.TemplateRequestClaimed,
			Subject:   "Claimed",
			Body:      "An agent picked up your request",
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		})
		require.NoError(t, err)
		return n.ID
	}
	sent := seed(models.NotificationSent)
	failed := seed(models.NotificationPending)
	require.NoError(t, s.store.Notifications.MarkFailed(ctx, failed, "smtp down", true, time.Now()))

	rec := s.do(t, customer, http.MethodGet, "/api/v1/notifications?status=failed", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[models.NotificationPage](t, rec)
	require.Len(t, page.Data, 1)
	assert.Equal(t, failed, page.Data[0].ID)

	rec = s.do(t, customer, http.MethodGet, "/api/v1/notifications/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.NotificationStats{Total: 2, Sent: 1, Failed: 1}, decode[models.NotificationStats](t, rec))

	rec = s.do(t, other, http.MethodGet, "/api/v1/notifications/"+failed.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, customer, http.MethodPost, "/api/v1/notifications/"+sent.String()+"/retry", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, customer, http.MethodPost, "/api/v1/notifications/"+failed.String()+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	retried := decode[models.Notification](t, rec)
	assert.Equal(t, models.NotificationPending, retried.Status)
	assert.Zero(t, retried.RetryCount)

	rec = s.do(t, admin, http.MethodGet, "/api/v1/notifications/dead-letters", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
