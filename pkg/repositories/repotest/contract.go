// Package repotest holds the behaviour every repositories.Store backend must
// share. Backends run it from their own tests.
package repotest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/courier/pkg/database"
	apperrors "github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/repositories"
)

// NewStoreFunc returns an empty store.
type NewStoreFunc func(t *testing.T) *repositories.Store

// Run executes the contract against stores built by newStore. Every case
// gets a fresh store.
func Run(t *testing.T, newStore NewStoreFunc) {
	cases := []struct {
		name string
		fn   func(t *testing.T, store *repositories.Store)
	}{
		{"concurrent claims have one winner", concurrentClaimHasOneWinner},
		{"conditional miss on deleted is not found", conditionalMissOnDeletedIsNotFound},
		{"transition checks version", transitionChecksVersion},
		{"transition clears claim", transitionClearsClaim},
		{"unclaim requires the holder", unclaimRequiresHolder},
		{"list visibility and paging", listVisibilityAndPaging},
		{"in tx rolls back on error", inTxRollsBackOnError},
		{"one pending resolution per request", onePendingResolutionPerRequest},
		{"single active pricing rule", singleActivePricingRule},
		{"user upsert keeps profile", userUpsertKeepsProfile},
		{"notification outbox", notificationOutbox},
		{"admin assigned role survives upsert", adminAssignedRoleSurvivesUpsert},
		{"user list filters and counts", userListFiltersAndCounts},
		{"request and resolution counts", requestAndResolutionCounts},
		{"notification history and retry", notificationHistoryAndRetry},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

func user(t *testing.T, store *repositories.Store, role models.Role) uuid.UUID {
	t.Helper()
	u, err := store.Users.Upsert(context.Background(), &models.User{
		ID:    uuid.New(),
		Email: string(role) + "@example.com",
		Name:  string(role),
		Role:  role,
	})
	require.NoError(t, err)
	return u.ID
}

// NewRequest builds a pending request row for customerID.
func NewRequest(customerID uuid.UUID, createdAt time.Time) *models.Request {
	return &models.Request{
		ID:                     uuid.New(),
		CustomerID:             customerID,
		Type:                   models.RequestTypePackage,
		Source:                 models.SourceOther,
		ProductName:            "box",
		Quantity:               1,
		ShippingType:           models.ShippingNational,
		PreferredContactMethod: models.ContactEmail,
		Status:                 models.StatusPending,
		Version:                1,
		CreatedAt:              createdAt,
		UpdatedAt:              createdAt,
	}
}

func createRequest(t *testing.T, store *repositories.Store, customer uuid.UUID, at time.Time) *models.Request {
	t.Helper()
	req, err := store.Requests.Create(context.Background(), NewRequest(customer, at))
	require.NoError(t, err)
	return req
}

func concurrentClaimHasOneWinner(t *testing.T, store *repositories.Store) {
	ctx := context.Background()
	req := createRequest(t, store, user(t, store, models.RoleCustomer), time.Now())

	const agents = 16
	ids := make([]uuid.UUID, agents)
	for i := range ids {
		ids[i] = user(t, store, models.RoleAgent)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []uuid.UUID
		conflicts int
	)
	for _, agent := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Requests.Claim(ctx, req.ID, agent, time.Now())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, agent)
				return
			}
			if apperrors.IsConflict(err) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, agents-1, conflicts)

	got, err := store.Requests.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, got.IsClaimedBy(winners[0]))
	assert.Equal(t, models.StatusClaimed, got.Status)
	assert.Equal(t, 2, got.Version)
}

func conditionalMissOnDeletedIsNotFound(t *testing.T, store *repositories.Store) {
	ctx := context.Background()
	req := createRequest(t, store, user(t, store, models.RoleCustomer), time.Now())

	_, err := store.Requests.SoftDelete(ctx, req.ID, models.TransitionCondition{Status: models.StatusPending}, time.Now())
	require.NoError(t, err)

	_, err = store.Requests.Claim(ctx, req.ID, user(t, store, models.RoleAgent), time.Now())
	assert.True(t, apperrors.IsNotFound(err))
	_, err = store.Requests.GetByID(ctx, req.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func transitionChecksVersion(t *testing.T, store *repositories.Store) {
	ctx := context.Background()
	req := createRequest(t, store, user(t, store, models.RoleCustomer), time.Now())

	stale := models.TransitionCondition{Status: models.StatusPending, Version: req.Version + 5}
	_, err := store.Requests.Transition(ctx, req.ID, stale, models.TransitionChange{Status: models.StatusCancelled}, time.Now())
	assert.True(t, apperrors.IsConflict(err))

	got, err := store.Requests.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func transitionClearsClaim(t *testing.T, store *repositories.Store) {
	ctx := context.Background()
	req := createRequest(t, store, user(t, store, models.RoleCustomer), time.Now())
	agent := user(t, store, models.RoleAgent)

	claimed, err := store.Requests.Claim(ctx, req.ID, agent, time.Now())
	require.NoError(t, err)

	reason := "customer changed their mind"
	done := time.Now().UTC().Truncate(time.Second)
	cancelled, err := store.Requests.Transition(ctx, req.ID,
		models.TransitionCondition{Status: models.StatusClaimed, Version: claimed.Version, AgentID: &agent},
		models.TransitionChange{Status: models.StatusCancelled, ClearClaim: true, CompletedAt: &done, CancelledReason: &reason},
		time.Now())
	require.NoError(t, err)

	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.ClaimedByAgentID)
	assert.Nil(t, cancelled.ClaimedAt)
	require.NotNil(t, cancelled.CompletedAt)
	assert.True(t, done.Equal(*cancelled.CompletedAt))
	require.NotNil(t, cancelled.CancelledReason)
	assert.Equal(t, reason, *cancelled.CancelledReason)
	assert.Equal(t, claimed.Version+1, cancelled.Version)
}

func unclaimRequiresHolder(t *testing.T, store *repositories.Store) {
	ctx := context.Background()
	req := createRequest(t, store, user(t, store, models.RoleCustomer), time.Now())
	agent := user(t, store, models.RoleAgent)

	_, err := store.Requests.Claim(ctx, req.ID, agent, time.Now())
	require.NoError(t, err)

	_, err = store.Requests.Unclaim(ctx, req.ID, user(t, store, models.RoleAgent), time.Now())
	assert.True(t, apperrors.IsConflict(err))

	released, err := store.Requests.Unclaim(ctx, req.ID, agent, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, released.Status)
	assert.Nil(t, released.ClaimedByAgentID)

	_, err = store.Requests.Unclaim(ctx, req.ID, agent, time.Now())
	assert.True(t, apperrors.IsConflict(err))
}

func listVisibilityAndPaging(t *testing.T, store *repositories.Store) {
	ctx := context.Background()
	customer := user(t, store, models.RoleCustomer)
	agent := user(t, store, models.RoleAgent)
	base := time.Now().UTC().Truncate(time.Second)

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		ids = append(ids, createRequest(t, store, customer, base.Add(time.Duration(i)*time.Minute)).ID)
	}
	_, err := store.Requests.Claim(ctx, ids[0], user(t, store, models.RoleAgent), base)
	require.NoError(t, err)
	_, err = store.Requests.Claim(ctx, ids[1], agent, base)
	require.NoError(t, err)

	owner := models.Actor{UserID: customer, Role: models.RoleCustomer}
	items, total, err := store.Requests.List(ctx, owner, models.RequestFilter{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, items, 2)
	assert.Equal(t, ids[4], items[0].ID)
	assert.Equal(t, ids[3], items[1].ID)

	// another agent's claim is hidden from this agent
	_, total, err = store.Requests.List(ctx, models.Actor{UserID: agent, Role: models.RoleAgent}, models.RequestFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	pending := models.StatusPending
	_, total, err = store.Requests.List(ctx, models.Actor{UserID: agent, Role: models.RoleAgent}, models.RequestFilter{Status: &pending})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	stranger := models.Actor{UserID: uuid.New(), Role: models.RoleCustomer}
	items, total, err = store.Requests.List(ctx, stranger, models.RequestFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.NotNil(t, items)
}

func inTxRollsBackOnError(t *testing.T, store *repositories.Store) {
	ctx := context.Background()
	req := createRequest(t, store, user(t, store, models.RoleCustomer), time.Now())
	agent := user(t, store, models.RoleAgent)

	boom := errors.New("boom")
	err := store.Transactor.InTx(ctx, func(ctx context.Context) error {
		if _, err := store.Requests.Claim(ctx, req.ID, agent, time.Now()); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.Requests.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.ClaimedByAgentID)
}

func onePendingResolutionPerRequest(t *testing.T, store *repositories.Store) {
	ctx := context.Background()
	req := createRequest(t, store, user(t, store, models.RoleCustomer), time.Now())
	agent := user(t, store, models.RoleAgent)
	now := time.Now()

	newResolution := func() *models.Resolution {
		return &models.Resolution{
			ID:                    uuid.New(),
			RequestID:             req.ID,
			AgentID:               agent,
			QuoteBreakdown:        database.NewJSONB(models.QuoteBreakdown{BaseCost: 10, TypeMultiplier: 1, Total: 10}),
			EstimatedDeliveryDays: 3,
			Status:                models.ResolutionPending,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
	}

	first, err := store.Resolutions.Create(ctx, newResolution())
	require.NoError(t, err)

	second := newResolution()
	_, err = store.Resolutions.Create(ctx, second)
	assert.True(t, apperrors.IsConflict(err))

	notes := "too slow"
	rejected, err := store.Resolutions.Respond(ctx, first.ID, models.ResolutionRejected, &notes, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.ResolutionRejected, rejected.Status)
	assert.NotNil(t, rejected.RespondedAt)

	_, err = store.Resolutions.Create(ctx, second)
	require.NoError(t, err)

	_, err = store.Resolutions.Respond(ctx, first.ID, models.ResolutionAccepted, nil, time.Now())
	assert.True(t, apperrors.IsConflict(err))

	list, err := store.Resolutions.ListByRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func singleActivePricingRule(t *testing.T, store *repositories.Store) {
	ctx := context.Background()

	newRule := func(base float64) *models.PricingRule {
		rule := models.DefaultPricingRule()
		rule.ID = uuid.New()
		rule.BaseRateNational = base
		return &rule
	}

	a, err := store.PricingRules.Create(ctx, newRule(10))
	require.NoError(t, err)
	b, err := store.PricingRules.Create(ctx, newRule(12))
	require.NoError(t, err)

	_, err = store.PricingRules.GetActive(ctx)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = store.PricingRules.Activate(ctx, a.ID)
	require.NoError(t, err)
	_, err = store.PricingRules.Activate(ctx, b.ID)
	require.NoError(t, err)

	active, err := store.PricingRules.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, active.ID)
	assert.InDelta(t, 12.0, active.BaseRateNational, 1e-9)

	rules, err := store.PricingRules.List(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	assert.True(t, apperrors.IsConflict(store.PricingRules.Delete(ctx, b.ID)))
	assert.NoError(t, store.PricingRules.Delete(ctx, a.ID))
}

func userUpsertKeepsProfile(t *testing.T, store *repositories.Store) {
	ctx := context.Background()
	id := uuid.New()

	_, err := store.Users.Upsert(ctx, &models.User{ID: id, Email: "ada@example.com", Name: "Ada", Role: models.RoleCustomer})
	require.NoError(t, err)

	updated, err := store.Users.Upsert(ctx, &models.User{ID: id, Role: models.RoleAgent})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", updated.Email)
	assert.Equal(t, "Ada", updated.Name)
	assert.Equal(t, models.RoleAgent, updated.Role)

	got, err := store.Users.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAgent, got.Role)

	_, err = store.Users.GetByID(ctx, uuid.New())
	assert.True(t, apperrors.IsNotFound(err))
}

func notificationOutbox(t *testing.T, store *repositories.Store) {
	ctx := context.Background()
	recipient := user(t, store, models.RoleCustomer)
	base := time.Now().UTC().Truncate(time.Second)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		n, err := store.Notifications.Create(ctx, &models.Notification{
			ID:        uuid.New(),
			UserID:    recipient,
			Recipient: "customer@example.com",
			Template:  "request_created",
			Subject:   "Request received",
			Body:      "We got it",
			Status:    models.NotificationPending,
			CreatedAt: at,
			UpdatedAt: at,
		})
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}

	require.NoError(t, store.Notifications.MarkSent(ctx, ids[0], time.Now()))
	require.NoError(t, store.Notifications.MarkFailed(ctx, ids[1], "smtp down", false, time.Now()))
	require.NoError(t, store.Notifications.MarkFailed(ctx, ids[2], "smtp down", true, time.Now()))

	pending, err := store.Notifications.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ids[1], pending[0].ID)
	assert.Equal(t, 1, pending[0].RetryCount)
}

func adminAssignedRoleSurvivesUpsert(t *testing.T, store *repositories.Store) {
	ctx := context.Background()
	id := user(t, store, models.RoleCustomer)

	got, err := store.Users.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.UserActive, got.Status)
	assert.False(t, got.RoleAssigned)

	promoted, err := store.Users.SetRole(ctx, id, models.RoleAgent, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.RoleAgent, promoted.Role)
	assert.True(t, promoted.RoleAssigned)

	blocked, err := store.Users.SetStatus(ctx, id, models.UserBlocked, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.UserBlocked, blocked.Status)

	again, err := store.Users.Upsert(ctx, &models.User{ID: id, Email: "renamed@example.com", Role: models.RoleCustomer})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAgent, again.Role)
	assert.Equal(t, models.UserBlocked, again.Status)
	assert.Equal(t, "renamed@example.com", again.Email)

	_, err = store.Users.SetRole(ctx, uuid.New(), models.RoleAdmin, time.Now())
	assert.True(t, apperrors.IsNotFound(err))
	_, err = store.Users.SetStatus(ctx, uuid.New(), models.UserInactive, time.Now())
	assert.True(t, apperrors.IsNotFound(err))
}

func userListFiltersAndCounts(t *testing.T, store *repositories.Store) {
	ctx := context.Background()
	since := time.Now().Add(-time.Hour)

	c1 := user(t, store, models.RoleCustomer)
	user(t, store, models.RoleCustomer)
	agent := user(t, store, models.RoleAgent)
	user(t, store, models.RoleAdmin)

	_, err := store.Users.SetStatus(ctx, c1, models.UserBlocked, time.Now())
	require.NoError(t, err)

	all, total, err := store.Users.List(ctx, models.UserFilter{Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, all, 3)

	customer := models.RoleCustomer
	customers, total, err := store.Users.List(ctx, models.UserFilter{Role: &customer})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, customers, 2)

	blockedStatus := models.UserBlocked
	blocked, total, err := store.Users.List(ctx, models.UserFilter{Status: &blockedStatus})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, c1, blocked[0].ID)

	agentRole := models.RoleAgent
	agents, _, err := store.Users.List(ctx, models.UserFilter{Role: &agentRole})
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, agent, agents[0].ID)

	counts, err := store.Users.Counts(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, models.UserCounts{Total: 4, Customers: 2, Agents: 1, Admins: 1, Blocked: 1, RecentSignups: 4}, counts)

	counts, err = store.Users.Counts(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, counts.RecentSignups)
}

func requestAndResolutionCounts(t *testing.T, store *repositories.Store) {
	ctx := context.Background()
	customer := user(t, store, models.RoleCustomer)
	agent := user(t, store, models.RoleAgent)
	now := time.Now()

	old := createRequest(t, store, customer, now.Add(-30*24*time.Hour))
	claimed := createRequest(t, store, customer, now)
	deleted := createRequest(t, store, customer, now)

	_, err := store.Requests.Claim(ctx, claimed.ID, agent, now)
	require.NoError(t, err)
	_, err = store.Requests.SoftDelete(ctx, deleted.ID, models.TransitionCondition{Status: models.StatusPending, Version: deleted.Version}, now)
	require.NoError(t, err)

	counts, err := store.Requests.Counts(ctx, now.Add(-models.RecentWindow))
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Total)
	assert.Equal(t, 1, counts.Recent)
	assert.Equal(t, 1, counts.ByStatus[models.StatusPending])
	assert.Equal(t, 1, counts.ByStatus[models.StatusClaimed])
	assert.Equal(t, 0, counts.ByStatus[models.StatusCompleted])
	assert.Len(t, counts.ByStatus, len(models.AllStatuses()))

	res, err := store.Resolutions.Create(ctx, &models.Resolution{
		ID:                    uuid.New(),
		RequestID:             old.ID,
		AgentID:               agent,
		QuoteBreakdown:        database.NewJSONB(models.QuoteBreakdown{BaseCost: 10, TypeMultiplier: 1, Total: 10}),
		EstimatedDeliveryDays: 3,
		Status:                models.ResolutionPending,
		CreatedAt:             now,
		UpdatedAt:             now,
	})
	require.NoError(t, err)

	resCounts, err := store.Resolutions.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ResolutionCounts{Total: 1, Pending: 1}, resCounts)

	_, err = store.Resolutions.Respond(ctx, res.ID, models.ResolutionAccepted, nil, now)
	require.NoError(t, err)

	resCounts, err = store.Resolutions.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ResolutionCounts{Total: 1, Accepted: 1}, resCounts)
}

func notificationHistoryAndRetry(t *testing.T, store *repositories.Store) {
	ctx := context.Background()
	owner := user(t, store, models.RoleCustomer)
	other := user(t, store, models.RoleCustomer)
	base := time.Now().UTC().Truncate(time.Second)

	create := func(userID uuid.UUID, template string, at time.Time) uuid.UUID {
		n, err := store.Notifications.Create(ctx, &models.Notification{
			ID:        uuid.New(),
			UserID:    userID,
			Recipient: "customer@example.com",
			Template:  template,
			Subject:   "subject",
			Body:      "body",
			Status:    models.NotificationPending,
			CreatedAt: at,
			UpdatedAt: at,
		})
		require.NoError(t, err)
		return n.ID
	}

	first := create(owner, "request_created", base)
	second := create(owner, "request_claimed", base.Add(time.Second))
	create(other, "request_created", base)

	require.NoError(t, store.Notifications.MarkFailed(ctx, first, "smtp down", true, time.Now()))

	history, total, err := store.Notifications.ListByUser(ctx, owner, models.NotificationFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, history, 2)
	assert.Equal(t, second, history[0].ID)

	failed := models.NotificationFailed
	history, total, err = store.Notifications.ListByUser(ctx, owner, models.NotificationFilter{Status: &failed})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, first, history[0].ID)

	history, _, err = store.Notifications.ListByUser(ctx, owner, models.NotificationFilter{Template: "request_claimed"})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, second, history[0].ID)

	stats, err := store.Notifications.Counts(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationStats{Total: 2, Pending: 1, Failed: 1}, stats)

	retried, err := store.Notifications.Retry(ctx, first, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.NotificationPending, retried.Status)
	assert.Zero(t, retried.RetryCount)
	assert.Nil(t, retried.FailedReason)

	_, err = store.Notifications.Retry(ctx, first, time.Now())
	assert.True(t, apperrors.IsConflict(err))
	_, err = store.Notifications.Retry(ctx, uuid.New(), time.Now())
	assert.True(t, apperrors.IsNotFound(err))

	got, err := store.Notifications.GetByID(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, owner, got.UserID)
}
