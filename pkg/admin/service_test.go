package admin_test

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/courier/pkg/admin"
	apperrors "github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/repositories"
	"github.com/Ramsey-B/courier/pkg/repositories/memory"
	"github.com/Ramsey-B/courier/pkg/repositories/repotest"
)

type fixedOnline map[models.Role]int

func (f fixedOnline) OnlineUsers(role models.Role) int {
	return f[role]
}

type fixture struct {
	store    *repositories.Store
	svc      *admin.Service
	admin    models.Actor
	customer models.Actor
	agent    models.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore().Repositories()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	upsert := func(role models.Role) models.Actor {
		u, err := store.Users.Upsert(ctx, &models.User{ID: uuid.New(), Email: string(role) + "@example.com", Name: string(role), Role: role})
		require.NoError(t, err)
		return u.Actor()
	}

	return &fixture{
		store:    store,
		svc:      admin.NewService(store, fixedOnline{models.RoleAgent: 1}, logger),
		admin:    upsert(models.RoleAdmin),
		customer: upsert(models.RoleCustomer),
		agent:    upsert(models.RoleAgent),
	}
}

func TestDashboard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req, err := f.store.Requests.Create(ctx, repotest.NewRequest(f.customer.UserID, time.Now()))
	require.NoError(t, err)
	_, err = f.store.Requests.Create(ctx, repotest.NewRequest(f.customer.UserID, time.Now().Add(-30*24*time.Hour)))
	require.NoError(t, err)
	_, err = f.store.Requests.Claim(ctx, req.ID, f.agent.UserID, time.Now())
	require.NoError(t, err)

	stats, err := f.svc.Dashboard(ctx, f.admin)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Users.Total)
	assert.Equal(t, 1, stats.Users.Customers)
	assert.Equal(t, 1, stats.Users.Agents)
	assert.Equal(t, 1, stats.Users.Admins)
	assert.Equal(t, 1, stats.Users.OnlineAgents)
	assert.Equal(t, 3, stats.Users.RecentSignups)

	assert.Equal(t, 2, stats.Requests.Total)
	assert.Equal(t, 1, stats.Requests.Recent)
	assert.Equal(t, 1, stats.Requests.ByStatus[models.StatusClaimed])
	assert.Equal(t, 1, stats.Requests.ByStatus[models.StatusPending])
	assert.Zero(t, stats.Resolutions.Total)
	assert.False(t, stats.GeneratedAt.IsZero())

	_, err = f.svc.Dashboard(ctx, f.agent)
	assert.True(t, apperrors.IsForbidden(err))
}

func TestDashboardWithoutOnlineCounter(t *testing.T) {
	store := memory.NewStore().Repositories()
	svc := admin.NewService(store, nil, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))

	stats, err := svc.Dashboard(context.Background(), models.Actor{UserID: uuid.New(), Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Zero(t, stats.Users.OnlineAgents)
	assert.Len(t, stats.Requests.ByStatus, len(models.AllStatuses()))
}

func TestListUsers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	page, err := f.svc.ListUsers(ctx, f.admin, models.UserFilter{})
	require.NoError(t, err)
	assert.Len(t, page.Data, 3)
	assert.Equal(t, models.PageMeta{Page: 1, Limit: models.DefaultPageLimit, Total: 3, TotalPages: 1}, page.Meta)

	agent := models.RoleAgent
	page, err = f.svc.ListUsers(ctx, f.admin, models.UserFilter{Role: &agent})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, f.agent.UserID, page.Data[0].ID)

	bogus := models.Role("courier")
	_, err = f.svc.ListUsers(ctx, f.admin, models.UserFilter{Role: &bogus})
	assert.True(t, apperrors.IsValidation(err))

	suspended := models.UserStatus("suspended")
	_, err = f.svc.ListUsers(ctx, f.admin, models.UserFilter{Status: &suspended})
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.ListUsers(ctx, f.customer, models.UserFilter{})
	assert.True(t, apperrors.IsForbidden(err))
}

func TestUpdateUserRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	promoted, err := f.svc.UpdateUserRole(ctx, f.admin, f.customer.UserID, models.RoleAgent)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAgent, promoted.Role)

	// the next login carries the identity provider's claim but keeps the assigned role
	relogin, err := f.store.Users.Upsert(ctx, &models.User{ID: f.customer.UserID, Role: models.RoleCustomer})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAgent, relogin.Role)

	_, err = f.svc.UpdateUserRole(ctx, f.admin, f.admin.UserID, models.RoleCustomer)
	assert.True(t, apperrors.IsForbidden(err))

	_, err = f.svc.UpdateUserRole(ctx, f.admin, f.agent.UserID, models.Role("root"))
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.UpdateUserRole(ctx, f.admin, uuid.New(), models.RoleAgent)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.svc.UpdateUserRole(ctx, f.agent, f.customer.UserID, models.RoleAdmin)
	assert.True(t, apperrors.IsForbidden(err))
}

func TestUpdateUserStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	blocked, err := f.svc.UpdateUserStatus(ctx, f.admin, f.agent.UserID, models.UserBlocked)
	require.NoError(t, err)
	assert.Equal(t, models.UserBlocked, blocked.Status)

	got, err := f.svc.GetUser(ctx, f.admin, f.agent.UserID)
	require.NoError(t, err)
	assert.False(t, got.IsActive())

	_, err = f.svc.UpdateUserStatus(ctx, f.admin, f.admin.UserID, models.UserInactive)
	assert.True(t, apperrors.IsForbidden(err))

	_, err = f.svc.UpdateUserStatus(ctx, f.admin, f.agent.UserID, models.UserStatus("banned"))
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.UpdateUserStatus(ctx, f.customer, f.agent.UserID, models.UserActive)
	assert.True(t, apperrors.IsForbidden(err))
}
