package models_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/courier/pkg/models"
)

func TestActor_CanSee(t *testing.T) {
	customer := uuid.New()
	agent := uuid.New()
	other := uuid.New()

	pending := &models.Request{CustomerID: customer, Status: models.StatusPending}
	claimed := &models.Request{CustomerID: customer, Status: models.StatusClaimed, ClaimedByAgentID: &agent}
	deleted := &models.Request{CustomerID: customer, Status: models.StatusPending, DeletedAt: ptr(time.Now())}

	tests := []struct {
		name  string
		actor models.Actor
		req   *models.Request
		want  bool
	}{
		{"owner sees pending", models.Actor{UserID: customer, Role: models.RoleCustomer}, pending, true},
		{"other customer", models.Actor{UserID: other, Role: models.RoleCustomer}, pending, false},
		{"agent sees pool", models.Actor{UserID: other, Role: models.RoleAgent}, pending, true},
		{"agent sees own claim", models.Actor{UserID: agent, Role: models.RoleAgent}, claimed, true},
		{"agent cannot see others claim", models.Actor{UserID: other, Role: models.RoleAgent}, claimed, false},
		{"admin sees all", models.Actor{UserID: other, Role: models.RoleAdmin}, claimed, true},
		{"deleted hidden from admin", models.Actor{UserID: other, Role: models.RoleAdmin}, deleted, false},
		{"nil request", models.Actor{UserID: customer, Role: models.RoleCustomer}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.actor.CanSee(tt.req))
		})
	}
}

func TestRequestFilter_Normalize(t *testing.T) {
	f := models.RequestFilter{Page: 0, Limit: 500}.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, models.MaxPageLimit, f.Limit)

	f = models.RequestFilter{Page: 3}.Normalize()
	assert.Equal(t, models.DefaultPageLimit, f.Limit)
	assert.Equal(t, 40, f.Offset())

	meta := models.NewPageMeta(models.RequestFilter{Page: 1, Limit: 20}, 41)
	assert.Equal(t, 3, meta.TotalPages)
}

func TestUserIDFromSubject(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, id, models.UserIDFromSubject(id.String()))
	assert.Equal(t, models.UserIDFromSubject("auth0|abc"), models.UserIDFromSubject("auth0|abc"))
	assert.NotEqual(t, models.UserIDFromSubject("auth0|abc"), models.UserIDFromSubject("auth0|abd"))
}

func ptr[T any](v T) *T {
	return &v
}
