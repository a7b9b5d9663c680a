// Package repositories defines the persistent store contract and its
// postgres implementation. Conditional writes are explicit methods: a write
// whose precondition no longer holds affects nothing and reports NotFound
// (row gone) or Conflict (row changed).
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/courier/pkg/models"
)

// Transactor runs fn in a single store transaction carried by ctx.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type RequestRepo interface {
	Create(ctx context.Context, req *models.Request) (*models.Request, error)
	// GetByID never returns soft-deleted rows.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Request, error)
	// List applies the actor's visibility predicate and the filter, newest first.
	List(ctx context.Context, actor models.Actor, filter models.RequestFilter) ([]models.Request, int, error)
	// UpdateDetails writes customer edits while the request is pending and unclaimed.
	UpdateDetails(ctx context.Context, id, customerID uuid.UUID, details models.RequestDetails, at time.Time) (*models.Request, error)
	// Claim succeeds only when the request is pending and unclaimed.
	Claim(ctx context.Context, id, agentID uuid.UUID, at time.Time) (*models.Request, error)
	// Unclaim succeeds only when the request is claimed by agentID.
	Unclaim(ctx context.Context, id, agentID uuid.UUID, at time.Time) (*models.Request, error)
	Transition(ctx context.Context, id uuid.UUID, expected models.TransitionCondition, change models.TransitionChange, at time.Time) (*models.Request, error)
	SoftDelete(ctx context.Context, id uuid.UUID, expected models.TransitionCondition, at time.Time) (*models.Request, error)
	// Counts tallies live requests by status; Recent counts those created at or after since.
	Counts(ctx context.Context, since time.Time) (models.RequestCounts, error)
}

type ResolutionRepo interface {
	// Create fails with Conflict when the request already has a pending resolution.
	Create(ctx context.Context, res *models.Resolution) (*models.Resolution, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Resolution, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]models.Resolution, error)
	// Update rewrites quote fields of a pending resolution authored by res.AgentID.
	Update(ctx context.Context, res *models.Resolution, at time.Time) (*models.Resolution, error)
	// Respond moves a pending resolution to status.
	Respond(ctx context.Context, id uuid.UUID, status models.ResolutionStatus, notes *string, at time.Time) (*models.Resolution, error)
	Counts(ctx context.Context) (models.ResolutionCounts, error)
}

type UserRepo interface {
	// Upsert never changes status, and keeps an admin-assigned role.
	Upsert(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// List returns the filtered page, newest first, and the filtered total.
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	// SetRole assigns role and pins it against later upserts.
	SetRole(ctx context.Context, id uuid.UUID, role models.Role, at time.Time) (*models.User, error)
	SetStatus(ctx context.Context, id uuid.UUID, status models.UserStatus, at time.Time) (*models.User, error)
	// Counts tallies users by role; RecentSignups counts those created at or after since.
	Counts(ctx context.Context, since time.Time) (models.UserCounts, error)
}

type PricingRuleRepo interface {
	// GetActive returns NotFound when no rule is active.
	GetActive(ctx context.Context) (*models.PricingRule, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.PricingRule, error)
	List(ctx context.Context) ([]models.PricingRule, error)
	Create(ctx context.Context, rule *models.PricingRule) (*models.PricingRule, error)
	Update(ctx context.Context, rule *models.PricingRule) (*models.PricingRule, error)
	// Activate marks id active and every other rule inactive.
	Activate(ctx context.Context, id uuid.UUID) (*models.PricingRule, error)
	// Delete refuses the active rule with Conflict.
	Delete(ctx context.Context, id uuid.UUID) error
}

type NotificationRepo interface {
	Create(ctx context.Context, n *models.Notification) (*models.Notification, error)
	// ListPending returns up to limit pending notifications, oldest first.
	ListPending(ctx context.Context, limit int) ([]models.Notification, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkFailed records an attempt; final moves the row to failed.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, final bool, at time.Time) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Notification, error)
	// ListByUser returns the user's filtered history, newest first, and the filtered total.
	ListByUser(ctx context.Context, userID uuid.UUID, filter models.NotificationFilter) ([]models.Notification, int, error)
	// Retry moves a failed notification back to pending with a fresh attempt budget.
	Retry(ctx context.Context, id uuid.UUID, at time.Time) (*models.Notification, error)
	Counts(ctx context.Context, userID uuid.UUID) (models.NotificationStats, error)
}

// Store bundles every repository over one backend.
type Store struct {
	Transactor    Transactor
	Requests      RequestRepo
	Resolutions   ResolutionRepo
	Users         UserRepo
	PricingRules  PricingRuleRepo
	Notifications NotificationRepo
	// Ping reports backend health. Nil means always healthy.
	Ping func(ctx context.Context) error
}
