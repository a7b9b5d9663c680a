// Package admin serves the operator views over users and marketplace totals.
package admin

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/repositories"
	"github.com/Ramsey-B/courier/pkg/tracing"
)

// OnlineCounter reports how many users of a role are connected.
type OnlineCounter interface {
	OnlineUsers(role models.Role) int
}

type Service struct {
	store  *repositories.Store
	online OnlineCounter
	logger ectologger.Logger
	now    func() time.Time
}

// NewService builds the admin service. online may be nil, in which case no
// agent is reported online.
func NewService(store *repositories.Store, online OnlineCounter, logger ectologger.Logger) *Service {
	return &Service{
		store:  store,
		online: online,
		logger: logger,
		now:    time.Now,
	}
}

func requireAdmin(actor models.Actor) error {
	if !actor.Is(models.RoleAdmin) {
		return apperrors.Forbidden("only admins can manage users")
	}
	return nil
}

// Dashboard gathers user, request and resolution totals concurrently.
func (s *Service) Dashboard(ctx context.Context, actor models.Actor) (*models.DashboardStats, error) {
	ctx, span := tracing.StartSpan(ctx, "AdminService.Dashboard")
	defer span.End()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	since := now.Add(-models.RecentWindow)
	stats := &models.DashboardStats{GeneratedAt: now}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		counts, err := s.store.Users.Counts(gctx, since)
		stats.Users = counts
		return err
	})
	g.Go(func() error {
		counts, err := s.store.Requests.Counts(gctx, since)
		stats.Requests = counts
		return err
	})
	g.Go(func() error {
		counts, err := s.store.Resolutions.Counts(gctx)
		stats.Resolutions = counts
		return err
	})
	if err := g.Wait(); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	if s.online != nil {
		stats.Users.OnlineAgents = s.online.OnlineUsers(models.RoleAgent)
	}
	return stats, nil
}

func (s *Service) ListUsers(ctx context.Context, actor models.Actor, filter models.UserFilter) (*models.UserPage, error) {
	ctx, span := tracing.StartSpan(ctx, "AdminService.ListUsers")
	defer span.End()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if filter.Role != nil && !filter.Role.IsValid() {
		return nil, apperrors.Validation("unknown role %q", *filter.Role)
	}
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, apperrors.Validation("unknown user status %q", *filter.Status)
	}

	filter = filter.Normalize()
	users, total, err := s.store.Users.List(ctx, filter)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return models.NewUserPage(users, filter, total), nil
}

func (s *Service) GetUser(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.store.Users.GetByID(ctx, id)
}

// UpdateUserRole pins role on the user. Admins cannot change their own role.
func (s *Service) UpdateUserRole(ctx context.Context, actor models.Actor, id uuid.UUID, role models.Role) (*models.User, error) {
	ctx, span := tracing.StartSpan(ctx, "AdminService.UpdateUserRole")
	defer span.End()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if !role.IsValid() {
		return nil, apperrors.Validation("unknown role %q", role)
	}
	if id == actor.UserID {
		return nil, apperrors.Forbidden("admins cannot change their own role")
	}

	user, err := s.store.Users.SetRole(ctx, id, role, s.now().UTC())
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"user_id":  id,
		"role":     role,
		"admin_id": actor.UserID,
	}).Info("user role updated")
	return user, nil
}

// UpdateUserStatus activates, deactivates or blocks a user. Admins cannot
// change their own status.
func (s *Service) UpdateUserStatus(ctx context.Context, actor models.Actor, id uuid.UUID, status models.UserStatus) (*models.User, error) {
	ctx, span := tracing.StartSpan(ctx, "AdminService.UpdateUserStatus")
	defer span.End()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, apperrors.Validation("unknown user status %q", status)
	}
	if id == actor.UserID {
		return nil, apperrors.Forbidden("admins cannot change their own status")
	}

	user, err := s.store.Users.SetStatus(ctx, id, status, s.now().UTC())
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"user_id":  id,
		"status":   status,
		"admin_id": actor.UserID,
	}).Info("user status updated")
	return user, nil
}
