package memory

import (
	"context"
	"slices"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/google/uuid"

	apperrors "github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/models"
)

type UserRepository struct {
	s *Store
}

func (r *UserRepository) Upsert(ctx context.Context, user *models.User) (*models.User, error) {
	var saved models.User
	err := r.s.write(ctx, func() error {
		now := time.Now().UTC()
		existing, ok := r.s.users[user.ID]
		if !ok {
			saved = *user
			saved.Status = models.UserActive
			saved.RoleAssigned = false
			saved.CreatedAt = now
			saved.UpdatedAt = now
			r.s.users[user.ID] = saved
			return nil
		}
		if user.Email != "" {
			existing.Email = user.Email
		}
		if user.Name != "" {
			existing.Name = user.Name
		}
		if user.Phone != nil {
			existing.Phone = user.Phone
		}
		if !existing.RoleAssigned {
			existing.Role = user.Role
		}
		existing.UpdatedAt = now
		r.s.users[user.ID] = existing
		saved = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var (
		user models.User
		ok   bool
	)
	r.s.read(ctx, func() {
		user, ok = r.s.users[id]
	})
	if !ok {
		return nil, apperrors.NotFound("user %s not found", id)
	}
	return &user, nil
}

func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	filter = filter.Normalize()

	var users []models.User
	r.s.read(ctx, func() {
		users = ectolinq.Filter(ectolinq.Values(r.s.users), func(u models.User) bool {
			return filter.Matches(&u)
		})
	})
	slices.SortFunc(users, func(a, b models.User) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return paginate(users, filter.Offset(), filter.Limit), len(users), nil
}

func (r *UserRepository) update(ctx context.Context, id uuid.UUID, change func(*models.User)) (*models.User, error) {
	var updated models.User
	err := r.s.write(ctx, func() error {
		user, ok := r.s.users[id]
		if !ok {
			return apperrors.NotFound("user %s not found", id)
		}
		change(&user)
		r.s.users[id] = user
		updated = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *UserRepository) SetRole(ctx context.Context, id uuid.UUID, role models.Role, at time.Time) (*models.User, error) {
	return r.update(ctx, id, func(u *models.User) {
		u.Role = role
		u.RoleAssigned = true
		u.UpdatedAt = at
	})
}

func (r *UserRepository) SetStatus(ctx context.Context, id uuid.UUID, status models.UserStatus, at time.Time) (*models.User, error) {
	return r.update(ctx, id, func(u *models.User) {
		u.Status = status
		u.UpdatedAt = at
	})
}

func (r *UserRepository) Counts(ctx context.Context, since time.Time) (models.UserCounts, error) {
	var counts models.UserCounts
	r.s.read(ctx, func() {
		for _, u := range r.s.users {
			counts.Add(u.Role, 1)
			if u.Status == models.UserBlocked {
				counts.Blocked++
			}
			if !u.CreatedAt.Before(since) {
				counts.RecentSignups++
			}
		}
	})
	return counts, nil
}
