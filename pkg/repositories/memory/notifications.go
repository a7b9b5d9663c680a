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

type NotificationRepository struct {
	s *Store
}

func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) (*models.Notification, error) {
	created := *n
	err := r.s.write(ctx, func() error {
		r.s.notifications[n.ID] = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *NotificationRepository) ListPending(ctx context.Context, limit int) ([]models.Notification, error) {
	var pending []models.Notification
	r.s.read(ctx, func() {
		pending = ectolinq.Filter(ectolinq.Values(r.s.notifications), func(n models.Notification) bool {
			return n.Status == models.NotificationPending
		})
	})
	slices.SortFunc(pending, func(a, b models.Notification) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// All returns every notification regardless of status.
func (r *NotificationRepository) All() []models.Notification {
	var all []models.Notification
	r.s.read(context.Background(), func() {
		all = ectolinq.Values(r.s.notifications)
	})
	return all
}

func (r *NotificationRepository) update(ctx context.Context, id uuid.UUID, change func(*models.Notification)) error {
	return r.s.write(ctx, func() error {
		n, ok := r.s.notifications[id]
		if !ok {
			return apperrors.NotFound("notification %s not found", id)
		}
		change(&n)
		r.s.notifications[id] = n
		return nil
	})
}

func (r *NotificationRepository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.update(ctx, id, func(n *models.Notification) {
		sentAt := at
		n.Status = models.NotificationSent
		n.SentAt = &sentAt
		n.UpdatedAt = at
	})
}

func (r *NotificationRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string, final bool, at time.Time) error {
	return r.update(ctx, id, func(n *models.Notification) {
		n.RetryCount++
		n.FailedReason = &reason
		n.UpdatedAt = at
		if final {
			n.Status = models.NotificationFailed
		}
	})
}

func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	var (
		n  models.Notification
		ok bool
	)
	r.s.read(ctx, func() {
		n, ok = r.s.notifications[id]
	})
	if !ok {
		return nil, apperrors.NotFound("notification %s not found", id)
	}
	return &n, nil
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID uuid.UUID, filter models.NotificationFilter) ([]models.Notification, int, error) {
	filter = filter.Normalize()

	var items []models.Notification
	r.s.read(ctx, func() {
		items = ectolinq.Filter(ectolinq.Values(r.s.notifications), func(n models.Notification) bool {
			return n.UserID == userID && filter.Matches(&n)
		})
	})
	slices.SortFunc(items, func(a, b models.Notification) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return paginate(items, filter.Offset(), filter.Limit), len(items), nil
}

func (r *NotificationRepository) Retry(ctx context.Context, id uuid.UUID, at time.Time) (*models.Notification, error) {
	var updated models.Notification
	err := r.s.write(ctx, func() error {
		n, ok := r.s.notifications[id]
		if !ok {
			return apperrors.NotFound("notification %s not found", id)
		}
		if n.Status != models.NotificationFailed {
			return apperrors.Conflict("notification %s is not failed", id)
		}
		n.Status = models.NotificationPending
		n.RetryCount = 0
		n.FailedReason = nil
		n.UpdatedAt = at
		r.s.notifications[id] = n
		updated = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *NotificationRepository) Counts(ctx context.Context, userID uuid.UUID) (models.NotificationStats, error) {
	var stats models.NotificationStats
	r.s.read(ctx, func() {
		for _, n := range r.s.notifications {
			if n.UserID == userID {
				stats.Add(n.Status, 1)
			}
		}
	})
	return stats, nil
}
