package email

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	apperrors "github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/metrics"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/repositories"
	"github.com/Ramsey-B/courier/pkg/tracing"
)

// History serves a user's own notification log. Admins may read and retry
// any notification by id.
type History struct {
	notifications repositories.NotificationRepo
	logger        ectologger.Logger
	now           func() time.Time
}

func NewHistory(notifications repositories.NotificationRepo, logger ectologger.Logger) *History {
	return &History{
		notifications: notifications,
		logger:        logger,
		now:           time.Now,
	}
}

func (h *History) List(ctx context.Context, actor models.Actor, filter models.NotificationFilter) (*models.NotificationPage, error) {
	ctx, span := tracing.StartSpan(ctx, "NotificationHistory.List")
	defer span.End()

	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, apperrors.Validation("unknown notification status %q", *filter.Status)
	}
	filter = filter.Normalize()
	items, total, err := h.notifications.ListByUser(ctx, actor.UserID, filter)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return models.NewNotificationPage(items, filter, total), nil
}

// Get hides notifications of other users behind NotFound.
func (h *History) Get(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Notification, error) {
	n, err := h.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.UserID != actor.UserID && !actor.Is(models.RoleAdmin) {
		return nil, apperrors.NotFound("notification %s not found", id)
	}
	return n, nil
}

// Retry requeues a failed notification with a fresh attempt budget.
func (h *History) Retry(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Notification, error) {
	ctx, span := tracing.StartSpan(ctx, "NotificationHistory.Retry")
	defer span.End()

	n, err := h.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if n.Status != models.NotificationFailed {
		return nil, apperrors.InvalidState("notification", n.Status, "retry")
	}

	retried, err := h.notifications.Retry(ctx, id, h.now().UTC())
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	metrics.NotificationRetriesTotal.Inc()
	h.logger.WithContext(ctx).WithFields(map[string]any{
		"notification_id": id,
		"user_id":         actor.UserID,
	}).Info("notification requeued")
	return retried, nil
}

func (h *History) Stats(ctx context.Context, actor models.Actor) (models.NotificationStats, error) {
	return h.notifications.Counts(ctx, actor.UserID)
}
