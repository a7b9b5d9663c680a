package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/courier/pkg/database"
	apperrors "github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/tracing"
)

const notificationsTable = "notifications"

var notificationColumns = []string{
	"id", "user_id", "recipient", "template", "subject", "body", "status",
	"retry_count", "failed_reason", "sent_at", "metadata", "created_at", "updated_at",
}

type NotificationRepository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewNotificationRepository(db database.DB, logger ectologger.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) (*models.Notification, error) {
	ctx, span := tracing.StartSpan(ctx, "NotificationRepository.Create")
	defer span.End()

	ib := database.NewInsertBuilder().
		InsertInto(notificationsTable).
		Cols("id", "user_id", "recipient", "template", "subject", "body", "status", "retry_count", "metadata", "created_at", "updated_at").
		Values(n.ID, n.UserID, n.Recipient, n.Template, n.Subject, n.Body, n.Status, n.RetryCount, n.Metadata, n.CreatedAt, n.UpdatedAt).
		Returning(notificationColumns...)
	query, args := ib.Build()

	var created models.Notification
	if err := database.Conn(ctx, r.db).GetContext(ctx, &created, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("failed to create notification")
		return nil, errors.Wrap(err, "failed to create notification")
	}
	return &created, nil
}

func (r *NotificationRepository) ListPending(ctx context.Context, limit int) ([]models.Notification, error) {
	ctx, span := tracing.StartSpan(ctx, "NotificationRepository.ListPending")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(notificationColumns...)
	sb.From(notificationsTable)
	sb.Where(sb.Equal("status", models.NotificationPending))
	sb.OrderBy("created_at").Asc()
	sb.Limit(limit)
	query, args := sb.Build()

	items := []models.Notification{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &items, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("failed to list pending notifications")
		return nil, errors.Wrap(err, "failed to list pending notifications")
	}
	return items, nil
}

func (r *NotificationRepository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "NotificationRepository.MarkSent")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(notificationsTable)
	ub.Set(
		ub.Assign("status", models.NotificationSent),
		ub.Assign("sent_at", at),
		ub.Assign("updated_at", at),
	)
	ub.Where(ub.Equal("id", id))
	query, args := ub.Build()

	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to mark notification sent")
		return errors.Wrap(err, "failed to mark notification sent")
	}
	return nil
}

func (r *NotificationRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string, final bool, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "NotificationRepository.MarkFailed")
	defer span.End()

	status := models.NotificationPending
	if final {
		status = models.NotificationFailed
	}

	ub := database.NewUpdateBuilder()
	ub.Update(notificationsTable)
	ub.Set(
		ub.Assign("status", status),
		ub.Incr("retry_count"),
		ub.Assign("failed_reason", reason),
		ub.Assign("updated_at", at),
	)
	ub.Where(ub.Equal("id", id))
	query, args := ub.Build()

	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to mark notification failed")
		return errors.Wrap(err, "failed to mark notification failed")
	}
	return nil
}

func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	ctx, span := tracing.StartSpan(ctx, "NotificationRepository.GetByID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(notificationColumns...)
	sb.From(notificationsTable)
	sb.Where(sb.Equal("id", id))
	query, args := sb.Build()

	var n models.Notification
	if err := database.Conn(ctx, r.db).GetContext(ctx, &n, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("notification %s not found", id)
		}
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("failed to get notification")
		return nil, errors.Wrap(err, "failed to get notification")
	}
	return &n, nil
}

func applyNotificationFilter(sb *database.SelectBuilder, userID uuid.UUID, filter models.NotificationFilter) {
	sb.Where(sb.Equal("user_id", userID))
	if filter.Status != nil {
		sb.Where(sb.Equal("status", *filter.Status))
	}
	if filter.Template != "" {
		sb.Where(sb.Equal("template", filter.Template))
	}
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID uuid.UUID, filter models.NotificationFilter) ([]models.Notification, int, error) {
	ctx, span := tracing.StartSpan(ctx, "NotificationRepository.ListByUser")
	defer span.End()

	filter = filter.Normalize()
	conn := database.Conn(ctx, r.db)

	countSb := database.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From(notificationsTable)
	applyNotificationFilter(countSb, userID, filter)
	countQuery, countArgs := countSb.Build()

	var total int
	if err := conn.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("failed to count notifications")
		return nil, 0, errors.Wrap(err, "failed to count notifications")
	}

	sb := database.NewSelectBuilder()
	sb.Select(notificationColumns...)
	sb.From(notificationsTable)
	applyNotificationFilter(sb, userID, filter)
	sb.OrderBy("created_at").Desc()
	sb.Limit(filter.Limit)
	sb.Offset(filter.Offset())
	query, args := sb.Build()

	items := []models.Notification{}
	if err := conn.SelectContext(ctx, &items, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("failed to list notifications")
		return nil, 0, errors.Wrap(err, "failed to list notifications")
	}
	return items, total, nil
}

func (r *NotificationRepository) Retry(ctx context.Context, id uuid.UUID, at time.Time) (*models.Notification, error) {
	ctx, span := tracing.StartSpan(ctx, "NotificationRepository.Retry")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(notificationsTable)
	ub.Set(
		ub.Assign("status", models.NotificationPending),
		ub.Assign("retry_count", 0),
		ub.Assign("failed_reason", nil),
		ub.Assign("updated_at", at),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", models.NotificationFailed),
	)
	ub.Returning(notificationColumns...)
	query, args := ub.Build()

	var updated models.Notification
	err := database.Conn(ctx, r.db).GetContext(ctx, &updated, query, args...)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithField("notification_id", id).Error("failed to retry notification")
		return nil, errors.Wrap(err, "failed to retry notification")
	}
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, apperrors.Conflict("notification %s is not failed", id)
}

func (r *NotificationRepository) Counts(ctx context.Context, userID uuid.UUID) (models.NotificationStats, error) {
	ctx, span := tracing.StartSpan(ctx, "NotificationRepository.Counts")
	defer span.End()

	var stats models.NotificationStats
	rows, err := countGroups(ctx, r.db, notificationsTable, "status", func(sb *database.SelectBuilder) {
		sb.Where(sb.Equal("user_id", userID))
	})
	if err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("failed to count notifications")
		return stats, errors.Wrap(err, "failed to count notifications")
	}
	for _, row := range rows {
		stats.Add(models.NotificationStatus(row.Key), row.Count)
	}
	return stats, nil
}
