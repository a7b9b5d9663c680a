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

const resolutionsTable = "resolutions"

var resolutionColumns = []string{
	"id", "request_id", "agent_id", "quote_breakdown", "estimated_delivery_days",
	"notes", "internal_notes", "status", "customer_response_notes", "responded_at",
	"created_at", "updated_at",
}

type ResolutionRepository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewResolutionRepository(db database.DB, logger ectologger.Logger) *ResolutionRepository {
	return &ResolutionRepository{
		db:     db,
		logger: logger,
	}
}

func (r *ResolutionRepository) Create(ctx context.Context, res *models.Resolution) (*models.Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "ResolutionRepository.Create")
	defer span.End()

	ib := database.NewInsertBuilder().
		InsertInto(resolutionsTable).
		Cols(
			"id", "request_id", "agent_id", "quote_breakdown", "estimated_delivery_days",
			"notes", "internal_notes", "status", "created_at", "updated_at",
		).
		Values(
			res.ID, res.RequestID, res.AgentID, res.QuoteBreakdown, res.EstimatedDeliveryDays,
			res.Notes, res.InternalNotes, res.Status, res.CreatedAt, res.UpdatedAt,
		).
		Returning(resolutionColumns...)
	query, args := ib.Build()

	var created models.Resolution
	if err := database.Conn(ctx, r.db).GetContext(ctx, &created, query, args...); err != nil {
		tracing.RecordError(span, err)
		if database.IsUniqueViolation(err) {
			return nil, apperrors.Conflict("request %s already has a pending resolution", res.RequestID)
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to create resolution")
		return nil, errors.Wrap(err, "failed to create resolution")
	}

	return &created, nil
}

func (r *ResolutionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "ResolutionRepository.GetByID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(resolutionColumns...)
	sb.From(resolutionsTable)
	sb.Where(sb.Equal("id", id))
	query, args := sb.Build()

	var res models.Resolution
	if err := database.Conn(ctx, r.db).GetContext(ctx, &res, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("resolution %s not found", id)
		}
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("failed to get resolution")
		return nil, errors.Wrap(err, "failed to get resolution")
	}
	return &res, nil
}

func (r *ResolutionRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]models.Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "ResolutionRepository.ListByRequest")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(resolutionColumns...)
	sb.From(resolutionsTable)
	sb.Where(sb.Equal("request_id", requestID))
	sb.OrderBy("created_at").Desc()
	query, args := sb.Build()

	items := []models.Resolution{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &items, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("failed to list resolutions")
		return nil, errors.Wrap(err, "failed to list resolutions")
	}
	return items, nil
}

func (r *ResolutionRepository) Update(ctx context.Context, res *models.Resolution, at time.Time) (*models.Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "ResolutionRepository.Update")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(resolutionsTable)
	ub.Set(
		ub.Assign("quote_breakdown", res.QuoteBreakdown),
		ub.Assign("estimated_delivery_days", res.EstimatedDeliveryDays),
		ub.Assign("notes", res.Notes),
		ub.Assign("internal_notes", res.InternalNotes),
		ub.Assign("updated_at", at),
	)
	ub.Where(
		ub.Equal("id", res.ID),
		ub.Equal("agent_id", res.AgentID),
		ub.Equal("status", models.ResolutionPending),
	)
	ub.Returning(resolutionColumns...)

	return r.conditionalUpdate(ctx, "update", res.ID, ub)
}

func (r *ResolutionRepository) Respond(ctx context.Context, id uuid.UUID, status models.ResolutionStatus, notes *string, at time.Time) (*models.Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "ResolutionRepository.Respond")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(resolutionsTable)
	ub.Set(
		ub.Assign("status", status),
		ub.Assign("customer_response_notes", notes),
		ub.Assign("responded_at", at),
		ub.Assign("updated_at", at),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", models.ResolutionPending),
	)
	ub.Returning(resolutionColumns...)

	return r.conditionalUpdate(ctx, "respond", id, ub)
}

func (r *ResolutionRepository) conditionalUpdate(ctx context.Context, op string, id uuid.UUID, ub *database.UpdateBuilder) (*models.Resolution, error) {
	query, args := ub.Build()

	var updated models.Resolution
	err := database.Conn(ctx, r.db).GetContext(ctx, &updated, query, args...)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		r.logger.WithContext(ctx).WithError(err).WithField("resolution_id", id).Errorf("failed to %s resolution", op)
		return nil, errors.Wrapf(err, "failed to %s resolution", op)
	}
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, apperrors.Conflict("resolution %s was modified concurrently", id)
}

func (r *ResolutionRepository) Counts(ctx context.Context) (models.ResolutionCounts, error) {
	ctx, span := tracing.StartSpan(ctx, "ResolutionRepository.Counts")
	defer span.End()

	var counts models.ResolutionCounts
	rows, err := countGroups(ctx, r.db, resolutionsTable, "status", nil)
	if err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("failed to count resolutions")
		return counts, errors.Wrap(err, "failed to count resolutions")
	}
	for _, row := range rows {
		counts.Add(models.ResolutionStatus(row.Key), row.Count)
	}
	return counts, nil
}
