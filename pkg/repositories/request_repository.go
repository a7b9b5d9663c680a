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

const requestsTable = "requests"

var requestColumns = []string{
	"id", "customer_id", "claimed_by_agent_id", "type", "source",
	"product_name", "product_description", "product_url", "product_images",
	"weight", "quantity", "shipping_type", "pickup_location", "delivery_location",
	"preferred_contact_method", "customer_phone", "notes",
	"payment_method", "payment_proof", "status", "claimed_at", "completed_at",
	"cancelled_reason", "version", "created_at", "updated_at", "deleted_at",
}

type RequestRepository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRequestRepository(db database.DB, logger ectologger.Logger) *RequestRepository {
	return &RequestRepository{
		db:     db,
		logger: logger,
	}
}

func (r *RequestRepository) Create(ctx context.Context, req *models.Request) (*models.Request, error) {
	ctx, span := tracing.StartSpan(ctx, "RequestRepository.Create")
	defer span.End()

	ib := database.NewInsertBuilder().
		InsertInto(requestsTable).
		Cols(
			"id", "customer_id", "type", "source", "product_name", "product_description",
			"product_url", "product_images", "weight", "quantity", "shipping_type",
			"pickup_location", "delivery_location", "preferred_contact_method",
			"customer_phone", "notes", "status", "version", "created_at", "updated_at",
		).
		Values(
			req.ID, req.CustomerID, req.Type, req.Source, req.ProductName, req.ProductDescription,
			req.ProductURL, req.ProductImages, req.Weight, req.Quantity, req.ShippingType,
			req.PickupLocation, req.DeliveryLocation, req.PreferredContactMethod,
			req.CustomerPhone, req.Notes, req.Status, req.Version, req.CreatedAt, req.UpdatedAt,
		).
		Returning(requestColumns...)

	query, args := ib.Build()

	var created models.Request
	if err := database.Conn(ctx, r.db).GetContext(ctx, &created, query, args...); err != nil {
		tracing.RecordError(span, err)
		if database.IsUniqueViolation(err) {
			return nil, apperrors.Conflict("request %s already exists", req.ID)
		}
		if database.IsForeignKeyViolation(err) {
			return nil, apperrors.Validation("customer %s does not exist", req.CustomerID)
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to create request")
		return nil, errors.Wrap(err, "failed to create request")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"request_id":  created.ID,
		"customer_id": created.CustomerID,
	}).Info("created request")

	return &created, nil
}

func (r *RequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	ctx, span := tracing.StartSpan(ctx, "RequestRepository.GetByID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(requestColumns...)
	sb.From(requestsTable)
	sb.Where(
		sb.Equal("id", id),
		sb.IsNull("deleted_at"),
	)
	query, args := sb.Build()

	var req models.Request
	if err := database.Conn(ctx, r.db).GetContext(ctx, &req, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("request %s not found", id)
		}
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("failed to get request")
		return nil, errors.Wrap(err, "failed to get request")
	}

	return &req, nil
}

func (r *RequestRepository) visibility(sb *database.SelectBuilder, actor models.Actor) {
	sb.Where(sb.IsNull("deleted_at"))
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleCustomer:
		sb.Where(sb.Equal("customer_id", actor.UserID))
	case models.RoleAgent:
		sb.Where(sb.Or(
			sb.Equal("status", models.StatusPending),
			sb.Equal("claimed_by_agent_id", actor.UserID),
		))
	default:
		sb.Where("FALSE")
	}
}

func applyRequestFilter(sb *database.SelectBuilder, filter models.RequestFilter) {
	if filter.Status != nil {
		sb.Where(sb.Equal("status", *filter.Status))
	}
	if filter.Type != nil {
		sb.Where(sb.Equal("type", *filter.Type))
	}
	if filter.ShippingType != nil {
		sb.Where(sb.Equal("shipping_type", *filter.ShippingType))
	}
}

func (r *RequestRepository) List(ctx context.Context, actor models.Actor, filter models.RequestFilter) ([]models.Request, int, error) {
	ctx, span := tracing.StartSpan(ctx, "RequestRepository.List")
	defer span.End()

	filter = filter.Normalize()
	conn := database.Conn(ctx, r.db)

	countSb := database.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From(requestsTable)
	r.visibility(countSb, actor)
	applyRequestFilter(countSb, filter)
	countQuery, countArgs := countSb.Build()

	var total int
	if err := conn.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("failed to count requests")
		return nil, 0, errors.Wrap(err, "failed to count requests")
	}

	sb := database.NewSelectBuilder()
	sb.Select(requestColumns...)
	sb.From(requestsTable)
	r.visibility(sb, actor)
	applyRequestFilter(sb, filter)
	sb.OrderBy("created_at").Desc()
	sb.Limit(filter.Limit)
	sb.Offset(filter.Offset())
	query, args := sb.Build()

	items := []models.Request{}
	if err := conn.SelectContext(ctx, &items, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("failed to list requests")
		return nil, 0, errors.Wrap(err, "failed to list requests")
	}

	return items, total, nil
}

func (r *RequestRepository) UpdateDetails(ctx context.Context, id, customerID uuid.UUID, details models.RequestDetails, at time.Time) (*models.Request, error) {
	ctx, span := tracing.StartSpan(ctx, "RequestRepository.UpdateDetails")
	defer span.End()

	var next models.Request
	details.Apply(&next)

	ub := database.NewUpdateBuilder()
	ub.Update(requestsTable)
	ub.Set(
		ub.Assign("type", next.Type),
		ub.Assign("source", next.Source),
		ub.Assign("product_name", next.ProductName),
		ub.Assign("product_description", next.ProductDescription),
		ub.Assign("product_url", next.ProductURL),
		ub.Assign("product_images", next.ProductImages),
		ub.Assign("weight", next.Weight),
		ub.Assign("quantity", next.Quantity),
		ub.Assign("shipping_type", next.ShippingType),
		ub.Assign("pickup_location", next.PickupLocation),
		ub.Assign("delivery_location", next.DeliveryLocation),
		ub.Assign("preferred_contact_method", next.PreferredContactMethod),
		ub.Assign("customer_phone", next.CustomerPhone),
		ub.Assign("notes", next.Notes),
		ub.Assign("updated_at", at),
		ub.Incr("version"),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("customer_id", customerID),
		ub.Equal("status", models.StatusPending),
		ub.IsNull("claimed_by_agent_id"),
		ub.IsNull("deleted_at"),
	)
	ub.Returning(requestColumns...)

	return r.conditionalUpdate(ctx, "update", id, ub)
}

func (r *RequestRepository) Claim(ctx context.Context, id, agentID uuid.UUID, at time.Time) (*models.Request, error) {
	ctx, span := tracing.StartSpan(ctx, "RequestRepository.Claim")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(requestsTable)
	ub.Set(
		ub.Assign("claimed_by_agent_id", agentID),
		ub.Assign("status", models.StatusClaimed),
		ub.Assign("claimed_at", at),
		ub.Assign("updated_at", at),
		ub.Incr("version"),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", models.StatusPending),
		ub.IsNull("claimed_by_agent_id"),
		ub.IsNull("deleted_at"),
	)
	ub.Returning(requestColumns...)

	return r.conditionalUpdate(ctx, "claim", id, ub)
}

func (r *RequestRepository) Unclaim(ctx context.Context, id, agentID uuid.UUID, at time.Time) (*models.Request, error) {
	ctx, span := tracing.StartSpan(ctx, "RequestRepository.Unclaim")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(requestsTable)
	ub.Set(
		ub.Assign("claimed_by_agent_id", nil),
		ub.Assign("claimed_at", nil),
		ub.Assign("status", models.StatusPending),
		ub.Assign("updated_at", at),
		ub.Incr("version"),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", models.StatusClaimed),
		ub.Equal("claimed_by_agent_id", agentID),
		ub.IsNull("deleted_at"),
	)
	ub.Returning(requestColumns...)

	return r.conditionalUpdate(ctx, "unclaim", id, ub)
}

func (r *RequestRepository) Transition(ctx context.Context, id uuid.UUID, expected models.TransitionCondition, change models.TransitionChange, at time.Time) (*models.Request, error) {
	ctx, span := tracing.StartSpan(ctx, "RequestRepository.Transition")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(requestsTable)
	ub.Set(
		ub.Assign("status", change.Status),
		ub.Assign("updated_at", at),
		ub.Incr("version"),
	)
	if change.ClearClaim {
		ub.SetMore(ub.Assign("claimed_by_agent_id", nil), ub.Assign("claimed_at", nil))
	}
	if change.CompletedAt != nil {
		ub.SetMore(ub.Assign("completed_at", *change.CompletedAt))
	}
	if change.CancelledReason != nil {
		ub.SetMore(ub.Assign("cancelled_reason", *change.CancelledReason))
	}
	if change.PaymentMethod != nil {
		ub.SetMore(ub.Assign("payment_method", *change.PaymentMethod))
	}
	if change.PaymentProof != nil {
		ub.SetMore(ub.Assign("payment_proof", *change.PaymentProof))
	}

	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", expected.Status),
		ub.IsNull("deleted_at"),
	)
	if expected.Version > 0 {
		ub.Where(ub.Equal("version", expected.Version))
	}
	if expected.AgentID != nil {
		ub.Where(ub.Equal("claimed_by_agent_id", *expected.AgentID))
	}
	ub.Returning(requestColumns...)

	return r.conditionalUpdate(ctx, "transition", id, ub)
}

func (r *RequestRepository) SoftDelete(ctx context.Context, id uuid.UUID, expected models.TransitionCondition, at time.Time) (*models.Request, error) {
	ctx, span := tracing.StartSpan(ctx, "RequestRepository.SoftDelete")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(requestsTable)
	ub.Set(
		ub.Assign("deleted_at", at),
		ub.Assign("updated_at", at),
		ub.Incr("version"),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", expected.Status),
		ub.IsNull("deleted_at"),
	)
	if expected.Version > 0 {
		ub.Where(ub.Equal("version", expected.Version))
	}
	ub.Returning(requestColumns...)

	return r.conditionalUpdate(ctx, "delete", id, ub)
}

// conditionalUpdate runs a guarded UPDATE ... RETURNING. Zero rows means the
// guard failed: the row is either gone or was changed underneath us.
func (r *RequestRepository) conditionalUpdate(ctx context.Context, op string, id uuid.UUID, ub *database.UpdateBuilder) (*models.Request, error) {
	query, args := ub.Build()
	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"request_id": id,
		"operation":  op,
	})

	var updated models.Request
	err := database.Conn(ctx, r.db).GetContext(ctx, &updated, query, args...)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		log.WithError(err).Error("failed to update request")
		return nil, errors.Wrapf(err, "failed to %s request", op)
	}

	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	log.Debugf("conditional %s update matched no rows", op)
	return nil, apperrors.Conflict("request %s was modified concurrently", id)
}

func (r *RequestRepository) Counts(ctx context.Context, since time.Time) (models.RequestCounts, error) {
	ctx, span := tracing.StartSpan(ctx, "RequestRepository.Counts")
	defer span.End()

	counts := models.NewRequestCounts()
	live := func(sb *database.SelectBuilder) {
		sb.Where(sb.IsNull("deleted_at"))
	}

	rows, err := countGroups(ctx, r.db, requestsTable, "status", live)
	if err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("failed to count requests by status")
		return counts, errors.Wrap(err, "failed to count requests by status")
	}
	for _, row := range rows {
		counts.ByStatus[models.RequestStatus(row.Key)] = row.Count
		counts.Total += row.Count
	}

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From(requestsTable)
	live(sb)
	sb.Where(sb.GreaterEqualThan("created_at", since))
	query, args := sb.Build()

	if err := database.Conn(ctx, r.db).GetContext(ctx, &counts.Recent, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("failed to count recent requests")
		return counts, errors.Wrap(err, "failed to count recent requests")
	}
	return counts, nil
}
