package repositories

import (
	"context"
	"database/sql"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/courier/pkg/database"
	apperrors "github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/tracing"
)

const pricingRulesTable = "pricing_rules"

var pricingRuleColumns = []string{
	"id", "base_rate_national", "base_rate_international", "weight_tiers",
	"distance_zones", "type_multipliers", "is_active", "created_by",
	"created_at", "updated_at",
}

type PricingRuleRepository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewPricingRuleRepository(db database.DB, logger ectologger.Logger) *PricingRuleRepository {
	return &PricingRuleRepository{
		db:     db,
		logger: logger,
	}
}

func (r *PricingRuleRepository) get(ctx context.Context, sb *database.SelectBuilder, notFound string) (*models.PricingRule, error) {
	query, args := sb.Build()

	var rule models.PricingRule
	if err := database.Conn(ctx, r.db).GetContext(ctx, &rule, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("%s", notFound)
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get pricing rule")
		return nil, errors.Wrap(err, "failed to get pricing rule")
	}
	return &rule, nil
}

func (r *PricingRuleRepository) GetActive(ctx context.Context) (*models.PricingRule, error) {
	ctx, span := tracing.StartSpan(ctx, "PricingRuleRepository.GetActive")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(pricingRuleColumns...)
	sb.From(pricingRulesTable)
	sb.Where(sb.Equal("is_active", true))
	sb.Limit(1)

	return r.get(ctx, sb, "no active pricing rule")
}

func (r *PricingRuleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PricingRule, error) {
	ctx, span := tracing.StartSpan(ctx, "PricingRuleRepository.GetByID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(pricingRuleColumns...)
	sb.From(pricingRulesTable)
	sb.Where(sb.Equal("id", id))

	return r.get(ctx, sb, "pricing rule "+id.String()+" not found")
}

func (r *PricingRuleRepository) List(ctx context.Context) ([]models.PricingRule, error) {
	ctx, span := tracing.StartSpan(ctx, "PricingRuleRepository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(pricingRuleColumns...)
	sb.From(pricingRulesTable)
	sb.OrderBy("created_at").Desc()
	query, args := sb.Build()

	rules := []models.PricingRule{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rules, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list pricing rules")
		return nil, errors.Wrap(err, "failed to list pricing rules")
	}
	return rules, nil
}

// Create inserts the rule inactive; activation goes through Activate.
func (r *PricingRuleRepository) Create(ctx context.Context, rule *models.PricingRule) (*models.PricingRule, error) {
	ctx, span := tracing.StartSpan(ctx, "PricingRuleRepository.Create")
	defer span.End()

	ib := database.NewInsertBuilder().
		InsertInto(pricingRulesTable).
		Cols(
			"id", "base_rate_national", "base_rate_international", "weight_tiers",
			"distance_zones", "type_multipliers", "is_active", "created_by",
			"created_at", "updated_at",
		).
		Values(
			rule.ID, rule.BaseRateNational, rule.BaseRateInternational, rule.WeightTiers,
			rule.DistanceZones, rule.TypeMultipliers, false, rule.CreatedBy,
			database.Now(), database.Now(),
		).
		Returning(pricingRuleColumns...)
	query, args := ib.Build()

	var created models.PricingRule
	if err := database.Conn(ctx, r.db).GetContext(ctx, &created, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create pricing rule")
		return nil, errors.Wrap(err, "failed to create pricing rule")
	}
	return &created, nil
}

func (r *PricingRuleRepository) Update(ctx context.Context, rule *models.PricingRule) (*models.PricingRule, error) {
	ctx, span := tracing.StartSpan(ctx, "PricingRuleRepository.Update")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(pricingRulesTable)
	ub.Set(
		ub.Assign("base_rate_national", rule.BaseRateNational),
		ub.Assign("base_rate_international", rule.BaseRateInternational),
		ub.Assign("weight_tiers", rule.WeightTiers),
		ub.Assign("distance_zones", rule.DistanceZones),
		ub.Assign("type_multipliers", rule.TypeMultipliers),
		ub.Assign("updated_at", database.Now()),
	)
	ub.Where(ub.Equal("id", rule.ID))
	ub.Returning(pricingRuleColumns...)
	query, args := ub.Build()

	var updated models.PricingRule
	if err := database.Conn(ctx, r.db).GetContext(ctx, &updated, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("pricing rule %s not found", rule.ID)
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to update pricing rule")
		return nil, errors.Wrap(err, "failed to update pricing rule")
	}
	return &updated, nil
}

// Activate must run inside a transaction so the partial unique index on
// is_active never sees two active rules.
func (r *PricingRuleRepository) Activate(ctx context.Context, id uuid.UUID) (*models.PricingRule, error) {
	ctx, span := tracing.StartSpan(ctx, "PricingRuleRepository.Activate")
	defer span.End()

	var activated *models.PricingRule
	err := database.InTx(ctx, r.db, func(ctx context.Context) error {
		conn := database.Conn(ctx, r.db)
		if _, err := conn.ExecContext(ctx, `UPDATE pricing_rules SET is_active = FALSE, updated_at = NOW() WHERE is_active AND id <> $1`, id); err != nil {
			return errors.Wrap(err, "failed to deactivate pricing rules")
		}

		ub := database.NewUpdateBuilder()
		ub.Update(pricingRulesTable)
		ub.Set(
			ub.Assign("is_active", true),
			ub.Assign("updated_at", database.Now()),
		)
		ub.Where(ub.Equal("id", id))
		ub.Returning(pricingRuleColumns...)
		query, args := ub.Build()

		var rule models.PricingRule
		if err := conn.GetContext(ctx, &rule, query, args...); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.NotFound("pricing rule %s not found", id)
			}
			return errors.Wrap(err, "failed to activate pricing rule")
		}
		activated = &rule
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	r.logger.WithContext(ctx).WithField("pricing_rule_id", id).Info("activated pricing rule")
	return activated, nil
}

func (r *PricingRuleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "PricingRuleRepository.Delete")
	defer span.End()

	rule, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rule.IsActive {
		return apperrors.Conflict("cannot delete the active pricing rule")
	}

	del := database.NewDeleteBuilder()
	del.DeleteFrom(pricingRulesTable)
	del.Where(del.Equal("id", id), del.Equal("is_active", false))
	query, args := del.Build()

	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to delete pricing rule")
		return errors.Wrap(err, "failed to delete pricing rule")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Conflict("pricing rule %s changed while deleting", id)
	}
	return nil
}
