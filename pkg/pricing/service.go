package pricing

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/courier/pkg/database"
	apperrors "github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/repositories"
	"github.com/Ramsey-B/courier/pkg/tracing"
)

// RuleInput creates or patches a pricing rule. Nil fields are left unchanged
// on update and take defaults on create.
type RuleInput struct {
	BaseRateNational      *float64                       `json:"base_rate_national" validate:"omitempty,gte=0"`
	BaseRateInternational *float64                       `json:"base_rate_international" validate:"omitempty,gte=0"`
	WeightTiers           []models.WeightTier            `json:"weight_tiers" validate:"omitempty,dive"`
	DistanceZones         []models.DistanceZone          `json:"distance_zones" validate:"omitempty,dive"`
	TypeMultipliers       map[models.RequestType]float64 `json:"type_multipliers"`
	IsActive              *bool                          `json:"is_active"`
}

func (in RuleInput) validate() error {
	for _, tier := range in.WeightTiers {
		if tier.MinWeight < 0 || tier.PricePerKg < 0 || (tier.MaxWeight != nil && *tier.MaxWeight < tier.MinWeight) {
			return apperrors.Validation("invalid weight tier starting at %v", tier.MinWeight)
		}
	}
	for _, zone := range in.DistanceZones {
		if zone.MinDistance < 0 || zone.Multiplier <= 0 || (zone.MaxDistance != nil && *zone.MaxDistance < zone.MinDistance) {
			return apperrors.Validation("invalid distance zone starting at %v", zone.MinDistance)
		}
	}
	for requestType, multiplier := range in.TypeMultipliers {
		if !requestType.IsValid() {
			return apperrors.Validation("unknown request type %q in type multipliers", requestType)
		}
		if multiplier <= 0 {
			return apperrors.Validation("type multiplier for %s must be positive", requestType)
		}
	}
	return nil
}

func (in RuleInput) apply(rule *models.PricingRule) {
	if in.BaseRateNational != nil {
		rule.BaseRateNational = *in.BaseRateNational
	}
	if in.BaseRateInternational != nil {
		rule.BaseRateInternational = *in.BaseRateInternational
	}
	if in.WeightTiers != nil {
		rule.WeightTiers = database.NewJSONB(in.WeightTiers)
	}
	if in.DistanceZones != nil {
		rule.DistanceZones = database.NewJSONB(in.DistanceZones)
	}
	if in.TypeMultipliers != nil {
		rule.TypeMultipliers = database.NewJSONB(in.TypeMultipliers)
	}
}

type Service struct {
	tx     repositories.Transactor
	rules  repositories.PricingRuleRepo
	logger ectologger.Logger
}

func NewService(tx repositories.Transactor, rules repositories.PricingRuleRepo, logger ectologger.Logger) *Service {
	return &Service{tx: tx, rules: rules, logger: logger}
}

// ActiveRule returns the active rule, or the default rule when none is active.
func (s *Service) ActiveRule(ctx context.Context) (models.PricingRule, error) {
	rule, err := s.rules.GetActive(ctx)
	if apperrors.IsNotFound(err) {
		return models.DefaultPricingRule(), nil
	}
	if err != nil {
		return models.PricingRule{}, errors.Wrap(err, "failed to load active pricing rule")
	}
	return *rule, nil
}

func (s *Service) Quote(ctx context.Context, in Input) (models.QuoteBreakdown, error) {
	ctx, span := tracing.StartSpan(ctx, "PricingService.Quote")
	defer span.End()

	if err := in.Validate(); err != nil {
		return models.QuoteBreakdown{}, err
	}
	rule, err := s.ActiveRule(ctx)
	if err != nil {
		tracing.RecordError(span, err)
		return models.QuoteBreakdown{}, err
	}
	return Calculate(rule, in), nil
}

func requireAdmin(actor models.Actor) error {
	if !actor.Is(models.RoleAdmin) {
		return apperrors.Forbidden("only admins can manage pricing rules")
	}
	return nil
}

func (s *Service) ListRules(ctx context.Context, actor models.Actor) ([]models.PricingRule, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.rules.List(ctx)
}

// CreateRule stores a new rule, activating it in the same transaction when asked.
func (s *Service) CreateRule(ctx context.Context, actor models.Actor, in RuleInput) (*models.PricingRule, error) {
	ctx, span := tracing.StartSpan(ctx, "PricingService.CreateRule")
	defer span.End()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	rule := models.DefaultPricingRule()
	rule.ID = uuid.New()
	rule.CreatedBy = &actor.UserID
	in.apply(&rule)

	var created *models.PricingRule
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if created, err = s.rules.Create(ctx, &rule); err != nil {
			return err
		}
		if in.IsActive != nil && *in.IsActive {
			created, err = s.rules.Activate(ctx, created.ID)
		}
		return err
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"rule_id":   created.ID,
		"admin_id":  actor.UserID,
		"is_active": created.IsActive,
	}).Info("Pricing rule created")
	return created, nil
}

func (s *Service) UpdateRule(ctx context.Context, actor models.Actor, id uuid.UUID, in RuleInput) (*models.PricingRule, error) {
	ctx, span := tracing.StartSpan(ctx, "PricingService.UpdateRule")
	defer span.End()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	var updated *models.PricingRule
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		rule, err := s.rules.GetByID(ctx, id)
		if err != nil {
			return err
		}
		in.apply(rule)
		if updated, err = s.rules.Update(ctx, rule); err != nil {
			return err
		}
		if in.IsActive != nil && *in.IsActive && !updated.IsActive {
			updated, err = s.rules.Activate(ctx, id)
		}
		return err
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return updated, nil
}

func (s *Service) ActivateRule(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.PricingRule, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	rule, err := s.rules.Activate(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).Infof("Pricing rule %s activated by %s", id, actor.UserID)
	return rule, nil
}

func (s *Service) DeleteRule(ctx context.Context, actor models.Actor, id uuid.UUID) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	return s.rules.Delete(ctx, id)
}
