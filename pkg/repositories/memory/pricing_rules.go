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

type PricingRuleRepository struct {
	s *Store
}

func (r *PricingRuleRepository) GetActive(ctx context.Context) (*models.PricingRule, error) {
	var active []models.PricingRule
	r.s.read(ctx, func() {
		active = ectolinq.Filter(ectolinq.Values(r.s.rules), func(rule models.PricingRule) bool {
			return rule.IsActive
		})
	})
	if len(active) == 0 {
		return nil, apperrors.NotFound("no active pricing rule")
	}
	return &active[0], nil
}

func (r *PricingRuleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PricingRule, error) {
	var (
		rule models.PricingRule
		ok   bool
	)
	r.s.read(ctx, func() {
		rule, ok = r.s.rules[id]
	})
	if !ok {
		return nil, apperrors.NotFound("pricing rule %s not found", id)
	}
	return &rule, nil
}

func (r *PricingRuleRepository) List(ctx context.Context) ([]models.PricingRule, error) {
	var rules []models.PricingRule
	r.s.read(ctx, func() {
		rules = ectolinq.Values(r.s.rules)
	})
	slices.SortFunc(rules, func(a, b models.PricingRule) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if rules == nil {
		rules = []models.PricingRule{}
	}
	return rules, nil
}

func (r *PricingRuleRepository) Create(ctx context.Context, rule *models.PricingRule) (*models.PricingRule, error) {
	var created models.PricingRule
	err := r.s.write(ctx, func() error {
		if _, ok := r.s.rules[rule.ID]; ok {
			return apperrors.Conflict("pricing rule %s already exists", rule.ID)
		}
		now := time.Now().UTC()
		created = *rule
		created.IsActive = false
		created.CreatedAt = now
		created.UpdatedAt = now
		r.s.rules[rule.ID] = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *PricingRuleRepository) Update(ctx context.Context, rule *models.PricingRule) (*models.PricingRule, error) {
	var updated models.PricingRule
	err := r.s.write(ctx, func() error {
		current, ok := r.s.rules[rule.ID]
		if !ok {
			return apperrors.NotFound("pricing rule %s not found", rule.ID)
		}
		current.BaseRateNational = rule.BaseRateNational
		current.BaseRateInternational = rule.BaseRateInternational
		current.WeightTiers = rule.WeightTiers
		current.DistanceZones = rule.DistanceZones
		current.TypeMultipliers = rule.TypeMultipliers
		current.UpdatedAt = time.Now().UTC()
		r.s.rules[rule.ID] = current
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *PricingRuleRepository) Activate(ctx context.Context, id uuid.UUID) (*models.PricingRule, error) {
	var activated models.PricingRule
	err := r.s.write(ctx, func() error {
		target, ok := r.s.rules[id]
		if !ok {
			return apperrors.NotFound("pricing rule %s not found", id)
		}
		now := time.Now().UTC()
		for ruleID, rule := range r.s.rules {
			if rule.IsActive && ruleID != id {
				rule.IsActive = false
				rule.UpdatedAt = now
				r.s.rules[ruleID] = rule
			}
		}
		target.IsActive = true
		target.UpdatedAt = now
		r.s.rules[id] = target
		activated = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &activated, nil
}

func (r *PricingRuleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.s.write(ctx, func() error {
		rule, ok := r.s.rules[id]
		if !ok {
			return apperrors.NotFound("pricing rule %s not found", id)
		}
		if rule.IsActive {
			return apperrors.Conflict("cannot delete the active pricing rule")
		}
		delete(r.s.rules, id)
		return nil
	})
}
