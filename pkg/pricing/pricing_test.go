package pricing_test

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/courier/pkg/database"
	apperrors "github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/pricing"
	"github.com/Ramsey-B/courier/pkg/repositories/memory"
)

func ptr[T any](v T) *T {
	return &v
}

func sampleRule() models.PricingRule {
	rule := models.DefaultPricingRule()
	rule.WeightTiers = database.NewJSONB([]models.WeightTier{
		{MinWeight: 0, MaxWeight: ptr(5.0), PricePerKg: 2},
		{MinWeight: 5, PricePerKg: 1.5},
	})
	rule.DistanceZones = database.NewJSONB([]models.DistanceZone{
		{MinDistance: 0, MaxDistance: ptr(100.0), Multiplier: 1},
		{MinDistance: 100, Multiplier: 1.5},
	})
	rule.TypeMultipliers = database.NewJSONB(map[models.RequestType]float64{
		models.RequestTypeDocument: 0.8,
		models.RequestTypeCustom:   1.25,
	})
	return rule
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name string
		rule models.PricingRule
		in   pricing.Input
		want models.QuoteBreakdown
	}{
		{
			name: "default rule national",
			rule: models.DefaultPricingRule(),
			in:   pricing.Input{Weight: 3, Distance: 10, ShippingType: models.ShippingNational, RequestType: models.RequestTypePackage},
			want: models.QuoteBreakdown{BaseCost: 10, TypeMultiplier: 1, Subtotal: 10, Total: 10},
		},
		{
			name: "default rule international",
			rule: models.DefaultPricingRule(),
			in:   pricing.Input{ShippingType: models.ShippingInternational, RequestType: models.RequestTypePackage},
			want: models.QuoteBreakdown{BaseCost: 30, TypeMultiplier: 1, Subtotal: 30, Total: 30},
		},
		{
			name: "weight tier applies per item",
			rule: sampleRule(),
			in:   pricing.Input{Weight: 2, Distance: 50, ShippingType: models.ShippingNational, RequestType: models.RequestTypePackage, Quantity: 3},
			want: models.QuoteBreakdown{BaseCost: 10, WeightCost: 12, TypeMultiplier: 1, Subtotal: 22, Total: 22},
		},
		{
			name: "far zone scales base and type multiplier scales subtotal",
			rule: sampleRule(),
			in:   pricing.Input{Weight: 10, Distance: 250, ShippingType: models.ShippingNational, RequestType: models.RequestTypeCustom},
			want: models.QuoteBreakdown{BaseCost: 10, WeightCost: 15, DistanceCost: 5, TypeMultiplier: 1.25, Subtotal: 30, Total: 37.5},
		},
		{
			name: "total rounded to cents",
			rule: sampleRule(),
			in:   pricing.Input{Weight: 1.333, Distance: 0, ShippingType: models.ShippingNational, RequestType: models.RequestTypeDocument},
			want: models.QuoteBreakdown{BaseCost: 10, WeightCost: 2.666, TypeMultiplier: 0.8, Subtotal: 12.666, Total: 10.13},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pricing.Calculate(tt.rule, tt.in)
			assert.InDelta(t, tt.want.BaseCost, got.BaseCost, 1e-9)
			assert.InDelta(t, tt.want.WeightCost, got.WeightCost, 1e-9)
			assert.InDelta(t, tt.want.DistanceCost, got.DistanceCost, 1e-9)
			assert.InDelta(t, tt.want.TypeMultiplier, got.TypeMultiplier, 1e-9)
			assert.InDelta(t, tt.want.Subtotal, got.Subtotal, 1e-9)
			assert.Equal(t, tt.want.Total, got.Total)
		})
	}
}

func TestInputValidate(t *testing.T) {
	valid := pricing.Input{ShippingType: models.ShippingNational, RequestType: models.RequestTypePackage}
	assert.NoError(t, valid.Validate())

	for name, in := range map[string]pricing.Input{
		"negative weight": {Weight: -1, ShippingType: models.ShippingNational, RequestType: models.RequestTypePackage},
		"bad shipping":    {ShippingType: "air", RequestType: models.RequestTypePackage},
		"bad type":        {ShippingType: models.ShippingNational, RequestType: "pets"},
	} {
		t.Run(name, func(t *testing.T) {
			assert.True(t, apperrors.IsValidation(in.Validate()))
		})
	}
}

func newService() *pricing.Service {
	store := memory.NewStore().Repositories()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return pricing.NewService(store.Transactor, store.PricingRules, logger)
}

func TestServiceRuleManagement(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	admin := models.Actor{UserID: uuid.New(), Role: models.RoleAdmin}
	agent := models.Actor{UserID: uuid.New(), Role: models.RoleAgent}
	in := pricing.Input{Weight: 2, ShippingType: models.ShippingNational, RequestType: models.RequestTypePackage}

	quote, err := svc.Quote(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 10.0, quote.Total, "falls back to the default rule")

	_, err = svc.CreateRule(ctx, agent, pricing.RuleInput{})
	assert.True(t, apperrors.IsForbidden(err))

	_, err = svc.CreateRule(ctx, admin, pricing.RuleInput{TypeMultipliers: map[models.RequestType]float64{"pets": 2}})
	assert.True(t, apperrors.IsValidation(err))

	first, err := svc.CreateRule(ctx, admin, pricing.RuleInput{
		BaseRateNational: ptr(12.0),
		WeightTiers:      []models.WeightTier{{MinWeight: 0, PricePerKg: 1}},
		IsActive:         ptr(true),
	})
	require.NoError(t, err)
	assert.True(t, first.IsActive)
	assert.Equal(t, 30.0, first.BaseRateInternational, "unset fields take defaults")
	require.NotNil(t, first.CreatedBy)
	assert.Equal(t, admin.UserID, *first.CreatedBy)

	quote, err = svc.Quote(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 14.0, quote.Total)

	second, err := svc.CreateRule(ctx, admin, pricing.RuleInput{BaseRateNational: ptr(20.0)})
	require.NoError(t, err)
	assert.False(t, second.IsActive)

	updated, err := svc.UpdateRule(ctx, admin, second.ID, pricing.RuleInput{IsActive: ptr(true)})
	require.NoError(t, err)
	assert.True(t, updated.IsActive)
	assert.Equal(t, 20.0, updated.BaseRateNational)

	rules, err := svc.ListRules(ctx, admin)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	active := 0
	for _, r := range rules {
		if r.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)

	err = svc.DeleteRule(ctx, admin, second.ID)
	assert.True(t, apperrors.IsConflict(err), "active rule cannot be deleted")

	_, err = svc.ActivateRule(ctx, admin, first.ID)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteRule(ctx, admin, second.ID))

	_, err = svc.ListRules(ctx, agent)
	assert.True(t, apperrors.IsForbidden(err))
}
