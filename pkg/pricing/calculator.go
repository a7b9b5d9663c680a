// Package pricing quotes deliveries from the active pricing rule.
package pricing

import (
	"github.com/Gobusters/ectolinq"

	apperrors "github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/models"
)

// Input describes the delivery being priced. Distance is in kilometres and
// weight in kilograms per item.
type Input struct {
	Weight       float64             `json:"weight" validate:"gte=0"`
	Distance     float64             `json:"distance" validate:"gte=0"`
	ShippingType models.ShippingType `json:"shipping_type" validate:"required"`
	RequestType  models.RequestType  `json:"request_type" validate:"required"`
	Quantity     int                 `json:"quantity" validate:"gte=0"`
}

func (in Input) Validate() error {
	if in.Weight < 0 || in.Distance < 0 {
		return apperrors.Validation("weight and distance must not be negative")
	}
	if !in.ShippingType.IsValid() {
		return apperrors.Validation("invalid shipping type %q", in.ShippingType)
	}
	if !in.RequestType.IsValid() {
		return apperrors.Validation("invalid request type %q", in.RequestType)
	}
	if in.Quantity < 0 {
		return apperrors.Validation("quantity must not be negative")
	}
	return nil
}

// Calculate prices in against rule. The base rate follows the shipping type,
// the weight tier price applies per item, a distance zone scales the base
// rate and the request type multiplier scales the subtotal. Only the total
// is rounded.
func Calculate(rule models.PricingRule, in Input) models.QuoteBreakdown {
	quantity := in.Quantity
	if quantity < 1 {
		quantity = 1
	}

	base := rule.BaseRateNational
	if in.ShippingType == models.ShippingInternational {
		base = rule.BaseRateInternational
	}

	weightCost := 0.0
	if tiers := ectolinq.Filter(rule.WeightTiers.Data, func(t models.WeightTier) bool { return t.Contains(in.Weight) }); len(tiers) > 0 {
		weightCost = tiers[0].PricePerKg * in.Weight * float64(quantity)
	}

	distanceCost := 0.0
	if zones := ectolinq.Filter(rule.DistanceZones.Data, func(z models.DistanceZone) bool { return z.Contains(in.Distance) }); len(zones) > 0 {
		distanceCost = base*zones[0].Multiplier - base
	}

	multiplier := 1.0
	if m, ok := rule.TypeMultipliers.Data[in.RequestType]; ok && m > 0 {
		multiplier = m
	}

	subtotal := base + weightCost + distanceCost
	return models.QuoteBreakdown{
		BaseCost:       base,
		WeightCost:     weightCost,
		DistanceCost:   distanceCost,
		TypeMultiplier: multiplier,
		Subtotal:       subtotal,
		Total:          models.RoundCurrency(subtotal * multiplier),
	}
}
