package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/courier/pkg/database"
)

const (
	DefaultBaseRateNational      = 10.0
	DefaultBaseRateInternational = 30.0
)

type WeightTier struct {
	MinWeight  float64  `json:"min_weight" validate:"gte=0"`
	MaxWeight  *float64 `json:"max_weight,omitempty"`
	PricePerKg float64  `json:"price_per_kg" validate:"gte=0"`
}

// Contains reports whether w falls in the tier. A nil MaxWeight is unbounded.
func (t WeightTier) Contains(w float64) bool {
	return t.MinWeight <= w && (t.MaxWeight == nil || w <= *t.MaxWeight)
}

type DistanceZone struct {
	MinDistance float64  `json:"min_distance" validate:"gte=0"`
	MaxDistance *float64 `json:"max_distance,omitempty"`
	Multiplier  float64  `json:"multiplier" validate:"gt=0"`
}

func (z DistanceZone) Contains(d float64) bool {
	return z.MinDistance <= d && (z.MaxDistance == nil || d <= *z.MaxDistance)
}

type PricingRule struct {
	ID                    uuid.UUID                               `db:"id" json:"id"`
	BaseRateNational      float64                                 `db:"base_rate_national" json:"base_rate_national"`
	BaseRateInternational float64                                 `db:"base_rate_international" json:"base_rate_international"`
	WeightTiers           database.JSONB[[]WeightTier]            `db:"weight_tiers" json:"weight_tiers"`
	DistanceZones         database.JSONB[[]DistanceZone]          `db:"distance_zones" json:"distance_zones"`
	TypeMultipliers       database.JSONB[map[RequestType]float64] `db:"type_multipliers" json:"type_multipliers"`
	IsActive              bool                                    `db:"is_active" json:"is_active"`
	CreatedBy             *uuid.UUID                              `db:"created_by" json:"created_by,omitempty"`
	CreatedAt             time.Time                               `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time                               `db:"updated_at" json:"updated_at"`
}

func (r *PricingRule) TableName() string {
	return "pricing_rules"
}

// DefaultPricingRule is used when no rule has been activated.
func DefaultPricingRule() PricingRule {
	return PricingRule{
		BaseRateNational:      DefaultBaseRateNational,
		BaseRateInternational: DefaultBaseRateInternational,
		WeightTiers:           database.NewJSONB([]WeightTier{}),
		DistanceZones:         database.NewJSONB([]DistanceZone{}),
		TypeMultipliers:       database.NewJSONB(map[RequestType]float64{}),
	}
}
