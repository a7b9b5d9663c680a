package models

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/courier/pkg/database"
	"github.com/Ramsey-B/courier/pkg/errors"
)

type ResolutionStatus string

const (
	ResolutionPending  ResolutionStatus = "pending"
	ResolutionAccepted ResolutionStatus = "accepted"
	ResolutionRejected ResolutionStatus = "rejected"
)

func (s ResolutionStatus) String() string {
	return string(s)
}

// QuoteBreakdown is an agent's price quote. Components are kept unrounded;
// only Total is struck to cents.
type QuoteBreakdown struct {
	BaseCost       float64 `json:"base_cost"`
	WeightCost     float64 `json:"weight_cost"`
	DistanceCost   float64 `json:"distance_cost"`
	TypeMultiplier float64 `json:"type_multiplier"`
	Subtotal       float64 `json:"subtotal"`
	Total          float64 `json:"total"`
}

func (q QuoteBreakdown) hasComponents() bool {
	return q.BaseCost != 0 || q.WeightCost != 0 || q.DistanceCost != 0
}

// Normalize recomputes the derived fields. With components present the
// subtotal and total are derived from them, and a supplied total that does
// not match to the cent is rejected. Without components the supplied total is
// kept and rounded.
func (q QuoteBreakdown) Normalize() (QuoteBreakdown, error) {
	if q.BaseCost < 0 || q.WeightCost < 0 || q.DistanceCost < 0 || q.TypeMultiplier < 0 {
		return q, errors.Validation("quote components must not be negative")
	}
	if q.TypeMultiplier == 0 {
		q.TypeMultiplier = 1
	}
	if q.hasComponents() {
		q.Subtotal = q.BaseCost + q.WeightCost + q.DistanceCost
		total := RoundCurrency(q.Subtotal * q.TypeMultiplier)
		if q.Total != 0 && math.Abs(RoundCurrency(q.Total)-total) >= 0.005 {
			return q, errors.Validation("quote total %.2f does not match its components (%.2f)", q.Total, total)
		}
		q.Total = total
	} else {
		q.Total = RoundCurrency(q.Total)
		if q.Subtotal == 0 {
			q.Subtotal = q.Total
		}
	}
	if q.Total <= 0 {
		return q, errors.Validation("quote total must be greater than zero")
	}
	return q, nil
}

type Resolution struct {
	ID                    uuid.UUID                      `db:"id" json:"id"`
	RequestID             uuid.UUID                      `db:"request_id" json:"request_id"`
	AgentID               uuid.UUID                      `db:"agent_id" json:"agent_id"`
	QuoteBreakdown        database.JSONB[QuoteBreakdown] `db:"quote_breakdown" json:"quote_breakdown"`
	EstimatedDeliveryDays int                            `db:"estimated_delivery_days" json:"estimated_delivery_days"`
	Notes                 *string                        `db:"notes" json:"notes,omitempty"`
	InternalNotes         *string                        `db:"internal_notes" json:"internal_notes,omitempty"`
	Status                ResolutionStatus               `db:"status" json:"status"`
	CustomerResponseNotes *string                        `db:"customer_response_notes" json:"customer_response_notes,omitempty"`
	RespondedAt           *time.Time                     `db:"responded_at" json:"responded_at,omitempty"`
	CreatedAt             time.Time                      `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time                      `db:"updated_at" json:"updated_at"`
}

func (r *Resolution) TableName() string {
	return "resolutions"
}

func (r *Resolution) Total() float64 {
	return r.QuoteBreakdown.Data.Total
}

// ViewFor returns a copy of the resolution as role may see it.
func (r Resolution) ViewFor(role Role) Resolution {
	if role == RoleCustomer {
		r.InternalNotes = nil
	}
	return r
}

// ResolutionPatch is a partial update of a pending resolution.
type ResolutionPatch struct {
	QuoteBreakdown        *QuoteBreakdown
	EstimatedDeliveryDays *int
	Notes                 *string
	InternalNotes         *string
}

func (p ResolutionPatch) IsEmpty() bool {
	return p.QuoteBreakdown == nil && p.EstimatedDeliveryDays == nil && p.Notes == nil && p.InternalNotes == nil
}

// Apply writes the set fields onto r.
func (p ResolutionPatch) Apply(r *Resolution) {
	if p.QuoteBreakdown != nil {
		r.QuoteBreakdown = database.NewJSONB(*p.QuoteBreakdown)
	}
	if p.EstimatedDeliveryDays != nil {
		r.EstimatedDeliveryDays = *p.EstimatedDeliveryDays
	}
	if p.Notes != nil {
		r.Notes = p.Notes
	}
	if p.InternalNotes != nil {
		r.InternalNotes = p.InternalNotes
	}
}
