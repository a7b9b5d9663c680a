package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/models"
)

func TestQuoteBreakdown_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		in      models.QuoteBreakdown
		want    models.QuoteBreakdown
		wantErr bool
	}{
		{
			name: "derives subtotal and total from components",
			in:   models.QuoteBreakdown{BaseCost: 10, WeightCost: 2.555, DistanceCost: 5, TypeMultiplier: 1.5},
			want: models.QuoteBreakdown{BaseCost: 10, WeightCost: 2.555, DistanceCost: 5, TypeMultiplier: 1.5, Subtotal: 17.555, Total: 26.33},
		},
		{
			name: "multiplier defaults to one",
			in:   models.QuoteBreakdown{BaseCost: 30},
			want: models.QuoteBreakdown{BaseCost: 30, TypeMultiplier: 1, Subtotal: 30, Total: 30},
		},
		{
			name: "bare total is rounded",
			in:   models.QuoteBreakdown{Total: 45.678},
			want: models.QuoteBreakdown{TypeMultiplier: 1, Subtotal: 45.68, Total: 45.68},
		},
		{
			name: "matching total is accepted",
			in:   models.QuoteBreakdown{BaseCost: 10, WeightCost: 2.555, DistanceCost: 5, TypeMultiplier: 1.5, Total: 26.33},
			want: models.QuoteBreakdown{BaseCost: 10, WeightCost: 2.555, DistanceCost: 5, TypeMultiplier: 1.5, Subtotal: 17.555, Total: 26.33},
		},
		{
			name:    "total disagreeing with components",
			in:      models.QuoteBreakdown{BaseCost: 30, Total: 25},
			wantErr: true,
		},
		{
			name:    "zero total",
			in:      models.QuoteBreakdown{},
			wantErr: true,
		},
		{
			name:    "negative component",
			in:      models.QuoteBreakdown{BaseCost: -1, WeightCost: 5},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				assert.True(t, errors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want.Subtotal, got.Subtotal, 1e-9)
			assert.Equal(t, tt.want.Total, got.Total)
			assert.Equal(t, tt.want.TypeMultiplier, got.TypeMultiplier)
		})
	}
}

func TestResolution_ViewForHidesInternalNotes(t *testing.T) {
	internal := "margin is thin"
	r := models.Resolution{InternalNotes: &internal}

	assert.Nil(t, r.ViewFor(models.RoleCustomer).InternalNotes)
	assert.Equal(t, &internal, r.ViewFor(models.RoleAgent).InternalNotes)
	assert.Equal(t, &internal, r.ViewFor(models.RoleAdmin).InternalNotes)
	assert.NotNil(t, r.InternalNotes)
}

func TestRoundCurrency(t *testing.T) {
	assert.Equal(t, 10.01, models.RoundCurrency(10.006))
	assert.Equal(t, 0.0, models.RoundCurrency(0.004))
	assert.Equal(t, 99.99, models.RoundCurrency(99.99))
}
