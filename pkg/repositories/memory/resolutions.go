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

type ResolutionRepository struct {
	s *Store
}

func (r *ResolutionRepository) Create(ctx context.Context, res *models.Resolution) (*models.Resolution, error) {
	var created models.Resolution
	err := r.s.write(ctx, func() error {
		if _, ok := r.s.resolutions[res.ID]; ok {
			return apperrors.Conflict("resolution %s already exists", res.ID)
		}
		for _, existing := range r.s.resolutions {
			if existing.RequestID == res.RequestID && existing.Status == models.ResolutionPending {
				return apperrors.Conflict("request %s already has a pending resolution", res.RequestID)
			}
		}
		created = *res
		r.s.resolutions[res.ID] = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *ResolutionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Resolution, error) {
	var (
		res models.Resolution
		ok  bool
	)
	r.s.read(ctx, func() {
		res, ok = r.s.resolutions[id]
	})
	if !ok {
		return nil, apperrors.NotFound("resolution %s not found", id)
	}
	return &res, nil
}

func (r *ResolutionRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]models.Resolution, error) {
	var all []models.Resolution
	r.s.read(ctx, func() {
		all = ectolinq.Values(r.s.resolutions)
	})

	items := ectolinq.Filter(all, func(res models.Resolution) bool {
		return res.RequestID == requestID
	})
	slices.SortFunc(items, func(a, b models.Resolution) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if items == nil {
		items = []models.Resolution{}
	}
	return items, nil
}

func (r *ResolutionRepository) mutate(ctx context.Context, id uuid.UUID, guard func(models.Resolution) bool, change func(*models.Resolution)) (*models.Resolution, error) {
	var updated models.Resolution
	err := r.s.write(ctx, func() error {
		current, ok := r.s.resolutions[id]
		if !ok {
			return apperrors.NotFound("resolution %s not found", id)
		}
		if !guard(current) {
			return apperrors.Conflict("resolution %s was modified concurrently", id)
		}
		change(&current)
		r.s.resolutions[id] = current
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *ResolutionRepository) Update(ctx context.Context, res *models.Resolution, at time.Time) (*models.Resolution, error) {
	return r.mutate(ctx, res.ID,
		func(cur models.Resolution) bool {
			return cur.Status == models.ResolutionPending && cur.AgentID == res.AgentID
		},
		func(cur *models.Resolution) {
			cur.QuoteBreakdown = res.QuoteBreakdown
			cur.EstimatedDeliveryDays = res.EstimatedDeliveryDays
			cur.Notes = res.Notes
			cur.InternalNotes = res.InternalNotes
			cur.UpdatedAt = at
		},
	)
}

func (r *ResolutionRepository) Respond(ctx context.Context, id uuid.UUID, status models.ResolutionStatus, notes *string, at time.Time) (*models.Resolution, error) {
	return r.mutate(ctx, id,
		func(cur models.Resolution) bool {
			return cur.Status == models.ResolutionPending
		},
		func(cur *models.Resolution) {
			respondedAt := at
			cur.Status = status
			cur.CustomerResponseNotes = notes
			cur.RespondedAt = &respondedAt
			cur.UpdatedAt = at
		},
	)
}

func (r *ResolutionRepository) Counts(ctx context.Context) (models.ResolutionCounts, error) {
	var counts models.ResolutionCounts
	r.s.read(ctx, func() {
		for _, res := range r.s.resolutions {
			counts.Add(res.Status, 1)
		}
	})
	return counts, nil
}
