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

type RequestRepository struct {
	s *Store
}

func (r *RequestRepository) Create(ctx context.Context, req *models.Request) (*models.Request, error) {
	var created models.Request
	err := r.s.write(ctx, func() error {
		if _, ok := r.s.requests[req.ID]; ok {
			return apperrors.Conflict("request %s already exists", req.ID)
		}
		if _, ok := r.s.users[req.CustomerID]; !ok {
			return apperrors.Validation("customer %s does not exist", req.CustomerID)
		}
		created = *req
		r.s.requests[req.ID] = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *RequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	var (
		req models.Request
		ok  bool
	)
	r.s.read(ctx, func() {
		req, ok = r.s.requests[id]
	})
	if !ok || req.DeletedAt != nil {
		return nil, apperrors.NotFound("request %s not found", id)
	}
	return &req, nil
}

func (r *RequestRepository) List(ctx context.Context, actor models.Actor, filter models.RequestFilter) ([]models.Request, int, error) {
	filter = filter.Normalize()

	var all []models.Request
	r.s.read(ctx, func() {
		all = ectolinq.Values(r.s.requests)
	})

	visible := ectolinq.Filter(all, func(req models.Request) bool {
		return actor.CanSee(&req) && filter.Matches(&req)
	})
	slices.SortFunc(visible, func(a, b models.Request) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return paginate(visible, filter.Offset(), filter.Limit), len(visible), nil
}

// mutate applies change to the stored request when guard holds. A failed
// guard reports NotFound for missing or deleted rows and Conflict otherwise.
func (r *RequestRepository) mutate(ctx context.Context, id uuid.UUID, guard func(models.Request) bool, change func(*models.Request)) (*models.Request, error) {
	var updated models.Request
	err := r.s.write(ctx, func() error {
		current, ok := r.s.requests[id]
		if !ok || current.DeletedAt != nil {
			return apperrors.NotFound("request %s not found", id)
		}
		if !guard(current) {
			return apperrors.Conflict("request %s was modified concurrently", id)
		}
		change(&current)
		current.Version++
		r.s.requests[id] = current
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *RequestRepository) UpdateDetails(ctx context.Context, id, customerID uuid.UUID, details models.RequestDetails, at time.Time) (*models.Request, error) {
	return r.mutate(ctx, id,
		func(cur models.Request) bool {
			return cur.CustomerID == customerID && cur.Status == models.StatusPending && cur.ClaimedByAgentID == nil
		},
		func(req *models.Request) {
			details.Apply(req)
			req.UpdatedAt = at
		},
	)
}

func (r *RequestRepository) Claim(ctx context.Context, id, agentID uuid.UUID, at time.Time) (*models.Request, error) {
	return r.mutate(ctx, id,
		func(cur models.Request) bool {
			return cur.Status == models.StatusPending && cur.ClaimedByAgentID == nil
		},
		func(req *models.Request) {
			agent := agentID
			claimedAt := at
			req.ClaimedByAgentID = &agent
			req.ClaimedAt = &claimedAt
			req.Status = models.StatusClaimed
			req.UpdatedAt = at
		},
	)
}

func (r *RequestRepository) Unclaim(ctx context.Context, id, agentID uuid.UUID, at time.Time) (*models.Request, error) {
	return r.mutate(ctx, id,
		func(cur models.Request) bool {
			return cur.Status == models.StatusClaimed && cur.IsClaimedBy(agentID)
		},
		func(req *models.Request) {
			req.ClaimedByAgentID = nil
			req.ClaimedAt = nil
			req.Status = models.StatusPending
			req.UpdatedAt = at
		},
	)
}

func (r *RequestRepository) Transition(ctx context.Context, id uuid.UUID, expected models.TransitionCondition, change models.TransitionChange, at time.Time) (*models.Request, error) {
	return r.mutate(ctx, id,
		func(cur models.Request) bool {
			return matches(cur, expected)
		},
		func(req *models.Request) {
			req.Status = change.Status
			req.UpdatedAt = at
			if change.ClearClaim {
				req.ClaimedByAgentID = nil
				req.ClaimedAt = nil
			}
			if change.CompletedAt != nil {
				req.CompletedAt = change.CompletedAt
			}
			if change.CancelledReason != nil {
				req.CancelledReason = change.CancelledReason
			}
			if change.PaymentMethod != nil {
				req.PaymentMethod = change.PaymentMethod
			}
			if change.PaymentProof != nil {
				req.PaymentProof = change.PaymentProof
			}
		},
	)
}

func (r *RequestRepository) SoftDelete(ctx context.Context, id uuid.UUID, expected models.TransitionCondition, at time.Time) (*models.Request, error) {
	return r.mutate(ctx, id,
		func(cur models.Request) bool {
			return matches(cur, expected)
		},
		func(req *models.Request) {
			deletedAt := at
			req.DeletedAt = &deletedAt
			req.UpdatedAt = at
		},
	)
}

func matches(cur models.Request, expected models.TransitionCondition) bool {
	if cur.Status != expected.Status {
		return false
	}
	if expected.Version > 0 && cur.Version != expected.Version {
		return false
	}
	if expected.AgentID != nil && !cur.IsClaimedBy(*expected.AgentID) {
		return false
	}
	return true
}

func (r *RequestRepository) Counts(ctx context.Context, since time.Time) (models.RequestCounts, error) {
	counts := models.NewRequestCounts()
	r.s.read(ctx, func() {
		for _, req := range r.s.requests {
			if req.DeletedAt != nil {
				continue
			}
			counts.Total++
			counts.ByStatus[req.Status]++
			if !req.CreatedAt.Before(since) {
				counts.Recent++
			}
		}
	})
	return counts, nil
}
