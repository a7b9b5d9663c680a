package resolution_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/lifecycle"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/resolution"
)

// TestRandomCommandSequencesKeepInvariants drives the engine and the
// workflow with random commands from random actors and checks, after every
// command, that claims match statuses and that statuses only moved along
// the transition table.
func TestRandomCommandSequencesKeepInvariants(t *testing.T) {
	for _, seed := range []int64{1, 7, 42, 1337} {
		t.Run("seed", func(t *testing.T) {
			runRandomSequence(t, rand.New(rand.NewSource(seed)), 400)
		})
	}
}

func runRandomSequence(t *testing.T, rng *rand.Rand, steps int) {
	f := newFixture(t)
	ctx := context.Background()
	actors := []models.Actor{f.customer, f.other, f.agent, f.agent2, f.admin}

	var (
		requests    []uuid.UUID
		resolutions []uuid.UUID
	)
	pickRequest := func() uuid.UUID {
		if len(requests) == 0 {
			return uuid.New()
		}
		return requests[rng.Intn(len(requests))]
	}
	pickResolution := func() uuid.UUID {
		if len(resolutions) == 0 {
			return uuid.New()
		}
		return resolutions[rng.Intn(len(resolutions))]
	}

	seen := map[uuid.UUID]models.RequestStatus{}
	statuses := models.AllStatuses()

	for step := range steps {
		actor := actors[rng.Intn(len(actors))]
		var err error

		switch rng.Intn(10) {
		case 0:
			if len(requests) >= 40 {
				continue
			}
			var req *models.Request
			req, err = f.engine.Create(ctx, actor, lifecycle.CreateInput{CustomerID: &f.customer.UserID, Details: details()})
			if err == nil {
				requests = append(requests, req.ID)
			}
		case 1:
			_, err = f.engine.Claim(ctx, actor, pickRequest())
		case 2:
			_, err = f.engine.Unclaim(ctx, actor, pickRequest())
		case 3:
			_, err = f.engine.UpdateStatus(ctx, actor, pickRequest(), statuses[rng.Intn(len(statuses))], nil)
		case 4:
			var res *models.Resolution
			res, err = f.workflow.Create(ctx, actor, resolution.CreateInput{
				RequestID:             pickRequest(),
				Quote:                 quote(),
				EstimatedDeliveryDays: 1 + rng.Intn(14),
			})
			if err == nil {
				resolutions = append(resolutions, res.ID)
			}
		case 5:
			_, err = f.workflow.Accept(ctx, actor, pickResolution(), nil)
		case 6:
			_, err = f.workflow.Reject(ctx, actor, pickResolution(), nil)
		case 7:
			_, err = f.engine.SubmitPayment(ctx, actor, pickRequest(), lifecycle.PaymentInput{Method: models.PaymentCash})
		case 8:
			_, err = f.engine.ConfirmPayment(ctx, actor, pickRequest())
		case 9:
			err = f.engine.Delete(ctx, actor, pickRequest())
		}
		if err != nil {
			require.NotEmpty(t, apperrors.KindOf(err), "step %d: unexpected infrastructure error %v", step, err)
		}

		page, err := f.engine.List(ctx, f.admin, models.RequestFilter{Limit: models.MaxPageLimit})
		require.NoError(t, err)
		for _, req := range page.Data {
			require.Equal(t, req.Status.HoldsClaim(), req.ClaimedByAgentID != nil,
				"step %d: request %s in %s has claim %v", step, req.ID, req.Status, req.ClaimedByAgentID)

			if prev, ok := seen[req.ID]; ok && prev != req.Status {
				require.True(t, prev.CanTransitionTo(req.Status), "step %d: illegal edge %s -> %s", step, prev, req.Status)
			}
			seen[req.ID] = req.Status
		}
	}
}
