// Package resolution implements the quote workflow between the claiming
// agent and the customer. Each command changes the resolution and its
// request together in one store transaction and notifies only after commit.
package resolution

import (
	"context"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/courier/pkg/database"
	apperrors "github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/fanout"
	"github.com/Ramsey-B/courier/pkg/metrics"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/repositories"
	"github.com/Ramsey-B/courier/pkg/tracing"
)

type Option func(*Workflow)

func WithClock(now func() time.Time) Option {
	return func(w *Workflow) {
		w.now = now
	}
}

type Workflow struct {
	store    *repositories.Store
	notifier fanout.Notifier
	logger   ectologger.Logger
	now      func() time.Time
}

func NewWorkflow(store *repositories.Store, notifier fanout.Notifier, logger ectologger.Logger, opts ...Option) *Workflow {
	w := &Workflow{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Workflow) clock() time.Time {
	return w.now().UTC()
}

type CreateInput struct {
	RequestID             uuid.UUID
	Quote                 models.QuoteBreakdown
	EstimatedDeliveryDays int
	Notes                 *string
	InternalNotes         *string
}

// Create records the claiming agent's quote and moves the request to
// resolution_provided.
func (w *Workflow) Create(ctx context.Context, agent models.Actor, in CreateInput) (*models.Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "Resolution.Create")
	defer span.End()

	if !agent.Is(models.RoleAgent) {
		return nil, apperrors.Forbidden("only agents can provide resolutions")
	}
	quote, err := in.Quote.Normalize()
	if err != nil {
		return nil, err
	}
	if in.EstimatedDeliveryDays < 1 {
		return nil, apperrors.Validation("estimated delivery days must be at least 1")
	}

	now := w.clock()
	var (
		created *models.Resolution
		before  *models.Request
		after   *models.Request
	)
	err = w.store.Transactor.InTx(ctx, func(ctx context.Context) error {
		req, err := w.store.Requests.GetByID(ctx, in.RequestID)
		if err != nil {
			return err
		}
		if !req.IsClaimedBy(agent.UserID) {
			return apperrors.Forbidden("request %s is not claimed by you", req.ID)
		}
		if req.Status != models.StatusClaimed {
			return apperrors.InvalidTransition("request", req.Status, models.StatusResolutionProvided)
		}
		before = req

		after, err = w.store.Requests.Transition(ctx, req.ID, models.TransitionCondition{
			Status:  models.StatusClaimed,
			Version: req.Version,
			AgentID: &agent.UserID,
		}, models.TransitionChange{Status: models.StatusResolutionProvided}, now)
		if err != nil {
			return err
		}

		created, err = w.store.Resolutions.Create(ctx, &models.Resolution{
			ID:                    uuid.New(),
			RequestID:             req.ID,
			AgentID:               agent.UserID,
			QuoteBreakdown:        database.NewJSONB(quote),
			EstimatedDeliveryDays: in.EstimatedDeliveryDays,
			Notes:                 in.Notes,
			InternalNotes:         in.InternalNotes,
			Status:                models.ResolutionPending,
			CreatedAt:             now,
			UpdatedAt:             now,
		})
		return err
	})
	recordTransition("resolution_create", models.StatusClaimed, models.StatusResolutionProvided, err)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	w.logger.WithContext(ctx).WithFields(map[string]any{
		"request_id":    after.ID,
		"resolution_id": created.ID,
		"agent_id":      agent.UserID,
		"total":         created.Total(),
	}).Info("Resolution provided")

	w.sendEmail(ctx, after.CustomerID, fanout.TemplateResolutionProvided, after, map[string]any{
		"total":          created.Total(),
		"estimated_days": created.EstimatedDeliveryDays,
	})
	w.publish(ctx, fanout.Transition{
		Kind:           fanout.TransitionResolutionCreated,
		Request:        *after,
		Resolution:     created,
		PreviousStatus: before.Status,
		At:             now,
	})
	return created, nil
}

// loadVisible fetches a resolution with its request, reporting NotFound when
// the actor may not see either.
func (w *Workflow) loadVisible(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Resolution, *models.Request, error) {
	res, err := w.store.Resolutions.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	req, err := w.store.Requests.GetByID(ctx, res.RequestID)
	if err != nil {
		return nil, nil, err
	}
	if !canView(actor, req, res) {
		return nil, nil, apperrors.NotFound("resolution %s not found", id)
	}
	return res, req, nil
}

// canView admits the owning customer, the claiming agent, the author and admins.
func canView(actor models.Actor, req *models.Request, res *models.Resolution) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleCustomer:
		return req.IsOwnedBy(actor.UserID)
	case models.RoleAgent:
		return req.IsClaimedBy(actor.UserID) || (res != nil && res.AgentID == actor.UserID)
	}
	return false
}

func (w *Workflow) Get(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Resolution, error) {
	res, _, err := w.loadVisible(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	view := res.ViewFor(actor.Role)
	return &view, nil
}

// ListForRequest returns the request's resolutions, newest first.
func (w *Workflow) ListForRequest(ctx context.Context, actor models.Actor, requestID uuid.UUID) ([]models.Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "Resolution.ListForRequest")
	defer span.End()

	req, err := w.store.Requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	items, err := w.store.Resolutions.ListByRequest(ctx, requestID)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	authored := ectolinq.Filter(items, func(res models.Resolution) bool {
		return res.AgentID == actor.UserID
	})
	if !canView(actor, req, nil) && !(actor.Is(models.RoleAgent) && len(authored) > 0) {
		return nil, apperrors.NotFound("request %s not found", requestID)
	}
	return ectolinq.Map(items, func(res models.Resolution) models.Resolution {
		return res.ViewFor(actor.Role)
	}), nil
}

// Update lets the author revise a quote the customer has not answered yet.
func (w *Workflow) Update(ctx context.Context, agent models.Actor, id uuid.UUID, patch models.ResolutionPatch) (*models.Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "Resolution.Update")
	defer span.End()

	if patch.IsEmpty() {
		return nil, apperrors.Validation("no fields to update")
	}
	if patch.EstimatedDeliveryDays != nil && *patch.EstimatedDeliveryDays < 1 {
		return nil, apperrors.Validation("estimated delivery days must be at least 1")
	}
	if patch.QuoteBreakdown != nil {
		quote, err := patch.QuoteBreakdown.Normalize()
		if err != nil {
			return nil, err
		}
		patch.QuoteBreakdown = &quote
	}

	now := w.clock()
	var (
		updated *models.Resolution
		req     *models.Request
	)
	err := w.store.Transactor.InTx(ctx, func(ctx context.Context) error {
		res, err := w.store.Resolutions.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !agent.Is(models.RoleAgent) || res.AgentID != agent.UserID {
			return apperrors.Forbidden("only the author can update resolution %s", id)
		}
		if res.Status != models.ResolutionPending {
			return apperrors.InvalidState("resolution", res.Status, "update")
		}
		// A pending resolution is only open while its request waits on the customer.
		if req, err = w.store.Requests.GetByID(ctx, res.RequestID); err != nil {
			return err
		}
		if req.Status != models.StatusResolutionProvided {
			return apperrors.InvalidState("request", req.Status, "update a resolution of")
		}

		patch.Apply(res)
		updated, err = w.store.Resolutions.Update(ctx, res, now)
		return err
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	w.publish(ctx, fanout.Transition{
		Kind:           fanout.TransitionResolutionUpdated,
		Request:        *req,
		Resolution:     updated,
		PreviousStatus: req.Status,
		At:             now,
	})
	return updated, nil
}

func (w *Workflow) Accept(ctx context.Context, customer models.Actor, id uuid.UUID, notes *string) (*models.Resolution, error) {
	return w.respond(ctx, customer, id, notes, models.ResolutionAccepted)
}

func (w *Workflow) Reject(ctx context.Context, customer models.Actor, id uuid.UUID, notes *string) (*models.Resolution, error) {
	return w.respond(ctx, customer, id, notes, models.ResolutionRejected)
}

// respond records the customer's answer and moves the request either on to
// payment or back to the claiming agent.
func (w *Workflow) respond(ctx context.Context, customer models.Actor, id uuid.UUID, notes *string, answer models.ResolutionStatus) (*models.Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "Resolution.Respond")
	defer span.End()

	target := models.StatusPayment
	kind := fanout.TransitionResolutionAccept
	template := fanout.TemplateResolutionAccepted
	if answer == models.ResolutionRejected {
		target = models.StatusClaimed
		kind = fanout.TransitionResolutionReject
		template = fanout.TemplateResolutionRejected
	}

	now := w.clock()
	var (
		responded *models.Resolution
		before    *models.Request
		after     *models.Request
	)
	err := w.store.Transactor.InTx(ctx, func(ctx context.Context) error {
		res, err := w.store.Resolutions.GetByID(ctx, id)
		if err != nil {
			return err
		}
		req, err := w.store.Requests.GetByID(ctx, res.RequestID)
		if err != nil {
			return err
		}
		if !customer.Is(models.RoleCustomer) || !req.IsOwnedBy(customer.UserID) {
			return apperrors.Forbidden("only the request owner can respond to resolution %s", id)
		}
		if res.Status != models.ResolutionPending {
			return apperrors.InvalidTransition("resolution", res.Status, answer)
		}
		if req.Status != models.StatusResolutionProvided {
			return apperrors.InvalidTransition("request", req.Status, target)
		}
		before = req

		responded, err = w.store.Resolutions.Respond(ctx, res.ID, answer, notes, now)
		if err != nil {
			return err
		}
		after, err = w.store.Requests.Transition(ctx, req.ID, models.TransitionCondition{
			Status:  models.StatusResolutionProvided,
			Version: req.Version,
		}, models.TransitionChange{Status: target}, now)
		return err
	})
	recordTransition("resolution_"+string(answer), models.StatusResolutionProvided, target, err)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	metrics.ResolutionResponsesTotal.WithLabelValues(string(answer)).Inc()

	w.logger.WithContext(ctx).WithFields(map[string]any{
		"request_id":    after.ID,
		"resolution_id": responded.ID,
		"response":      answer,
	}).Info("Customer responded to resolution")

	data := map[string]any{}
	if notes != nil {
		data["notes"] = *notes
	}
	w.sendEmail(ctx, responded.AgentID, template, after, data)
	w.publish(ctx, fanout.Transition{
		Kind:           kind,
		Request:        *after,
		Resolution:     responded,
		PreviousStatus: before.Status,
		At:             now,
	})
	view := responded.ViewFor(customer.Role)
	return &view, nil
}

func (w *Workflow) publish(ctx context.Context, t fanout.Transition) {
	w.notifier.Emit(ctx, fanout.Route(t)...)
}

func (w *Workflow) sendEmail(ctx context.Context, userID uuid.UUID, template string, req *models.Request, data map[string]any) {
	data["request_id"] = req.ID.String()
	data["product_name"] = req.ProductName
	w.notifier.SendEmail(ctx, fanout.Email{UserID: userID, Template: template, Data: data})
}

func recordTransition(command string, from, to models.RequestStatus, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(apperrors.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	metrics.TransitionsTotal.WithLabelValues(command, from.String(), to.String(), outcome).Inc()
}
