// Package lifecycle owns the delivery request state machine. Every command
// resolves the actor's policy once, performs a single conditional store
// write and, after the write is durable, hands the resulting transition to
// the fan-out router.
package lifecycle

import (
	"context"
	"math"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	apperrors "github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/fanout"
	"github.com/Ramsey-B/courier/pkg/metrics"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/repositories"
	"github.com/Ramsey-B/courier/pkg/tracing"
)

// ClaimLimiter bounds how often one agent may attempt a claim.
type ClaimLimiter interface {
	AllowClaim(ctx context.Context, agentID uuid.UUID) (bool, time.Duration, error)
}

type Option func(*Engine)

func WithClaimLimiter(limiter ClaimLimiter) Option {
	return func(e *Engine) {
		e.limiter = limiter
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

type Engine struct {
	store    *repositories.Store
	notifier fanout.Notifier
	logger   ectologger.Logger
	limiter  ClaimLimiter
	now      func() time.Time
}

func NewEngine(store *repositories.Store, notifier fanout.Notifier, logger ectologger.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// CreateInput carries a new request. Admins must name the customer the
// request is created for; customers always create for themselves.
type CreateInput struct {
	CustomerID *uuid.UUID
	Details    models.RequestDetails
}

func (e *Engine) Create(ctx context.Context, actor models.Actor, in CreateInput) (*models.Request, error) {
	ctx, span := tracing.StartSpan(ctx, "Lifecycle.Create")
	defer span.End()

	if err := Authorize(CommandCreate, actor, nil); err != nil {
		return nil, err
	}

	customerID := actor.UserID
	if actor.Is(models.RoleAdmin) {
		if in.CustomerID == nil {
			return nil, apperrors.Validation("customer_id is required when creating a request on behalf of a customer")
		}
		customerID = *in.CustomerID
	}

	details, err := normalizeDetails(in.Details)
	if err != nil {
		return nil, err
	}

	customer, err := e.store.Users.GetByID(ctx, customerID)
	if apperrors.IsNotFound(err) {
		return nil, apperrors.Validation("customer %s does not exist", customerID)
	}
	if err != nil {
		tracing.RecordError(span, err)
		return nil, errors.Wrap(err, "failed to load customer")
	}
	if customer.Role != models.RoleCustomer {
		return nil, apperrors.Validation("user %s is not a customer", customerID)
	}

	now := e.clock()
	req := &models.Request{
		ID:         uuid.New(),
		CustomerID: customerID,
		Status:     models.StatusPending,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	details.Apply(req)

	created, err := e.store.Requests.Create(ctx, req)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	e.sendEmail(ctx, created.CustomerID, fanout.TemplateRequestCreated, created, nil)
	e.publish(ctx, fanout.Transition{Kind: fanout.TransitionCreated, Request: *created, At: now})
	return created, nil
}

// Get returns the request when actor may see it. Invisible requests are
// reported as missing.
func (e *Engine) Get(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Request, error) {
	req, err := e.store.Requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(CommandGet, actor, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (e *Engine) List(ctx context.Context, actor models.Actor, filter models.RequestFilter) (*models.RequestPage, error) {
	ctx, span := tracing.StartSpan(ctx, "Lifecycle.List")
	defer span.End()

	filter = filter.Normalize()
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, apperrors.Validation("invalid status filter %q", *filter.Status)
	}
	if filter.Type != nil && !filter.Type.IsValid() {
		return nil, apperrors.Validation("invalid type filter %q", *filter.Type)
	}
	if filter.ShippingType != nil && !filter.ShippingType.IsValid() {
		return nil, apperrors.Validation("invalid shipping type filter %q", *filter.ShippingType)
	}

	requests, total, err := e.store.Requests.List(ctx, actor, filter)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return &models.RequestPage{Data: requests, Meta: models.NewPageMeta(filter, total)}, nil
}

// load fetches the target of a mutating command and checks the command's policy.
func (e *Engine) load(ctx context.Context, cmd Command, actor models.Actor, id uuid.UUID) (*models.Request, error) {
	req, err := e.store.Requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(cmd, actor, req); err != nil {
		return nil, err
	}
	return req, nil
}

// Update edits a request before any agent has picked it up.
func (e *Engine) Update(ctx context.Context, actor models.Actor, id uuid.UUID, details models.RequestDetails) (*models.Request, error) {
	ctx, span := tracing.StartSpan(ctx, "Lifecycle.Update")
	defer span.End()

	req, err := e.load(ctx, CommandUpdate, actor, id)
	if err != nil {
		return nil, err
	}
	if req.Status != models.StatusPending || req.ClaimedByAgentID != nil {
		return nil, apperrors.InvalidState("request", req.Status, "edit")
	}
	details, err = normalizeDetails(details)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	updated, err := e.store.Requests.UpdateDetails(ctx, id, actor.UserID, details, now)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	e.publish(ctx, fanout.Transition{Kind: fanout.TransitionUpdated, Request: *updated, PreviousStatus: req.Status, At: now})
	return updated, nil
}

func (e *Engine) Delete(ctx context.Context, actor models.Actor, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "Lifecycle.Delete")
	defer span.End()

	req, err := e.load(ctx, CommandDelete, actor, id)
	if err != nil {
		return err
	}
	if req.Status != models.StatusPending {
		return apperrors.InvalidState("request", req.Status, "delete")
	}

	now := e.clock()
	deleted, err := e.store.Requests.SoftDelete(ctx, id, models.TransitionCondition{Status: models.StatusPending, Version: req.Version}, now)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"request_id": id,
		"actor_id":   actor.UserID,
	}).Info("Request deleted")
	e.publish(ctx, fanout.Transition{Kind: fanout.TransitionDeleted, Request: *deleted, PreviousStatus: req.Status, At: now})
	return nil
}

// Claim gives an agent exclusive ownership of a pending request. Concurrent
// claims are decided by the store: exactly one succeeds and the others see
// Conflict.
func (e *Engine) Claim(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Request, error) {
	ctx, span := tracing.StartSpan(ctx, "Lifecycle.Claim")
	defer span.End()

	if err := Authorize(CommandClaim, actor, nil); err != nil {
		return nil, err
	}

	if e.limiter != nil {
		allowed, retryIn, err := e.limiter.AllowClaim(ctx, actor.UserID)
		switch {
		case err != nil:
			e.logger.WithContext(ctx).WithError(err).Warn("claim rate limiter unavailable, allowing claim")
		case !allowed:
			metrics.ClaimAttemptsTotal.WithLabelValues("limited").Inc()
			return nil, apperrors.TooManyRequests("too many claim attempts").
				WithMeta("retry_after_seconds", int(math.Ceil(retryIn.Seconds())))
		}
	}

	now := e.clock()
	claimed, err := e.store.Requests.Claim(ctx, id, actor.UserID, now)
	if err != nil {
		metrics.ClaimAttemptsTotal.WithLabelValues(outcome(err)).Inc()
		e.recordTransition(CommandClaim, models.StatusPending, models.StatusClaimed, err)
		if apperrors.IsConflict(err) {
			return nil, apperrors.Conflict("request %s is no longer available", id)
		}
		tracing.RecordError(span, err)
		return nil, err
	}
	metrics.ClaimAttemptsTotal.WithLabelValues("won").Inc()
	e.recordTransition(CommandClaim, models.StatusPending, models.StatusClaimed, nil)

	data := map[string]any{}
	if agent, err := e.store.Users.GetByID(ctx, actor.UserID); err == nil {
		data["agent_name"] = agent.Name
	}
	e.sendEmail(ctx, claimed.CustomerID, fanout.TemplateRequestClaimed, claimed, data)
	e.publish(ctx, fanout.Transition{Kind: fanout.TransitionClaimed, Request: *claimed, PreviousStatus: models.StatusPending, At: now})
	return claimed, nil
}

// Unclaim returns a claimed request to the open pool.
func (e *Engine) Unclaim(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Request, error) {
	ctx, span := tracing.StartSpan(ctx, "Lifecycle.Unclaim")
	defer span.End()

	req, err := e.load(ctx, CommandUnclaim, actor, id)
	if err != nil {
		return nil, err
	}
	if req.Status != models.StatusClaimed {
		return nil, apperrors.InvalidTransition("request", req.Status, models.StatusPending)
	}

	now := e.clock()
	unclaimed, err := e.store.Requests.Unclaim(ctx, id, actor.UserID, now)
	e.recordTransition(CommandUnclaim, models.StatusClaimed, models.StatusPending, err)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	agentID := actor.UserID
	e.publish(ctx, fanout.Transition{
		Kind:           fanout.TransitionUnclaimed,
		Request:        *unclaimed,
		PreviousStatus: models.StatusClaimed,
		AgentID:        &agentID,
		At:             now,
	})
	return unclaimed, nil
}

// UpdateStatus moves a request along an unreserved edge of the transition
// table. The write is keyed on the status and version that were read, so a
// concurrent transition surfaces as Conflict.
func (e *Engine) UpdateStatus(ctx context.Context, actor models.Actor, id uuid.UUID, to models.RequestStatus, reason *string) (*models.Request, error) {
	ctx, span := tracing.StartSpan(ctx, "Lifecycle.UpdateStatus")
	defer span.End()

	if !to.IsValid() {
		return nil, apperrors.Validation("invalid status %q", to)
	}
	req, err := e.load(ctx, CommandUpdateStatus, actor, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(actor, req.Status, to); err != nil {
		e.recordTransition(CommandUpdateStatus, req.Status, to, err)
		return nil, err
	}

	change := models.TransitionChange{Status: to}
	if to == models.StatusCancelled && reason != nil {
		change.CancelledReason = reason
	}
	return e.transition(ctx, CommandUpdateStatus, req, change, nil, reason)
}

type PaymentInput struct {
	Method models.PaymentMethod
	Proof  *string
}

// SubmitPayment records the customer's payment and moves the request to verification.
func (e *Engine) SubmitPayment(ctx context.Context, actor models.Actor, id uuid.UUID, in PaymentInput) (*models.Request, error) {
	ctx, span := tracing.StartSpan(ctx, "Lifecycle.SubmitPayment")
	defer span.End()

	if !in.Method.IsValid() {
		return nil, apperrors.Validation("invalid payment method %q", in.Method)
	}
	req, err := e.load(ctx, CommandSubmitPayment, actor, id)
	if err != nil {
		return nil, err
	}
	if req.Status != models.StatusPayment {
		return nil, apperrors.InvalidTransition("request", req.Status, models.StatusVerification)
	}

	method := in.Method
	return e.transition(ctx, CommandSubmitPayment, req, models.TransitionChange{
		Status:        models.StatusVerification,
		PaymentMethod: &method,
		PaymentProof:  in.Proof,
	}, nil, nil)
}

// ConfirmPayment is the claiming agent's acknowledgement that payment arrived.
func (e *Engine) ConfirmPayment(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Request, error) {
	ctx, span := tracing.StartSpan(ctx, "Lifecycle.ConfirmPayment")
	defer span.End()

	req, err := e.load(ctx, CommandConfirmPayment, actor, id)
	if err != nil {
		return nil, err
	}
	if req.Status != models.StatusVerification {
		return nil, apperrors.InvalidTransition("request", req.Status, models.StatusConfirmed)
	}

	agentID := actor.UserID
	return e.transition(ctx, CommandConfirmPayment, req, models.TransitionChange{Status: models.StatusConfirmed}, &agentID, nil)
}

// transition applies change to req conditionally on req's status and version.
// Terminal statuses stamp completed_at and release the claim.
func (e *Engine) transition(ctx context.Context, cmd Command, req *models.Request, change models.TransitionChange, agentID *uuid.UUID, reason *string) (*models.Request, error) {
	now := e.clock()
	if change.Status.IsTerminal() {
		change.ClearClaim = true
		change.CompletedAt = &now
	}

	updated, err := e.store.Requests.Transition(ctx, req.ID, models.TransitionCondition{
		Status:  req.Status,
		Version: req.Version,
		AgentID: agentID,
	}, change, now)
	e.recordTransition(cmd, req.Status, change.Status, err)
	if err != nil {
		return nil, err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"request_id": updated.ID,
		"from":       req.Status,
		"to":         updated.Status,
		"command":    cmd,
	}).Info("Request status changed")

	data := map[string]any{
		"previous_status": req.Status.String(),
		"status":          updated.Status.String(),
	}
	if reason != nil {
		data["reason"] = *reason
	}
	e.sendEmail(ctx, updated.CustomerID, fanout.TemplateRequestStatusUpdated, updated, data)
	e.publish(ctx, fanout.Transition{
		Kind:           fanout.TransitionStatusUpdated,
		Request:        *updated,
		PreviousStatus: req.Status,
		AgentID:        req.ClaimedByAgentID,
		At:             now,
	})
	return updated, nil
}

func (e *Engine) publish(ctx context.Context, t fanout.Transition) {
	e.notifier.Emit(ctx, fanout.Route(t)...)
}

func (e *Engine) sendEmail(ctx context.Context, userID uuid.UUID, template string, req *models.Request, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["request_id"] = req.ID.String()
	data["product_name"] = req.ProductName
	e.notifier.SendEmail(ctx, fanout.Email{UserID: userID, Template: template, Data: data})
}

func (e *Engine) recordTransition(cmd Command, from, to models.RequestStatus, err error) {
	metrics.TransitionsTotal.WithLabelValues(string(cmd), from.String(), to.String(), outcome(err)).Inc()
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := apperrors.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
