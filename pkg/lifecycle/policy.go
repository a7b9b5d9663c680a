package lifecycle

import (
	"github.com/Gobusters/ectolinq"

	apperrors "github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/models"
)

// Command names an operation on a request.
type Command string

const (
	CommandCreate         Command = "create"
	CommandGet            Command = "get"
	CommandUpdate         Command = "update"
	CommandDelete         Command = "delete"
	CommandClaim          Command = "claim"
	CommandUnclaim        Command = "unclaim"
	CommandUpdateStatus   Command = "update_status"
	CommandSubmitPayment  Command = "submit_payment"
	CommandConfirmPayment Command = "confirm_payment"
)

// Policy decides whether actor may run a command. req is nil for commands
// that have no target yet.
type Policy func(actor models.Actor, req *models.Request) error

var policies = map[Command]Policy{
	CommandCreate: func(actor models.Actor, _ *models.Request) error {
		if actor.Is(models.RoleCustomer) || actor.Is(models.RoleAdmin) {
			return nil
		}
		return apperrors.Forbidden("only customers can create requests")
	},
	CommandGet: func(actor models.Actor, req *models.Request) error {
		if actor.CanSee(req) {
			return nil
		}
		return apperrors.NotFound("request %s not found", req.ID)
	},
	CommandUpdate: func(actor models.Actor, req *models.Request) error {
		if actor.Is(models.RoleCustomer) && req.IsOwnedBy(actor.UserID) {
			return nil
		}
		return apperrors.Forbidden("only the owning customer can edit request %s", req.ID)
	},
	CommandDelete: func(actor models.Actor, req *models.Request) error {
		if actor.Is(models.RoleAdmin) || (actor.Is(models.RoleCustomer) && req.IsOwnedBy(actor.UserID)) {
			return nil
		}
		return apperrors.Forbidden("only the owning customer or an admin can delete request %s", req.ID)
	},
	CommandClaim: func(actor models.Actor, _ *models.Request) error {
		if actor.Is(models.RoleAgent) {
			return nil
		}
		return apperrors.Forbidden("only agents can claim requests")
	},
	CommandUnclaim: func(actor models.Actor, req *models.Request) error {
		if actor.Is(models.RoleAgent) && req.IsClaimedBy(actor.UserID) {
			return nil
		}
		return apperrors.Forbidden("request %s is not claimed by you", req.ID)
	},
	CommandUpdateStatus: func(actor models.Actor, req *models.Request) error {
		switch actor.Role {
		case models.RoleAdmin:
			return nil
		case models.RoleCustomer:
			if req.IsOwnedBy(actor.UserID) {
				return nil
			}
		case models.RoleAgent:
			if req.IsClaimedBy(actor.UserID) {
				return nil
			}
		}
		return apperrors.Forbidden("you cannot change the status of request %s", req.ID)
	},
	CommandSubmitPayment: func(actor models.Actor, req *models.Request) error {
		if actor.Is(models.RoleCustomer) && req.IsOwnedBy(actor.UserID) {
			return nil
		}
		return apperrors.Forbidden("only the owning customer can pay for request %s", req.ID)
	},
	CommandConfirmPayment: func(actor models.Actor, req *models.Request) error {
		if actor.Is(models.RoleAgent) && req.IsClaimedBy(actor.UserID) {
			return nil
		}
		return apperrors.Forbidden("only the claiming agent can confirm payment for request %s", req.ID)
	},
}

// Authorize evaluates the policy registered for cmd. Unknown commands are refused.
func Authorize(cmd Command, actor models.Actor, req *models.Request) error {
	policy, ok := policies[cmd]
	if !ok {
		return apperrors.Forbidden("unknown command %s", cmd)
	}
	return policy(actor, req)
}

type edge struct {
	from, to models.RequestStatus
}

// reservedEdges can only be taken by their dedicated command, never through
// UpdateStatus.
var reservedEdges = []edge{
	{models.StatusPending, models.StatusClaimed},
	{models.StatusClaimed, models.StatusPending},
	{models.StatusClaimed, models.StatusResolutionProvided},
	{models.StatusResolutionProvided, models.StatusPayment},
	{models.StatusResolutionProvided, models.StatusClaimed},
}

func IsReserved(from, to models.RequestStatus) bool {
	return ectolinq.Contains(reservedEdges, edge{from, to})
}

// statusTargets are the statuses each role may move a request to through
// UpdateStatus.
var statusTargets = map[models.Role][]models.RequestStatus{
	models.RoleCustomer: {models.StatusCancelled},
	models.RoleAgent:    {models.StatusVerification, models.StatusConfirmed, models.StatusCompleted, models.StatusCancelled},
	models.RoleAdmin:    models.AllStatuses(),
}

// CheckTransition validates an UpdateStatus edge for actor. Edges outside the
// table or reserved to another command are invalid; valid edges the role may
// not drive are forbidden.
func CheckTransition(actor models.Actor, from, to models.RequestStatus) error {
	if !from.CanTransitionTo(to) || IsReserved(from, to) {
		return apperrors.InvalidTransition("request", from, to)
	}
	if !ectolinq.Contains(statusTargets[actor.Role], to) {
		return apperrors.Forbidden("%s cannot move a request to %s", actor.Role, to)
	}
	return nil
}
