package models

import "github.com/Gobusters/ectolinq"

// RequestStatus is the lifecycle state of a delivery request.
type RequestStatus string

const (
	StatusPending            RequestStatus = "pending"
	StatusClaimed            RequestStatus = "claimed"
	StatusResolutionProvided RequestStatus = "resolution_provided"
	StatusPayment            RequestStatus = "payment"
	StatusVerification       RequestStatus = "verification"
	StatusConfirmed          RequestStatus = "confirmed"
	StatusCompleted          RequestStatus = "completed"
	StatusCancelled          RequestStatus = "cancelled"
)

// transitions is the canonical adjacency table. Anything not listed is rejected.
var transitions = map[RequestStatus][]RequestStatus{
	StatusPending:            {StatusClaimed, StatusCancelled},
	StatusClaimed:            {StatusResolutionProvided, StatusPending, StatusCancelled},
	StatusResolutionProvided: {StatusPayment, StatusClaimed, StatusCancelled},
	StatusPayment:            {StatusVerification, StatusCancelled},
	StatusVerification:       {StatusConfirmed, StatusCancelled},
	StatusConfirmed:          {StatusCompleted, StatusCancelled},
	StatusCompleted:          {},
	StatusCancelled:          {},
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []RequestStatus {
	return []RequestStatus{
		StatusPending,
		StatusClaimed,
		StatusResolutionProvided,
		StatusPayment,
		StatusVerification,
		StatusConfirmed,
		StatusCompleted,
		StatusCancelled,
	}
}

func (s RequestStatus) String() string {
	return string(s)
}

func (s RequestStatus) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

func (s RequestStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// HoldsClaim reports whether a request in this status must carry a claiming agent.
func (s RequestStatus) HoldsClaim() bool {
	switch s {
	case StatusClaimed, StatusResolutionProvided, StatusPayment, StatusVerification, StatusConfirmed:
		return true
	}
	return false
}

// Next returns the statuses reachable from s in one step.
func (s RequestStatus) Next() []RequestStatus {
	next := transitions[s]
	out := make([]RequestStatus, len(next))
	copy(out, next)
	return out
}

func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	return ectolinq.Contains(transitions[s], next)
}
