package models

import "github.com/google/uuid"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
	RoleAdmin    Role = "admin"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleCustomer, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// Actor is the verified identity every command runs as.
type Actor struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
}

func (a Actor) Is(role Role) bool {
	return a.Role == role
}

// CanSee is the request visibility rule: customers see their own requests,
// agents see the open pool plus what they claimed, admins see everything.
// Repositories express the same rule as a query predicate.
func (a Actor) CanSee(req *Request) bool {
	if req == nil || req.DeletedAt != nil {
		return false
	}
	switch a.Role {
	case RoleAdmin:
		return true
	case RoleCustomer:
		return req.CustomerID == a.UserID
	case RoleAgent:
		return req.Status == StatusPending || req.IsClaimedBy(a.UserID)
	}
	return false
}
