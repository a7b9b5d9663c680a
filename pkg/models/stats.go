package models

import "time"

// RecentWindow is how far back the dashboard's "recent" counters look.
const RecentWindow = 7 * 24 * time.Hour

type UserCounts struct {
	Total         int `json:"total"`
	Customers     int `json:"customers"`
	Agents        int `json:"agents"`
	Admins        int `json:"admins"`
	Blocked       int `json:"blocked"`
	OnlineAgents  int `json:"online_agents"`
	RecentSignups int `json:"recent_signups"`
}

// Add counts n users with role.
func (c *UserCounts) Add(role Role, n int) {
	c.Total += n
	switch role {
	case RoleCustomer:
		c.Customers += n
	case RoleAgent:
		c.Agents += n
	case RoleAdmin:
		c.Admins += n
	}
}

type RequestCounts struct {
	Total    int                   `json:"total"`
	ByStatus map[RequestStatus]int `json:"by_status"`
	Recent   int                   `json:"recent"`
}

func NewRequestCounts() RequestCounts {
	statuses := AllStatuses()
	byStatus := make(map[RequestStatus]int, len(statuses))
	for _, s := range statuses {
		byStatus[s] = 0
	}
	return RequestCounts{ByStatus: byStatus}
}

type ResolutionCounts struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// Add counts n resolutions in status.
func (c *ResolutionCounts) Add(status ResolutionStatus, n int) {
	c.Total += n
	switch status {
	case ResolutionPending:
		c.Pending += n
	case ResolutionAccepted:
		c.Accepted += n
	case ResolutionRejected:
		c.Rejected += n
	}
}

type DashboardStats struct {
	Users       UserCounts       `json:"users"`
	Requests    RequestCounts    `json:"requests"`
	Resolutions ResolutionCounts `json:"resolutions"`
	GeneratedAt time.Time        `json:"generated_at"`
}
