package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/courier/pkg/database"
)

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

func (s NotificationStatus) IsValid() bool {
	switch s {
	case NotificationPending, NotificationSent, NotificationFailed:
		return true
	}
	return false
}

func (s NotificationStatus) String() string {
	return string(s)
}

const MaxNotificationAttempts = 3

// Notification is an outbound email waiting in the outbox.
type Notification struct {
	ID           uuid.UUID                         `db:"id" json:"id"`
	UserID       uuid.UUID                         `db:"user_id" json:"user_id"`
	Recipient    string                            `db:"recipient" json:"recipient"`
	Template     string                            `db:"template" json:"template"`
	Subject      string                            `db:"subject" json:"subject"`
	Body         string                            `db:"body" json:"body"`
	Status       NotificationStatus                `db:"status" json:"status"`
	RetryCount   int                               `db:"retry_count" json:"retry_count"`
	FailedReason *string                           `db:"failed_reason" json:"failed_reason,omitempty"`
	SentAt       *time.Time                        `db:"sent_at" json:"sent_at,omitempty"`
	Metadata     database.JSONB[map[string]string] `db:"metadata" json:"metadata"`
	CreatedAt    time.Time                         `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time                         `db:"updated_at" json:"updated_at"`
}

func (n *Notification) TableName() string {
	return "notifications"
}

// Exhausted reports whether another failure would exceed maxAttempts.
func (n *Notification) Exhausted(maxAttempts int) bool {
	return n.RetryCount+1 >= maxAttempts
}

type NotificationFilter struct {
	Status   *NotificationStatus
	Template string
	Page     int
	Limit    int
}

func (f NotificationFilter) Normalize() NotificationFilter {
	f.Page, f.Limit = normalizePaging(f.Page, f.Limit)
	return f
}

func (f NotificationFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

func (f NotificationFilter) Matches(n *Notification) bool {
	if f.Status != nil && n.Status != *f.Status {
		return false
	}
	if f.Template != "" && n.Template != f.Template {
		return false
	}
	return true
}

type NotificationPage struct {
	Data []Notification `json:"data"`
	Meta PageMeta       `json:"meta"`
}

func NewNotificationPage(items []Notification, filter NotificationFilter, total int) *NotificationPage {
	return &NotificationPage{Data: items, Meta: pageMeta(filter.Page, filter.Limit, total)}
}

type NotificationStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// Add counts one notification in status.
func (s *NotificationStats) Add(status NotificationStatus, n int) {
	s.Total += n
	switch status {
	case NotificationPending:
		s.Pending += n
	case NotificationSent:
		s.Sent += n
	case NotificationFailed:
		s.Failed += n
	}
}
