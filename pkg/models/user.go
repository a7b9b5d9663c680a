package models

import (
	"time"

	"github.com/google/uuid"
)

// subjectNamespace derives stable ids for identity provider subjects that are not uuids.
var subjectNamespace = uuid.MustParse("6f1c9a52-6f0e-4d7e-9d2a-3c8c2f1b7a10")

// UserIDFromSubject maps an identity provider subject onto a user id.
func UserIDFromSubject(subject string) uuid.UUID {
	if id, err := uuid.Parse(subject); err == nil {
		return id
	}
	return uuid.NewSHA1(subjectNamespace, []byte(subject))
}

type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserInactive UserStatus = "inactive"
	UserBlocked  UserStatus = "blocked"
)

func (s UserStatus) IsValid() bool {
	switch s {
	case UserActive, UserInactive, UserBlocked:
		return true
	}
	return false
}

func (s UserStatus) String() string {
	return string(s)
}

type User struct {
	ID     uuid.UUID  `db:"id" json:"id"`
	Email  string     `db:"email" json:"email"`
	Name   string     `db:"name" json:"name"`
	Phone  *string    `db:"phone" json:"phone,omitempty"`
	Role   Role       `db:"role" json:"role"`
	Status UserStatus `db:"status" json:"status"`
	// RoleAssigned pins Role against the identity provider's claim once an admin sets it.
	RoleAssigned bool      `db:"role_assigned" json:"role_assigned"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

func (u *User) TableName() string {
	return "users"
}

func (u *User) Actor() Actor {
	return Actor{UserID: u.ID, Role: u.Role}
}

// IsActive reports whether the account may use the API.
func (u *User) IsActive() bool {
	return u.Status == "" || u.Status == UserActive
}

type UserFilter struct {
	Role   *Role
	Status *UserStatus
	Page   int
	Limit  int
}

func (f UserFilter) Normalize() UserFilter {
	f.Page, f.Limit = normalizePaging(f.Page, f.Limit)
	return f
}

func (f UserFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

func (f UserFilter) Matches(u *User) bool {
	if f.Role != nil && u.Role != *f.Role {
		return false
	}
	if f.Status != nil && u.Status != *f.Status {
		return false
	}
	return true
}

type UserPage struct {
	Data []User   `json:"data"`
	Meta PageMeta `json:"meta"`
}

func NewUserPage(users []User, filter UserFilter, total int) *UserPage {
	return &UserPage{Data: users, Meta: pageMeta(filter.Page, filter.Limit, total)}
}
