package fanout

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/courier/pkg/models"
)

// Room names a set of realtime subscribers.
type Room string

const (
	RoomAgents Room = "role:agent"
	RoomAdmins Room = "role:admin"
)

func UserRoom(id uuid.UUID) Room {
	return Room("user:" + id.String())
}

func RoleRoom(role models.Role) Room {
	return Room("role:" + string(role))
}

func RequestRoom(id uuid.UUID) Room {
	return Room("request:" + id.String())
}

func (r Room) String() string {
	return string(r)
}

type EventName string

const (
	EventRequestNew         EventName = "request:new"
	EventRequestClaimed     EventName = "request:claimed"
	EventRequestAvailable   EventName = "request:available"
	EventRequestUpdated     EventName = "request:updated"
	EventRequestDeleted     EventName = "request:deleted"
	EventResolutionProvided EventName = "resolution:provided"
	EventResolutionNew      EventName = "resolution:new"
	EventResolutionUpdated  EventName = "resolution:updated"
	EventResolutionAccepted EventName = "resolution:accepted"
	EventResolutionRejected EventName = "resolution:rejected"
)

func (n EventName) IsRequestEvent() bool {
	return len(n) > len("request:") && n[:len("request:")] == "request:"
}

// Payload is the body delivered with an event.
type Payload struct {
	Request        *models.Request      `json:"request,omitempty"`
	Resolution     *models.Resolution   `json:"resolution,omitempty"`
	PreviousStatus models.RequestStatus `json:"previous_status,omitempty"`
	AgentID        *uuid.UUID           `json:"agent_id,omitempty"`
}

// Event is one delivery: a named event addressed to one room.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Room      Room      `json:"room"`
	Name      EventName `json:"event"`
	RequestID uuid.UUID `json:"request_id"`
	// Version is the request version the event was produced from.
	Version int       `json:"version"`
	Payload Payload   `json:"payload"`
	At      time.Time `json:"at"`
	// Final marks the last event a request will produce.
	Final       bool   `json:"-"`
	TraceParent string `json:"-"`
}

// Email asks for a templated email to a known user.
type Email struct {
	UserID   uuid.UUID
	Template string
	Data     map[string]any
}

const (
	TemplateRequestCreated       = "request_created"
	TemplateRequestClaimed       = "request_claimed"
	TemplateRequestStatusUpdated = "request_status_updated"
	TemplateResolutionProvided   = "resolution_provided"
	TemplateResolutionAccepted   = "resolution_accepted"
	TemplateResolutionRejected   = "resolution_rejected"
)

// Notifier receives committed side effects. Implementations must not block
// the caller and never fail the command that produced the side effect.
type Notifier interface {
	Emit(ctx context.Context, events ...Event)
	SendEmail(ctx context.Context, email Email)
}

// Discard is a Notifier that drops everything.
type Discard struct{}

func (Discard) Emit(context.Context, ...Event) {}

func (Discard) SendEmail(context.Context, Email) {}
