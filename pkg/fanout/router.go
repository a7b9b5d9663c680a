package fanout

import (
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/google/uuid"

	"github.com/Ramsey-B/courier/pkg/models"
)

type TransitionKind string

const (
	TransitionCreated           TransitionKind = "created"
	TransitionUpdated           TransitionKind = "updated"
	TransitionClaimed           TransitionKind = "claimed"
	TransitionUnclaimed         TransitionKind = "unclaimed"
	TransitionStatusUpdated     TransitionKind = "status_updated"
	TransitionDeleted           TransitionKind = "deleted"
	TransitionResolutionCreated TransitionKind = "resolution_created"
	TransitionResolutionUpdated TransitionKind = "resolution_updated"
	TransitionResolutionAccept  TransitionKind = "resolution_accepted"
	TransitionResolutionReject  TransitionKind = "resolution_rejected"
)

// Transition is a committed change to a request or its resolution.
type Transition struct {
	Kind    TransitionKind
	Request models.Request
	// Resolution is set for resolution transitions.
	Resolution     *models.Resolution
	PreviousStatus models.RequestStatus
	// AgentID is the agent involved when the request itself no longer says so.
	AgentID *uuid.UUID
	At      time.Time
}

func (t Transition) agent() *uuid.UUID {
	if t.Request.ClaimedByAgentID != nil {
		return t.Request.ClaimedByAgentID
	}
	if t.AgentID != nil {
		return t.AgentID
	}
	if t.Resolution != nil {
		id := t.Resolution.AgentID
		return &id
	}
	return nil
}

type delivery struct {
	room Room
	name EventName
}

// Route maps a transition onto its room deliveries. Every request event is
// mirrored to the admin room. Resolution payloads sent anywhere a customer
// can listen have internal notes removed.
func Route(t Transition) []Event {
	customer := UserRoom(t.Request.CustomerID)
	requestRoom := RequestRoom(t.Request.ID)

	var deliveries []delivery
	add := func(room Room, name EventName) {
		d := delivery{room: room, name: name}
		if !ectolinq.Contains(deliveries, d) {
			deliveries = append(deliveries, d)
		}
	}

	switch t.Kind {
	case TransitionCreated:
		add(RoomAgents, EventRequestNew)
	case TransitionUpdated:
		add(RoomAgents, EventRequestUpdated)
		add(requestRoom, EventRequestUpdated)
	case TransitionClaimed:
		add(customer, EventRequestClaimed)
		add(requestRoom, EventRequestUpdated)
		add(RoomAgents, EventRequestClaimed)
	case TransitionUnclaimed:
		add(RoomAgents, EventRequestAvailable)
		add(requestRoom, EventRequestUpdated)
	case TransitionStatusUpdated:
		add(customer, EventRequestUpdated)
		if agent := t.agent(); agent != nil {
			add(UserRoom(*agent), EventRequestUpdated)
		}
		add(requestRoom, EventRequestUpdated)
	case TransitionDeleted:
		add(RoomAgents, EventRequestDeleted)
		add(requestRoom, EventRequestDeleted)
	case TransitionResolutionCreated:
		add(customer, EventResolutionProvided)
		add(requestRoom, EventResolutionNew)
	case TransitionResolutionUpdated:
		add(customer, EventResolutionUpdated)
		add(requestRoom, EventResolutionUpdated)
	case TransitionResolutionAccept, TransitionResolutionReject:
		name := EventResolutionAccepted
		if t.Kind == TransitionResolutionReject {
			name = EventResolutionRejected
		}
		if agent := t.agent(); agent != nil {
			add(UserRoom(*agent), name)
		}
		add(requestRoom, EventResolutionUpdated)
	}

	for _, d := range deliveries {
		if d.name.IsRequestEvent() {
			add(RoomAdmins, d.name)
		}
	}

	final := t.Kind == TransitionDeleted || t.Request.Status.IsTerminal()
	agent := t.agent()

	events := make([]Event, 0, len(deliveries))
	for _, d := range deliveries {
		req := t.Request
		payload := Payload{
			Request:        &req,
			PreviousStatus: t.PreviousStatus,
			AgentID:        agent,
		}
		if t.Resolution != nil {
			res := *t.Resolution
			if agent == nil || d.room != UserRoom(*agent) {
				res = res.ViewFor(models.RoleCustomer)
			}
			payload.Resolution = &res
		}
		events = append(events, Event{
			ID:        uuid.New(),
			Room:      d.room,
			Name:      d.name,
			RequestID: t.Request.ID,
			Version:   t.Request.Version,
			Payload:   payload,
			At:        t.At,
			Final:     final,
		})
	}
	return events
}
