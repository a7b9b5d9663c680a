// Package realtime keeps the in-process room membership of connected
// subscribers and delivers fan-out events to them.
package realtime

import (
	"context"
	"sync"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/courier/pkg/fanout"
	"github.com/Ramsey-B/courier/pkg/metrics"
	"github.com/Ramsey-B/courier/pkg/models"
)

const DefaultBufferSize = 64

// Subscription is one connected client. Events arrive on C until the
// subscription is closed by Unsubscribe.
type Subscription struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Actor  models.Actor
	C      <-chan fanout.Event

	ch chan fanout.Event
}

// Hub routes events to the subscriptions joined to the event's room.
// A subscriber whose buffer is full misses the event.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[fanout.Room]map[uuid.UUID]*Subscription
	subs       map[uuid.UUID]*Subscription
	membership map[uuid.UUID]map[fanout.Room]struct{}
	bufferSize int
	logger     ectologger.Logger
}

func NewHub(logger ectologger.Logger, bufferSize int) *Hub {
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		rooms:      map[fanout.Room]map[uuid.UUID]*Subscription{},
		subs:       map[uuid.UUID]*Subscription{},
		membership: map[uuid.UUID]map[fanout.Room]struct{}{},
		bufferSize: bufferSize,
		logger:     logger,
	}
}

func (h *Hub) Name() string {
	return "realtime"
}

// Subscribe registers a subscriber for actor joined to rooms.
func (h *Hub) Subscribe(actor models.Actor, rooms ...fanout.Room) *Subscription {
	ch := make(chan fanout.Event, h.bufferSize)
	sub := &Subscription{
		ID:     uuid.New(),
		UserID: actor.UserID,
		Actor:  actor,
		C:      ch,
		ch:     ch,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub.ID] = sub
	h.membership[sub.ID] = map[fanout.Room]struct{}{}
	for _, room := range rooms {
		h.join(sub, room)
	}
	metrics.RealtimeSubscribers.Inc()
	return sub
}

func (h *Hub) join(sub *Subscription, room fanout.Room) {
	members, ok := h.rooms[room]
	if !ok {
		members = map[uuid.UUID]*Subscription{}
		h.rooms[room] = members
	}
	members[sub.ID] = sub
	h.membership[sub.ID][room] = struct{}{}
}

func (h *Hub) leave(subID uuid.UUID, room fanout.Room) {
	if members, ok := h.rooms[room]; ok {
		delete(members, subID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.membership[subID], room)
}

// JoinUser adds every live subscription of userID to room and reports how
// many were joined.
func (h *Hub) JoinUser(userID uuid.UUID, room fanout.Room) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, sub := range h.subs {
		if sub.UserID == userID {
			h.join(sub, room)
			n++
		}
	}
	return n
}

func (h *Hub) LeaveUser(userID uuid.UUID, room fanout.Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.UserID == userID {
			h.leave(sub.ID, room)
		}
	}
}

// OnlineUsers counts distinct users with role holding a live subscription
// on this instance.
func (h *Hub) OnlineUsers(role models.Role) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := map[uuid.UUID]struct{}{}
	for _, sub := range h.subs {
		if sub.Actor.Role == role {
			seen[sub.UserID] = struct{}{}
		}
	}
	return len(seen)
}

// Unsubscribe removes the subscription from all rooms and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.ID]; !ok {
		return
	}
	for room := range h.membership[sub.ID] {
		h.leave(sub.ID, room)
	}
	delete(h.membership, sub.ID)
	delete(h.subs, sub.ID)
	close(sub.ch)
	metrics.RealtimeSubscribers.Dec()
}

// Rooms returns the rooms sub is joined to.
func (h *Hub) Rooms(sub *Subscription) []fanout.Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]fanout.Room, 0, len(h.membership[sub.ID]))
	for room := range h.membership[sub.ID] {
		rooms = append(rooms, room)
	}
	return rooms
}

// Deliver implements fanout.Sink. Members of a request room that can no
// longer see the request are removed from the room instead of receiving it.
func (h *Hub) Deliver(ctx context.Context, event fanout.Event) error {
	var revoked []*Subscription

	h.mu.RLock()
	for _, sub := range h.rooms[event.Room] {
		if !sub.canReceive(event) {
			revoked = append(revoked, sub)
			continue
		}
		select {
		case sub.ch <- event:
		default:
			metrics.EventsDroppedTotal.WithLabelValues("slow_subscriber").Inc()
			h.logger.WithContext(ctx).WithFields(map[string]any{
				"subscription_id": sub.ID,
				"room":            event.Room,
				"event":           event.Name,
			}).Warn("realtime subscriber buffer full, dropping event")
		}
	}
	h.mu.RUnlock()

	if len(revoked) == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range revoked {
		h.leave(sub.ID, event.Room)
		h.logger.WithContext(ctx).WithFields(map[string]any{
			"subscription_id": sub.ID,
			"user_id":         sub.UserID,
			"room":            event.Room,
		}).Debug("subscriber lost visibility, leaving request room")
	}
	return nil
}

// canReceive applies request visibility to events in the request's own room.
// Deletion is announced to everyone who could see the request before it.
func (s *Subscription) canReceive(event fanout.Event) bool {
	if event.Payload.Request == nil || event.Room != fanout.RequestRoom(event.RequestID) {
		return true
	}
	req := *event.Payload.Request
	req.DeletedAt = nil
	return s.Actor.CanSee(&req)
}
