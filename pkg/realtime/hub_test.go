package realtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/courier/pkg/fanout"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/realtime"
)

func newHub(buffer int) *realtime.Hub {
	return realtime.NewHub(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}), buffer)
}

func actor(id uuid.UUID, role models.Role) models.Actor {
	return models.Actor{UserID: id, Role: role}
}

func TestHub_DeliversToJoinedRooms(t *testing.T) {
	hub := newHub(4)
	user := uuid.New()
	sub := hub.Subscribe(actor(user, models.RoleAgent), fanout.UserRoom(user), fanout.RoomAgents)
	defer hub.Unsubscribe(sub)

	ctx := context.Background()
	require.NoError(t, hub.Deliver(ctx, fanout.Event{Room: fanout.RoomAgents, Name: fanout.EventRequestNew}))
	require.NoError(t, hub.Deliver(ctx, fanout.Event{Room: fanout.RoomAdmins, Name: fanout.EventRequestNew}))

	require.Len(t, sub.C, 1)
	got := <-sub.C
	assert.Equal(t, fanout.RoomAgents, got.Room)
}

func TestHub_JoinAndLeaveUser(t *testing.T) {
	hub := newHub(4)
	user := uuid.New()
	a := hub.Subscribe(actor(user, models.RoleCustomer))
	b := hub.Subscribe(actor(user, models.RoleCustomer))
	other := hub.Subscribe(actor(uuid.New(), models.RoleCustomer))
	defer hub.Unsubscribe(a)
	defer hub.Unsubscribe(b)
	defer hub.Unsubscribe(other)

	room := fanout.RequestRoom(uuid.New())
	assert.Equal(t, 2, hub.JoinUser(user, room))

	require.NoError(t, hub.Deliver(context.Background(), fanout.Event{Room: room}))
	assert.Len(t, a.C, 1)
	assert.Len(t, b.C, 1)
	assert.Len(t, other.C, 0)

	hub.LeaveUser(user, room)
	assert.Empty(t, hub.Rooms(a))
	require.NoError(t, hub.Deliver(context.Background(), fanout.Event{Room: room}))
	assert.Len(t, a.C, 1)
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := newHub(1)
	sub := hub.Subscribe(actor(uuid.New(), models.RoleAgent), fanout.RoomAgents)
	defer hub.Unsubscribe(sub)

	for i := 0; i < 5; i++ {
		require.NoError(t, hub.Deliver(context.Background(), fanout.Event{Room: fanout.RoomAgents}))
	}
	assert.Len(t, sub.C, 1)
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := newHub(1)
	sub := hub.Subscribe(actor(uuid.New(), models.RoleAgent), fanout.RoomAgents)
	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	_, open := <-sub.C
	assert.False(t, open)
	require.NoError(t, hub.Deliver(context.Background(), fanout.Event{Room: fanout.RoomAgents}))
}

func TestHub_RequestRoomDropsMembersWhoLoseVisibility(t *testing.T) {
	hub := newHub(4)
	customer, winner, loser := uuid.New(), uuid.New(), uuid.New()
	owner := hub.Subscribe(actor(customer, models.RoleCustomer))
	claimer := hub.Subscribe(actor(winner, models.RoleAgent))
	watcher := hub.Subscribe(actor(loser, models.RoleAgent))
	defer hub.Unsubscribe(owner)
	defer hub.Unsubscribe(claimer)
	defer hub.Unsubscribe(watcher)

	req := models.Request{ID: uuid.New(), CustomerID: customer, Status: models.StatusPending}
	room := fanout.RequestRoom(req.ID)
	hub.JoinUser(customer, room)
	hub.JoinUser(winner, room)
	hub.JoinUser(loser, room)

	req.Status = models.StatusClaimed
	req.ClaimedByAgentID = &winner
	require.NoError(t, hub.Deliver(context.Background(), fanout.Event{
		Room:      room,
		Name:      fanout.EventRequestUpdated,
		RequestID: req.ID,
		Payload:   fanout.Payload{Request: &req},
	}))

	assert.Len(t, owner.C, 1)
	assert.Len(t, claimer.C, 1)
	assert.Len(t, watcher.C, 0)
	assert.NotContains(t, hub.Rooms(watcher), room)
	assert.Contains(t, hub.Rooms(claimer), room)
}

func TestHub_DeletionReachesRequestRoom(t *testing.T) {
	hub := newHub(4)
	customer, agent := uuid.New(), uuid.New()
	owner := hub.Subscribe(actor(customer, models.RoleCustomer))
	watcher := hub.Subscribe(actor(agent, models.RoleAgent))
	defer hub.Unsubscribe(owner)
	defer hub.Unsubscribe(watcher)

	deletedAt := time.Now()
	req := models.Request{ID: uuid.New(), CustomerID: customer, Status: models.StatusPending, DeletedAt: &deletedAt}
	room := fanout.RequestRoom(req.ID)
	hub.JoinUser(customer, room)
	hub.JoinUser(agent, room)

	require.NoError(t, hub.Deliver(context.Background(), fanout.Event{
		Room:      room,
		Name:      fanout.EventRequestDeleted,
		RequestID: req.ID,
		Payload:   fanout.Payload{Request: &req},
	}))
	assert.Len(t, owner.C, 1)
	assert.Len(t, watcher.C, 1)
}

func TestHub_OnlineUsersCountsDistinctUsers(t *testing.T) {
	hub := newHub(4)
	agent := uuid.New()

	first := hub.Subscribe(actor(agent, models.RoleAgent), fanout.RoomAgents)
	second := hub.Subscribe(actor(agent, models.RoleAgent), fanout.RoomAgents)
	other := hub.Subscribe(actor(uuid.New(), models.RoleAgent), fanout.RoomAgents)
	customer := hub.Subscribe(actor(uuid.New(), models.RoleCustomer))
	defer hub.Unsubscribe(customer)

	assert.Equal(t, 2, hub.OnlineUsers(models.RoleAgent))
	assert.Equal(t, 1, hub.OnlineUsers(models.RoleCustomer))
	assert.Zero(t, hub.OnlineUsers(models.RoleAdmin))

	hub.Unsubscribe(first)
	hub.Unsubscribe(other)
	assert.Equal(t, 1, hub.OnlineUsers(models.RoleAgent))

	hub.Unsubscribe(second)
	assert.Zero(t, hub.OnlineUsers(models.RoleAgent))
}
