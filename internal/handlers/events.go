package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/courier/pkg/fanout"
	"github.com/Ramsey-B/courier/pkg/lifecycle"
	"github.com/Ramsey-B/courier/pkg/realtime"
)

const DefaultKeepAlive = 15 * time.Second

// EventHandler streams room events to connected clients over SSE.
type EventHandler struct {
	hub       *realtime.Hub
	engine    *lifecycle.Engine
	logger    ectologger.Logger
	keepAlive time.Duration
}

func NewEventHandler(hub *realtime.Hub, engine *lifecycle.Engine, logger ectologger.Logger, keepAlive time.Duration) *EventHandler {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &EventHandler{hub: hub, engine: engine, logger: logger, keepAlive: keepAlive}
}

func (h *EventHandler) Register(g *echo.Group) {
	g.GET("", h.Stream)
	g.POST("/subscriptions/:id", h.Subscribe)
	g.DELETE("/subscriptions/:id", h.Unsubscribe)
}

type SubscriptionResponse struct {
	Room   fanout.Room `json:"room"`
	Joined int         `json:"joined"`
}

// Stream holds the connection open and writes every event of the caller's
// user and role rooms, plus any request rooms joined later.
// GET /api/v1/events
func (h *EventHandler) Stream(c echo.Context) error {
	actor, err := GetActor(c)
	if err != nil {
		return err
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := h.hub.Subscribe(actor, fanout.UserRoom(actor.UserID), fanout.RoleRoom(actor.Role))
	defer h.hub.Unsubscribe(sub)

	ctx := c.Request().Context()
	log := h.logger.WithContext(ctx).WithFields(map[string]any{
		"subscription_id": sub.ID,
		"user_id":         actor.UserID,
	})
	log.Debug("event stream opened")
	defer log.Debug("event stream closed")

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return nil
	}
	w.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case event, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := writeEvent(w, event); err != nil {
				log.WithError(err).Debug("failed to write event")
				return nil
			}
			w.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event fanout.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", event.Name, event.ID, data)
	return err
}

// Subscribe joins the caller's open streams to a request room
// POST /api/v1/events/subscriptions/:id
func (h *EventHandler) Subscribe(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	if _, err := h.engine.Get(c.Request().Context(), actor, id); err != nil {
		return err
	}
	room := fanout.RequestRoom(id)
	return SuccessResponse(c, SubscriptionResponse{Room: room, Joined: h.hub.JoinUser(actor.UserID, room)})
}

// Unsubscribe leaves a request room
// DELETE /api/v1/events/subscriptions/:id
func (h *EventHandler) Unsubscribe(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	h.hub.LeaveUser(actor.UserID, fanout.RequestRoom(id))
	return NoContentResponse(c)
}
