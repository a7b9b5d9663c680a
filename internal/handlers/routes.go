package handlers

import "github.com/labstack/echo/v4"

// Handlers groups every API handler. DeadLetters is nil when Redis is off.
type Handlers struct {
	Requests      *RequestHandler
	Resolutions   *ResolutionHandler
	Pricing       *PricingHandler
	Events        *EventHandler
	Users         *UserHandler
	Admin         *AdminHandler
	Notifications *NotificationHandler
	DeadLetters   *DeadLetterHandler
}

// Register mounts the handlers under api, which must already carry the
// authentication middleware.
func (h Handlers) Register(api *echo.Group) {
	requests := api.Group("/requests")
	h.Requests.Register(requests)
	h.Resolutions.Register(api.Group("/resolutions"), requests)
	h.Pricing.Register(api.Group("/pricing"))
	h.Events.Register(api.Group("/events"))
	h.Users.Register(api.Group("/users"))
	h.Admin.Register(api.Group("/admin"))
	h.Notifications.Register(api.Group("/notifications"))
	if h.DeadLetters != nil {
		h.DeadLetters.Register(api.Group("/notifications/dead-letters"))
	}
}
