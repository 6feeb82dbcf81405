package consumer

import (
	"context"
	"errors"
)

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(context.Context, Message) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Router runs every Always handler for each message, then the handlers routed to the
// message's event type. Event types with no route are acknowledged after the Always handlers.
type Router struct {
	always []Handler
	routes map[string][]Handler
}

// NewRouter constructs a Router whose always handlers see every message.
func NewRouter(always ...Handler) *Router {
	return &Router{always: always, routes: make(map[string][]Handler)}
}

// Route registers h for each of the event types.
func (r *Router) Route(h Handler, eventTypes ...string) *Router {
	for _, eventType := range eventTypes {
		r.routes[eventType] = append(r.routes[eventType], h)
	}
	return r
}

// Handle implements Handler. An always-handler failure stops the message; routed handler
// failures are joined so one collaborator cannot starve another.
func (r *Router) Handle(ctx context.Context, msg Message) error {
	for _, h := range r.always {
		if err := h.Handle(ctx, msg); err != nil {
			return err
		}
	}
	var errs error
	for _, h := range r.routes[msg.EventType] {
		if err := h.Handle(ctx, msg); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}
