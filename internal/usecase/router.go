package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
	"github.com/denkuservices/denku-mvp-sub000/pkg/utils"
)

// EventHandler processes one normalized event for a resolved tenant. A
// returned error fails the delivery; swallowed failures go on out.
type EventHandler func(ctx context.Context, evt *model.CallEvent, ref *model.TenantRef, out *model.Outcome) error

// Router routes events to the appropriate handler based on event kind
type Router struct {
	handlers       map[model.EventKind]EventHandler
	defaultHandler EventHandler
}

// NewRouter creates a new event router
func NewRouter() *Router {
	return &Router{
		handlers: make(map[model.EventKind]EventHandler),
	}
}

// Register registers a handler for an event kind
func (r *Router) Register(kind model.EventKind, handler EventHandler) {
	r.handlers[kind] = handler
}

// RegisterDefault registers a default handler for unregistered kinds
func (r *Router) RegisterDefault(handler EventHandler) {
	r.defaultHandler = handler
}

// Route dispatches evt. Any event that ends the call goes to the KindEnded
// handler unless its own kind is registered as terminal. A panicking handler
// fails the delivery with an error.
func (r *Router) Route(ctx context.Context, evt *model.CallEvent, ref *model.TenantRef, out *model.Outcome) error {
	kind := routeKind(evt)
	log := logger.FromContext(ctx).With(
		zap.String("event_kind", string(evt.Kind)),
		zap.String("route", string(kind)),
		zap.String("shape", string(evt.Shape)),
	)
	ctx = logger.WithLogger(ctx, log)

	handler, ok := r.handlers[kind]
	if !ok && r.defaultHandler != nil {
		log.Debug("No specific handler for event kind, using default")
		handler = r.defaultHandler
	} else if !ok {
		log.Error("No handler registered for event kind")
		return nil
	}
	dispatch := utils.WrapWithContextRecovery("route_"+string(kind), func(ctx context.Context) error {
		return handler(ctx, evt, ref, out)
	})
	return dispatch(ctx)
}

func routeKind(evt *model.CallEvent) model.EventKind {
	if evt.IsTerminal() && evt.Kind != model.KindEndOfCallReport {
		return model.KindEnded
	}
	return evt.Kind
}
