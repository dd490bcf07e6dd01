package msg

import (
	"context"
	"encoding/json"

	"github.com/lyonslab/yerba/common/gerror"
	"github.com/lyonslab/yerba/common/logger"
	"github.com/lyonslab/yerba/server/api/msg/documents"
)

// Route names accepted on the message socket.
const (
	RouteHealth    = "health"
	RouteSchedule  = "schedule"
	RouteCancel    = "cancel"
	RouteGetStatus = "get_status"
	RouteWorkflows = "workflows"
	RouteRestart   = "restart"
	RouteShutdown  = "shutdown"
)

// HandlerFunc serves one named request. data is the raw payload from the
// request envelope; the returned value is framed back to the client.
type HandlerFunc func(ctx context.Context, data json.RawMessage) (interface{}, error)

// Router dispatches request envelopes to named handlers.
type Router struct {
	routes map[string]HandlerFunc
	logger.Log
}

func NewRouter(logFactory logger.LogFactory) *Router {
	return &Router{
		routes: make(map[string]HandlerFunc),
		Log:    logFactory("Router"),
	}
}

// Handle registers a handler under a route name, replacing any existing
// registration.
func (r *Router) Handle(name string, handler HandlerFunc) {
	r.routes[name] = handler
}

// Dispatch routes an envelope to its handler. The envelope must name a
// registered route and carry a data key.
// Returns a RouteNotFound error if it does not.
func (r *Router) Dispatch(ctx context.Context, envelope *documents.RequestEnvelope) (interface{}, error) {
	if envelope.Data == nil {
		return nil, gerror.NewErrRouteNotFound("The request could not be routed.")
	}
	handler, ok := r.routes[envelope.Request]
	if !ok {
		return nil, gerror.NewErrRouteNotFound("The request could not be routed.")
	}
	r.Debugf("Dispatching %q request", envelope.Request)
	return handler(ctx, envelope.Data)
}
