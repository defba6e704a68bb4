package dispatcher

import (
	"context"

	dapi "github.com/goliatone/go-dapi"
)

// InvokeHandler executes one dispatch step in a middleware chain.
type InvokeHandler func(context.Context, dapi.Request) dapi.Envelope

// Middleware wraps dispatch with cross-cutting behavior.
type Middleware func(next InvokeHandler) InvokeHandler

func applyMiddleware(middleware []Middleware, handler InvokeHandler) InvokeHandler {
	for i := len(middleware) - 1; i >= 0; i-- {
		current := middleware[i]
		if current == nil {
			continue
		}
		handler = current(handler)
	}
	return handler
}
