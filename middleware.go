package linerpc

import "context"

// Handler represents the next step in the middleware chain.
type Handler func(ctx context.Context, req *Request) (any, error)

// Middleware wraps a Handler to add cross-cutting behavior.
// A middleware may short-circuit by returning without calling next.
type Middleware func(next Handler) Handler

// Layer is a middleware attached to a router together with the metadata
// shown in generated documentation.
type Layer struct {
	Name       string
	Label      string
	Doc        string
	Middleware Middleware
}

// chain composes layers around final. layers[0] is outermost: it runs first
// on the way in and last on the way out.
func chain(layers []Layer, final Handler) Handler {
	handler := final
	for i := len(layers) - 1; i >= 0; i-- {
		handler = layers[i].Middleware(handler)
	}
	return handler
}
