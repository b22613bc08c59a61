package linerpc

import "context"

type contextKey int

const (
	serverKey contextKey = iota
	sessionKey
	requestKey
	routeKey
)

// ServerFromContext returns the Server dispatching the current request.
// Returns nil if not present.
func ServerFromContext(ctx context.Context) *Server {
	if s, ok := ctx.Value(serverKey).(*Server); ok {
		return s
	}
	return nil
}

// StreamFromContext returns the Stream of the session the current request
// arrived on. Returns nil if not present.
func StreamFromContext(ctx context.Context) *Stream {
	if s, ok := ctx.Value(sessionKey).(*session); ok {
		return s.stream
	}
	return nil
}

// RequestFromContext returns the Request being dispatched.
// Returns nil if not present.
func RequestFromContext(ctx context.Context) *Request {
	if req, ok := ctx.Value(requestKey).(*Request); ok {
		return req
	}
	return nil
}

// RoutePathFromContext returns the resolved method path of the current
// request, with the server name elided.
func RoutePathFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(routeKey).(string); ok {
		return p
	}
	return ""
}

func withServer(ctx context.Context, s *Server) context.Context {
	return context.WithValue(ctx, serverKey, s)
}

func withSession(ctx context.Context, s *session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

func withRequest(ctx context.Context, req *Request) context.Context {
	return context.WithValue(ctx, requestKey, req)
}

func withRoutePath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, routeKey, path)
}
