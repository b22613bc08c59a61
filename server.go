package linerpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/linerpc/linerpc/tasks"
)

// ServerOptions configures the server.
type ServerOptions struct {
	// Label is a human-readable title used in documentation. Default: the
	// server name.
	Label string
	// Version is reported in documentation. Default: "0.0.0"
	Version string
	// Logger receives session and task events. Default: discard.
	Logger *slog.Logger
}

func defaultServerOptions(name string) ServerOptions {
	return ServerOptions{
		Label:   name,
		Version: "0.0.0",
		Logger:  slog.New(slog.DiscardHandler),
	}
}

// Server owns the method tree, the task registry and the dispatch loop.
// It serves one peer at a time.
type Server struct {
	name    string
	options ServerOptions
	root    *Router
	tasks   *tasks.Registry
	logger  *slog.Logger

	mu     sync.Mutex
	routes map[string]*route
}

// route is a resolved method with its middleware composed once.
type route struct {
	path    string
	method  *Method
	layers  []Layer
	handler Handler
}

// NewServer creates a server. name is the root namespace: a leading path
// segment equal to it is ignored when resolving methods.
// An optional ServerOptions can be passed to configure server behavior.
func NewServer(name string, opts ...ServerOptions) *Server {
	options := defaultServerOptions(name)
	if len(opts) > 0 {
		opt := opts[0]
		if opt.Label != "" {
			options.Label = opt.Label
		}
		if opt.Version != "" {
			options.Version = opt.Version
		}
		if opt.Logger != nil {
			options.Logger = opt.Logger
		}
	}

	return &Server{
		name:    name,
		options: options,
		root:    NewRouter("", options.Label),
		tasks:   tasks.New(options.Logger),
		logger:  options.Logger,
		routes:  make(map[string]*route),
	}
}

// Name returns the root namespace name.
func (s *Server) Name() string { return s.name }

// Router returns the root of the method tree.
func (s *Server) Router() *Router { return s.root }

// Tasks returns the registry of running background tasks.
func (s *Server) Tasks() *tasks.Registry { return s.tasks }

// Use adds root middleware. It runs before the middleware of any namespace.
func (s *Server) Use(layers ...Layer) {
	s.root.Use(layers...)
}

// Register attaches m to a dotted path below the root.
func (s *Server) Register(path, label string, m *Method) error {
	return s.root.Register(path, label, m)
}

// MustRegister is like Register but panics on error.
func (s *Server) MustRegister(path, label string, m *Method) {
	s.root.MustRegister(path, label, m)
}

// Mount grafts a router below the root.
func (s *Server) Mount(r *Router) error {
	return s.root.Mount(r)
}

// MustMount is like Mount but panics on error.
func (s *Server) MustMount(r *Router) {
	s.root.MustMount(r)
}

// Resolve finds the method registered at path and the middleware that
// applies to it, root first.
func (s *Server) Resolve(path string) (*Method, []Layer, error) {
	rt, err := s.route(path)
	if err != nil {
		return nil, nil, err
	}
	return rt.method, append([]Layer(nil), rt.layers...), nil
}

func (s *Server) segments(path string) []string {
	segments := strings.Split(path, ".")
	if len(segments) > 1 && segments[0] == s.name {
		segments = segments[1:]
	}
	return segments
}

func (s *Server) route(path string) (*route, error) {
	s.mu.Lock()
	rt, ok := s.routes[path]
	s.mu.Unlock()
	if ok {
		return rt, nil
	}

	segments := s.segments(path)
	m, layers, err := s.root.resolve(segments)
	if err != nil {
		return nil, err
	}
	final := func(ctx context.Context, req *Request) (any, error) {
		args, err := bind(m.Params, req.Params, StreamFromContext(ctx))
		if err != nil {
			return nil, err
		}
		return m.Func(ctx, args)
	}
	rt = &route{
		path:    strings.Join(segments, "."),
		method:  m,
		layers:  layers,
		handler: chain(layers, final),
	}

	s.mu.Lock()
	if cached, ok := s.routes[path]; ok {
		rt = cached
	} else {
		s.routes[path] = rt
	}
	s.mu.Unlock()
	return rt, nil
}

// Serve runs the dispatch loop on t until the peer closes its side, ctx is
// done, or a request fails with an error that is not a protocol error.
// Serve closes t before returning. Background tasks started during the
// session are canceled and awaited.
//
// A clean end of input returns nil.
func (s *Server) Serve(ctx context.Context, t Transport) error {
	ctx, cancel := context.WithCancel(withServer(ctx, s))
	defer cancel()

	sess := newSession(ctx, s, t)
	stop := context.AfterFunc(ctx, func() {
		_ = t.Close()
	})
	defer stop()

	started := time.Now()
	s.logger.Info("session opened", "server", s.name)
	defer func() {
		cancel()
		s.tasks.CancelAll()
		sess.close()
		_ = t.Close()
		s.logger.Info("session closed", "server", s.name, "duration_ms", time.Since(started).Milliseconds())
	}()

	lines := readLines(ctx, t)
	for {
		var rl readResult
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rl = <-lines:
		}
		if rl.err != nil {
			if errors.Is(rl.err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("linerpc: read: %w", rl.err)
		}
		if err := s.handleLine(ctx, sess, rl.line); err != nil {
			return err
		}
	}
}

type readResult struct {
	line []byte
	err  error
}

// readLines reads t in its own goroutine so the loop can give up on ctx even
// when Close cannot interrupt a pending read, as with standard input. The
// abandoned read ends when the peer closes its side or the process exits.
func readLines(ctx context.Context, t Transport) <-chan readResult {
	lines := make(chan readResult)
	go func() {
		for {
			line, err := t.ReadLine()
			select {
			case lines <- readResult{line: line, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return lines
}

// ServeStdio serves the process's standard input and output.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.Serve(ctx, Stdio())
}

// handleLine processes one request fully. A non-nil return ends the session.
func (s *Server) handleLine(ctx context.Context, sess *session, line []byte) error {
	req, err := DecodeRequest(line)
	if err == nil {
		var result any
		result, err = s.dispatch(ctx, sess, req)
		if err == nil {
			if err := sess.sendResult(req.ID, result); err != nil {
				return s.fail(sess, req, err)
			}
			return nil
		}
	}

	var perr *Error
	if errors.As(err, &perr) {
		if err := sess.sendError(req.ID, perr); err != nil {
			return s.fail(sess, req, err)
		}
		return nil
	}
	return s.fail(sess, req, err)
}

// fail reports an unhandled failure to the peer and ends the session.
func (s *Server) fail(sess *session, req *Request, err error) error {
	s.logger.Error("unhandled error, closing session",
		"method", req.Method,
		"id", req.ID.String(),
		"error", err,
	)
	_ = sess.sendError(req.ID, errUnhandled())
	return fmt.Errorf("linerpc: %s: %w", req.Method, err)
}

// dispatch resolves req and runs its handler chain. Panics are returned as
// errors so the session ends the same way as for any unhandled failure.
func (s *Server) dispatch(ctx context.Context, sess *session, req *Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic", "method", req.Method, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	rt, err := s.route(req.Method)
	if err != nil {
		return nil, err
	}
	ctx = withSession(ctx, sess)
	ctx = withRequest(ctx, req)
	ctx = withRoutePath(ctx, rt.path)
	return rt.handler(ctx, req)
}
