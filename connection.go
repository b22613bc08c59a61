package linerpc

import (
	"context"
	"sync"

	"github.com/go-json-experiment/json"
)

// session is the state of one peer connection. All writes to the transport
// go through send, which holds mu for the whole line so replies from the
// dispatch loop and pushes from tasks never interleave.
type session struct {
	server    *Server
	transport Transport
	ctx       context.Context
	stream    *Stream
	mu        sync.Mutex
	closed    bool
}

func newSession(ctx context.Context, server *Server, t Transport) *session {
	s := &session{
		server:    server,
		transport: t,
		ctx:       ctx,
	}
	s.stream = &Stream{sess: s}
	return s
}

func (s *session) send(v any) error {
	return s.sendIf(nil, v)
}

// sendIf writes v unless gate is done. The gate is checked under the write
// lock, so once a task's context is canceled and Cancel has returned, no
// line from that task can follow.
func (s *session) sendIf(gate context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if gate != nil {
		if err := gate.Err(); err != nil {
			return err
		}
	}
	return s.transport.WriteLine(data)
}

func (s *session) sendResult(id ID, result any) error {
	return s.send(Response{JSONRPC: Version, ID: id, Result: result})
}

func (s *session) sendError(id ID, e *Error) error {
	return s.send(ErrorResponse{JSONRPC: Version, ID: id, Error: e})
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
