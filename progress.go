package linerpc

// Stream is the capability injected into stream parameters. It writes
// envelopes to the session that received the request, independently of the
// handler's own reply.
type Stream struct {
	sess *session
}

// Send writes a result envelope tagged with id.
func (s *Stream) Send(id ID, result any) error {
	return s.sess.sendResult(id, result)
}

// SendError writes an error envelope tagged with id.
func (s *Stream) SendError(id ID, e *Error) error {
	return s.sess.sendError(id, e)
}
