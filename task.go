package linerpc

import (
	"context"
	"encoding/hex"

	"github.com/google/uuid"
)

// TaskFunc is the body of a background task started with Stream.Spawn.
// It must return once ctx is done.
type TaskFunc func(ctx context.Context, push *Push) error

// Push emits messages for one background task. Every message carries the
// task id as its envelope id.
type Push struct {
	id   string
	ctx  context.Context
	sess *session
}

// TaskID returns the id the pushes are tagged with.
func (p *Push) TaskID() string {
	return p.id
}

// Send writes a result envelope tagged with the task id. After the task has
// been canceled it writes nothing and returns the context error.
func (p *Push) Send(result any) error {
	return p.sess.sendIf(p.ctx, Response{JSONRPC: Version, ID: StringID(p.id), Result: result})
}

// Spawn starts fn in the background under taskID. The task ends when fn
// returns, when it is canceled through CancelTask, or when the session
// closes. If fn fails with anything but cancellation, an error envelope
// tagged with taskID is written.
func (s *Stream) Spawn(taskID string, fn TaskFunc) error {
	sess := s.sess
	var push *Push
	return sess.server.tasks.Spawn(sess.ctx, taskID, func(ctx context.Context) error {
		push = &Push{id: taskID, ctx: ctx, sess: sess}
		return fn(ctx, push)
	}, func(id string, err error, canceled bool) {
		if err == nil || canceled {
			return
		}
		_ = sess.sendIf(push.ctx, ErrorResponse{JSONRPC: Version, ID: StringID(id), Error: asError(err)})
	})
}

// NewTaskID returns a fresh random task id.
func NewTaskID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// CancelTask stops the task with the given id on the server handling ctx and
// waits for it to finish. It reports whether the task was running.
func CancelTask(ctx context.Context, taskID string) bool {
	s := ServerFromContext(ctx)
	if s == nil {
		return false
	}
	return s.tasks.Cancel(taskID)
}
