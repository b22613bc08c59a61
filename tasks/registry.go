// Package tasks tracks long-lived background work started by handlers.
//
// A Registry is owned by one server. Every task has an application-chosen
// id, runs in its own goroutine with a cancellable context, and is removed
// from the registry when its function returns.
package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	// ErrExists is returned by Spawn when a task with the same id is running.
	ErrExists = errors.New("tasks: task id already running")
	// ErrEmptyID is returned by Spawn for an empty id.
	ErrEmptyID = errors.New("tasks: empty task id")
)

// Func is the body of a task. It must return promptly once ctx is done.
type Func func(ctx context.Context) error

// ExitHook is called after a task function returns, before the task is
// removed from the registry. canceled is true when the task was stopped.
type ExitHook func(id string, err error, canceled bool)

// Registry holds the running tasks.
type Registry struct {
	logger *slog.Logger
	mu     sync.Mutex
	tasks  map[string]*task
	wg     sync.WaitGroup
}

type task struct {
	id      string
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
}

// New creates an empty registry. A nil logger discards output.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		logger: logger,
		tasks:  make(map[string]*task),
	}
}

// Spawn runs fn in a new goroutine under id. The task's context is derived
// from parent, so it also ends when parent does.
func (r *Registry) Spawn(parent context.Context, id string, fn Func, onExit ExitHook) error {
	if id == "" {
		return ErrEmptyID
	}

	r.mu.Lock()
	if _, exists := r.tasks[id]; exists {
		r.mu.Unlock()
		return ErrExists
	}
	ctx, cancel := context.WithCancel(parent)
	t := &task{
		id:      id,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
	}
	r.tasks[id] = t
	r.wg.Add(1)
	r.mu.Unlock()

	r.logger.Info("task started", "task_id", id)
	go func() {
		defer r.wg.Done()
		defer close(t.done)
		defer r.remove(t)
		defer cancel()

		err := fn(ctx)
		canceled := ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled))
		switch {
		case canceled:
			r.logger.Info("task canceled", "task_id", id, "duration_ms", time.Since(t.started).Milliseconds())
		case err != nil:
			r.logger.Error("task failed", "task_id", id, "error", err)
		default:
			r.logger.Info("task finished", "task_id", id, "duration_ms", time.Since(t.started).Milliseconds())
		}
		if onExit != nil {
			onExit(id, err, canceled)
		}
	}()
	return nil
}

func (r *Registry) remove(t *task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tasks[t.id] == t {
		delete(r.tasks, t.id)
	}
}

// Cancel stops the task with the given id and waits for it to return.
// It reports whether such a task was running. Cancel must not be called
// from inside the task it stops.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	t, ok := r.tasks[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	t.cancel()
	<-t.done
	return true
}

// CancelAll stops every running task and waits for all of them.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	for _, t := range r.tasks {
		t.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Running reports whether a task with the given id is running.
func (r *Registry) Running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[id]
	return ok
}

// IDs returns the ids of all running tasks, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of running tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
