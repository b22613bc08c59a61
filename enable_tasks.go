package linerpc

import "context"

// TasksPrefix is the namespace EnableTasks mounts the task control methods
// under.
const TasksPrefix = "tasks"

// EnableTasks mounts the task control namespace on s:
//
//	tasks.stop(task_id) -> true
//	tasks.list() -> [task_id, ...]
//
// stop cancels the named task and waits for it to finish. It reports success
// whether or not the task was running.
func EnableTasks(s *Server) error {
	r := NewRouter(TasksPrefix, "Background tasks")
	r.MustRegister("stop", "Stop task", NewMethod(stopTask,
		Primitive[string]("task_id").Describe("Id the task's pushes are tagged with."),
	).Describe("Cancel a running task and wait until it has stopped.").Returns(TypeOf[bool]("")))
	r.MustRegister("list", "List tasks", NewMethod(listTasks).
		Describe("Ids of the running tasks, sorted.").
		Returns(TypeOf[[]string]("")))
	return s.Mount(r)
}

func stopTask(ctx context.Context, args *Args) (any, error) {
	id, err := Arg[string](args, "task_id")
	if err != nil {
		return nil, err
	}
	CancelTask(ctx, id)
	return true, nil
}

func listTasks(ctx context.Context, _ *Args) (any, error) {
	s := ServerFromContext(ctx)
	if s == nil {
		return []string{}, nil
	}
	return s.tasks.IDs(), nil
}
