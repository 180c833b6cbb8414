package task

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/neo154/afkrun/internal/logger"
)

// Result is what a Instance reports once its run completes, whether that
// run was a pre-flight rejection, a Main error, or a recovered panic.
type Result struct {
	UUID string
	Err  error
}

// Instance is one uniquely identified execution of a Task, run as a
// goroutine by the Runner. Grounded on task_process.py's TaskProcess:
// every instance gets its own uuid, and Run refuses to start until a
// logger has been bound, same as TaskProcess.start() requiring a logger
// before the underlying process spawns.
//
// An Instance wraps exactly one of a *Task or a bare MainFunc. Bare
// callables skip CheckRunConditions entirely: no archive/halt/required-file
// checks and no mutex, matching task_process.py's handling of a Main that
// was constructed without a parent task.
type Instance struct {
	id    string
	task  *Task
	log   logger.Logger
	bound bool

	taskType string
	taskName string
	callable MainFunc
}

// NewInstance wraps t with a freshly generated v4 uuid. t must not be nil;
// use NewCallableInstance for a bare callable with no pre-flight.
func NewInstance(t *Task) *Instance {
	if t == nil {
		panic("task: NewInstance requires a non-nil Task")
	}
	return &Instance{id: uuid.NewString(), task: t}
}

// NewCallableInstance wraps a bare MainFunc with no parent Task: no
// archive/halt/required-file pre-flight and no mutex. taskType/taskName
// still identify it for log routing purposes.
func NewCallableInstance(taskType, taskName string, main MainFunc) *Instance {
	if main == nil {
		panic("task: NewCallableInstance requires a non-nil MainFunc")
	}
	return &Instance{
		id:       uuid.NewString(),
		taskType: normalizeIdentity(orDefault(taskType, "generic_tasktype")),
		taskName: normalizeIdentity(orDefault(taskName, "generic_taskname")),
		callable: main,
	}
}

func (i *Instance) UUID() string { return i.id }

// Task returns the wrapped Task, or nil for a bare-callable instance.
func (i *Instance) Task() *Task { return i.task }

// IsBareCallable reports whether this instance has no Task and therefore
// no pre-flight to run before its Main.
func (i *Instance) IsBareCallable() bool { return i.task == nil }

func (i *Instance) TaskName() string {
	if i.task != nil {
		return i.task.taskName
	}
	return i.taskName
}

func (i *Instance) TaskType() string {
	if i.task != nil {
		return i.task.taskType
	}
	return i.taskType
}

// Bind attaches the logger this instance's run will use and the channel
// its mutex registration (if any) will be reported on. Must be called
// before Run.
func (i *Instance) Bind(l logger.Logger, mutexChan chan<- MutexRegistration) {
	i.log = l
	if i.task != nil {
		i.task.bindRunContext(i.id, mutexChan)
	}
	i.bound = true
}

// Run launches the instance's pre-flight check and Main in a goroutine,
// recovering any panic at the boundary so a single failing task can never
// take down the Runner. The returned channel receives exactly one Result.
func (i *Instance) Run(ctx context.Context) (<-chan Result, error) {
	if !i.bound {
		return nil, fmt.Errorf("task: instance %s: no logger bound, call Bind first", i.id)
	}
	out := make(chan Result, 1)
	runCtx := logger.WithLogger(ctx, i.log)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf(runCtx, "task instance %s panicked: %v", i.id, r)
				out <- Result{UUID: i.id, Err: fmt.Errorf("task: panic: %v", r)}
			}
		}()

		if i.task != nil {
			if err := i.task.CheckRunConditions(runCtx); err != nil {
				out <- Result{UUID: i.id, Err: err}
				return
			}
			out <- Result{UUID: i.id, Err: i.task.Run(runCtx)}
			return
		}

		out <- Result{UUID: i.id, Err: i.callable(runCtx)}
	}()

	return out, nil
}
