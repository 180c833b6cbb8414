// Package runner implements the Runner: two cooperative fibers (dispatcher
// and reaper) that turn submitted TaskInstances into running goroutines,
// track their mutexes, and emit the canonical lifecycle records every task
// run produces. Grounded on task_runner.py's Runner class.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/neo154/afkrun/internal/cmn/dirlock"
	"github.com/neo154/afkrun/internal/location"
	"github.com/neo154/afkrun/internal/logger"
	"github.com/neo154/afkrun/internal/logroute"
	"github.com/neo154/afkrun/internal/storage"
	"github.com/neo154/afkrun/internal/task"
)

// pollInterval paces the reaper's liveness sweeps and the dispatcher's idle
// backoff. The original sleeps 1s in these same loops; sub-second here only
// to keep tests fast, the external ordering guarantees are unaffected.
const pollInterval = 20 * time.Millisecond

// Submission describes one TaskInstance ready to run.
type Submission struct {
	Instance *task.Instance
}

type liveEntry struct {
	instance *task.Instance
	resultCh <-chan task.Result
	done     bool
	err      error
}

// Runner owns a Storage workspace, a log Router, and the dispatcher/reaper
// fibers that drain submissions into running goroutines.
type Runner struct {
	hostID  string
	runType string

	storage *storage.Storage
	router  *logroute.Router
	log     logger.Logger
	lock    dirlock.Lock

	readySubmissions   chan Submission
	mutexRegistrations chan task.MutexRegistration

	mu            sync.Mutex
	liveInstances map[string]*liveEntry
	liveMutexes   map[string]location.Location

	running      bool
	gracefulKill bool

	wg       sync.WaitGroup
	stopDone chan struct{}
}

// Config constructs a Runner.
type Config struct {
	HostID  string
	RunType string
	Storage *storage.Storage
	Router  *logroute.Router
	Logger  logger.Logger
}

// New builds a Runner. Storage and Router are required.
func New(cfg Config) (*Runner, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("runner: Storage is required")
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("runner: Router is required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewLogger()
	}
	return &Runner{
		hostID:             orDefault(cfg.HostID, "localhost"),
		runType:            orDefault(cfg.RunType, "production"),
		storage:            cfg.Storage,
		router:             cfg.Router,
		log:                log,
		lock:               dirlock.New(cfg.Storage.BaseLoc().AbsolutePath(), nil),
		readySubmissions:   make(chan Submission, 256),
		mutexRegistrations: make(chan task.MutexRegistration, 256),
		liveInstances:      make(map[string]*liveEntry),
		liveMutexes:        make(map[string]location.Location),
		stopDone:           make(chan struct{}),
	}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Start acquires the workspace lock, installs the admin log route, and
// starts the dispatcher and reaper fibers. Idempotent.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	if err := r.lock.Lock(ctx); err != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return fmt.Errorf("runner: acquire workspace lock: %w", err)
	}

	if _, err := r.router.EnsureSink(ctx, logroute.AdminTaskType); err != nil {
		_ = r.lock.Unlock()
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return fmt.Errorf("runner: install admin log route: %w", err)
	}
	r.emitAdmin(ctx, logroute.LevelInfo, "runner starting")

	r.wg.Add(2)
	go r.dispatch(ctx)
	go r.reap(ctx)
	return nil
}

// AddTasks pushes one or more ready instances onto ready-submissions.
func (r *Runner) AddTasks(instances ...*task.Instance) error {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()
	if !running {
		return fmt.Errorf("runner: not running")
	}
	for _, inst := range instances {
		r.readySubmissions <- Submission{Instance: inst}
	}
	return nil
}

// Shutdown clears running so the dispatcher drains and exits; the reaper
// exits once live-instances is empty (force=false) or, with force=true, at
// once after recording every remaining instance as terminated (see
// terminateRemaining). Blocks until both fibers exit, then releases the
// workspace lock last.
func (r *Runner) Shutdown(force bool) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.gracefulKill = force
	r.mu.Unlock()

	r.wg.Wait()

	r.emitAdmin(context.Background(), logroute.LevelInfo, "runner stopped")
	r.router.Shutdown()
	_ = r.lock.Unlock()
}

func (r *Runner) emitAdmin(ctx context.Context, level logroute.Level, msg string) {
	rec := logroute.Record{
		Time:     time.Now(),
		HostID:   r.hostID,
		RunType:  r.runType,
		TaskType: logroute.AdminTaskType,
		TaskName: logroute.AdminTaskType,
		Source:   "runner",
		Level:    level,
		Message:  msg,
	}
	_ = r.router.Route(ctx, rec)
}

// dispatch drains ready-submissions until running is false and the queue is
// empty, starting each submitted instance and tracking it in live-instances.
func (r *Runner) dispatch(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case sub := <-r.readySubmissions:
			r.startInstance(ctx, sub.Instance)
		default:
			r.mu.Lock()
			running := r.running
			r.mu.Unlock()
			if !running && len(r.readySubmissions) == 0 {
				return
			}
			time.Sleep(pollInterval)
		}
	}
}

func (r *Runner) startInstance(ctx context.Context, inst *task.Instance) {
	taskType := inst.TaskType()
	if _, err := r.router.EnsureSink(ctx, taskType); err != nil {
		r.emitAdmin(ctx, logroute.LevelError, fmt.Sprintf("failed to install log route for %s: %v", taskType, err))
		return
	}

	tlog := newTaskLogger(r.router, r.hostID, r.runType, taskType, inst.TaskName(), inst.UUID())
	inst.Bind(tlog, r.mutexRegistrations)

	tlog.Info(logroute.MsgJobStart)
	if inst.IsBareCallable() {
		// Bare callables have no CheckRunConditions pass of their own, so the
		// dispatcher emits the CONDITIONS_PASSED record on their behalf.
		tlog.Info(logroute.MsgConditionsPassed)
	}

	resultCh, err := inst.Run(ctx)
	if err != nil {
		tlog.Errorf("failed to start: %v", err)
		return
	}

	r.mu.Lock()
	r.liveInstances[inst.UUID()] = &liveEntry{instance: inst, resultCh: resultCh}
	r.mu.Unlock()
}

// reap drains mutex-registrations and polls live-instances for completion
// until running is false and live-instances is empty (or force has asked
// every live worker to be treated as terminated immediately).
func (r *Runner) reap(ctx context.Context) {
	defer r.wg.Done()
	for {
		r.drainMutexRegistrations()
		r.pollLiveInstances(ctx)

		r.mu.Lock()
		running := r.running
		force := r.gracefulKill
		empty := len(r.liveInstances) == 0
		r.mu.Unlock()

		if !running && (empty || force) {
			if force {
				r.terminateRemaining(ctx)
			}
			return
		}
		time.Sleep(pollInterval)
	}
}

func (r *Runner) drainMutexRegistrations() {
	for {
		select {
		case reg := <-r.mutexRegistrations:
			r.mu.Lock()
			if _, dup := r.liveMutexes[reg.Key]; dup {
				r.mu.Unlock()
				panic(fmt.Sprintf("runner: duplicate mutex registration key %q", reg.Key))
			}
			r.liveMutexes[reg.Key] = reg.Mutex
			r.mu.Unlock()
		default:
			return
		}
	}
}

func (r *Runner) pollLiveInstances(ctx context.Context) {
	r.mu.Lock()
	entries := make([]*liveEntry, 0, len(r.liveInstances))
	for _, e := range r.liveInstances {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		select {
		case res := <-e.resultCh:
			r.finish(ctx, e.instance, res.Err)
		default:
		}
	}
}

// finish records the outcome of a completed instance. Mutexes belonging to
// completed or force-terminated instances are removed; mutexes of failed
// instances are retained, same as the original's cleanup skipping failures.
func (r *Runner) finish(ctx context.Context, inst *task.Instance, runErr error) {
	tlog := newTaskLogger(r.router, r.hostID, r.runType, inst.TaskType(), inst.TaskName(), inst.UUID())
	key := fmt.Sprintf("%s-%s", inst.TaskName(), inst.UUID())
	// The instance may have registered its mutex after this loop's drain.
	r.drainMutexRegistrations()

	r.mu.Lock()
	delete(r.liveInstances, inst.UUID())
	force := r.gracefulKill
	r.mu.Unlock()

	switch {
	case runErr == nil:
		tlog.Info(logroute.MsgJobCompleted)
		r.releaseMutex(key)
	case force:
		tlog.Warnf("terminated: %v", runErr)
		tlog.Error(logroute.MsgJobTerminated)
		r.releaseMutex(key)
	default:
		tlog.Warnf("task failed: %v", runErr)
		tlog.Error(logroute.MsgJobFailed)
	}
}

func (r *Runner) releaseMutex(key string) {
	r.mu.Lock()
	mutex, ok := r.liveMutexes[key]
	if ok {
		delete(r.liveMutexes, key)
	}
	r.mu.Unlock()
	if ok && mutex != nil {
		_ = mutex.Delete(context.Background(), true, false)
	}
}

// terminateRemaining marks every still-live instance as terminated once a
// forced shutdown has asked the dispatcher/reaper to stop waiting on
// goroutines that never reported back. Go goroutines cannot be killed from
// outside, so this records the outcome the caller asked for rather than
// actually interrupting the task's Main.
func (r *Runner) terminateRemaining(ctx context.Context) {
	r.mu.Lock()
	entries := make([]*liveEntry, 0, len(r.liveInstances))
	for _, e := range r.liveInstances {
		entries = append(entries, e)
	}
	r.mu.Unlock()
	for _, e := range entries {
		r.finish(ctx, e.instance, fmt.Errorf("runner: forced shutdown"))
	}
}
