package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/neo154/afkrun/internal/location"
	"github.com/neo154/afkrun/internal/logger"
	"github.com/neo154/afkrun/internal/runner"
)

// loopInterval paces the scheduler fiber's idle backoff between checks,
// same sub-second rendering the Runner uses for its own loops.
const loopInterval = 20 * time.Millisecond

// Scheduler extends a Runner with interval-based recurrence: a set of
// registered task recipes, a priority-ordered pending-entries list, and a
// polled external schedule-additions file. Grounded on
// afk_scheduler.py's JobScheduler.
type Scheduler struct {
	*runner.Runner

	fileCheckInterval time.Duration
	scheduleFile      location.Location
	log               logger.Logger

	mu               sync.Mutex
	registered       map[string]*RegisteredTask
	pending          []*ScheduleEntry
	inactive         []*ScheduleEntry
	schedulerRunning bool

	stopFiber chan struct{}
	fiberDone chan struct{}
	watcher   *fsnotify.Watcher
}

// Config constructs a Scheduler.
type Config struct {
	Runner            *runner.Runner
	ScheduleFile      location.Location
	FileCheckInterval time.Duration // default 1 minute
	Logger            logger.Logger
}

// New builds a Scheduler over an existing Runner.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("scheduler: Runner is required")
	}
	if cfg.ScheduleFile == nil {
		return nil, fmt.Errorf("scheduler: ScheduleFile is required")
	}
	interval := cfg.FileCheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewLogger()
	}
	return &Scheduler{
		Runner:            cfg.Runner,
		fileCheckInterval: interval,
		scheduleFile:      cfg.ScheduleFile,
		log:               log,
		registered:        make(map[string]*RegisteredTask),
	}, nil
}

// RegisterTask makes a task-id schedulable. Duplicate task-ids are
// rejected, mirroring add_scheduler_task's duplicate check.
func (s *Scheduler) RegisterTask(rt *RegisteredTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.registered[rt.TaskID]; exists {
		return fmt.Errorf("scheduler: duplicate task id %q", rt.TaskID)
	}
	s.registered[rt.TaskID] = rt
	return nil
}

// AddSchedule schedules task-id for execution. Returns the entry uuid once
// running, or "" if queued to inactive-entries because the scheduler fiber
// hasn't started yet — mirrors add_scheduled_task_instance.
func (s *Scheduler) AddSchedule(taskID string, args map[string]any, interval *Interval, cronExpr string) (string, error) {
	s.mu.Lock()
	_, known := s.registered[taskID]
	s.mu.Unlock()
	if !known {
		return "", fmt.Errorf("scheduler: cannot locate task with id %q", taskID)
	}

	entry, err := NewScheduleEntry(taskID, args, interval, cronExpr, time.Now())
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedulerRunning {
		s.pending = append(s.pending, entry)
		s.sortPendingLocked()
		return entry.UUID, nil
	}
	s.inactive = append(s.inactive, entry)
	return "", nil
}

// RemoveSchedule drops a pending or inactive entry by uuid.
func (s *Scheduler) RemoveSchedule(uuid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := &s.pending
	if !s.schedulerRunning {
		list = &s.inactive
	}
	for i, e := range *list {
		if e.UUID == uuid {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
	s.log.Warnf("scheduler: could not find scheduled entry with uuid %s to remove", uuid)
}

// sortPendingLocked re-sorts pending by ascending next-fire. Unconditional
// per the resolved guard-bug open question, unlike the original's size>2
// gate.
func (s *Scheduler) sortPendingLocked() {
	sort.SliceStable(s.pending, func(i, j int) bool {
		return s.pending[i].NextRun.Before(s.pending[j].NextRun)
	})
}

// Start starts the underlying Runner, then the scheduler fiber, then
// reschedules every inactive entry and moves it to pending.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Runner.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if s.schedulerRunning {
		s.mu.Unlock()
		return nil
	}
	s.schedulerRunning = true
	s.stopFiber = make(chan struct{})
	s.fiberDone = make(chan struct{})
	s.mu.Unlock()

	if w, err := fsnotify.NewWatcher(); err == nil {
		if addErr := w.Add(s.scheduleFile.Parent().AbsolutePath()); addErr == nil {
			s.watcher = w
		} else {
			_ = w.Close()
		}
	}

	go s.runFiber(ctx)

	s.mu.Lock()
	now := time.Now()
	for _, e := range s.inactive {
		if e.Schedule != nil || e.Cron != nil {
			var min, h *int
			var start *time.Time
			if e.Schedule != nil {
				min, h, start = e.Schedule.MinInterval, e.Schedule.HInterval, e.Schedule.StartTime
			}
			if e.Cron != nil {
				e.NextRun = e.Cron.Next(now)
			} else if next, err := calculateFirstRun(min, h, start, now); err == nil {
				e.NextRun = next
			}
		}
		s.pending = append(s.pending, e)
	}
	s.inactive = nil
	s.sortPendingLocked()
	s.mu.Unlock()

	return nil
}

// Shutdown stops the scheduler fiber first, drains pending into inactive
// (preserving uuids), then shuts down the Runner.
func (s *Scheduler) Shutdown(force bool) {
	s.mu.Lock()
	running := s.schedulerRunning
	s.mu.Unlock()
	if running {
		close(s.stopFiber)
		<-s.fiberDone
		if s.watcher != nil {
			_ = s.watcher.Close()
		}

		s.mu.Lock()
		s.schedulerRunning = false
		s.inactive = s.pending
		s.pending = nil
		s.mu.Unlock()
	}
	s.Runner.Shutdown(force)
}

func (s *Scheduler) fsnotifyEvents() <-chan fsnotify.Event {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Events
}

// runFiber is the single scheduler fiber: periodic external-source polling
// plus the pending-entries dispatch loop, ported from
// afk_scheduler.py:_run_scheduler.
func (s *Scheduler) runFiber(ctx context.Context) {
	defer close(s.fiberDone)

	nextFileCheck, err := calculateFirstRun(intPtr(int(s.fileCheckInterval.Minutes())), nil, nil, time.Now())
	if err != nil {
		nextFileCheck = time.Now()
	}

	for {
		select {
		case <-s.stopFiber:
			return
		case <-s.fsnotifyEvents():
			s.checkNewTasks(ctx)
		default:
		}

		now := time.Now()
		if !now.Before(nextFileCheck) {
			s.checkNewTasks(ctx)
			nextFileCheck = nextFileCheck.Add(s.fileCheckInterval)
		}

		s.dispatchDue(ctx, now)
		s.checkNewTasks(ctx)

		s.mu.Lock()
		s.sortPendingLocked()
		s.mu.Unlock()

		select {
		case <-s.stopFiber:
			return
		case <-time.After(loopInterval):
		}
	}
}

func intPtr(v int) *int { return &v }

// checkNewTasks polls the external schedule-additions file and registers
// any newly decoded entries.
func (s *Scheduler) checkNewTasks(ctx context.Context) {
	entries, err := checkForNewTasks(ctx, s.scheduleFile)
	if err != nil {
		s.log.Warnf("scheduler: failed to read schedule additions: %v", err)
		return
	}
	for _, e := range entries {
		var interval *Interval
		cronExpr := ""
		if e.Schedule != nil {
			cronExpr = e.Schedule.Cron
			interval = &Interval{MinInterval: e.Schedule.MinInterval, HInterval: e.Schedule.HInterval, StartTime: e.Schedule.StartTime}
		}
		if _, err := s.AddSchedule(e.TaskID, e.TaskArgs, interval, cronExpr); err != nil {
			s.log.Warnf("scheduler: failed to add scheduled entry for %s: %v", e.TaskID, err)
		}
	}
}

// dispatchDue pops and submits every pending entry whose next-fire has
// passed, in next-fire order, re-queuing recurring entries.
func (s *Scheduler) dispatchDue(ctx context.Context, now time.Time) {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 || s.pending[0].NextRun.After(now) {
			s.mu.Unlock()
			return
		}
		entry := s.pending[0]
		s.pending = s.pending[1:]
		rt, ok := s.registered[entry.TaskID]
		s.mu.Unlock()

		if !ok {
			s.log.Errorf("scheduler: wasn't able to locate task with id: %s", entry.TaskID)
			continue
		}

		args := consolidateArgs(rt.DefaultArgs, entry.Args)
		inst, err := rt.Build(args)
		if err != nil {
			s.log.Errorf("scheduler: failed to build instance for %s: %v", entry.TaskID, err)
		} else if err := s.Runner.AddTasks(inst); err != nil {
			s.log.Errorf("scheduler: failed to submit instance for %s: %v", entry.TaskID, err)
		}

		if entry.recurring() {
			entry.advance(now)
			s.mu.Lock()
			s.pending = append(s.pending, entry)
			s.sortPendingLocked()
			s.mu.Unlock()
		}
	}
}
