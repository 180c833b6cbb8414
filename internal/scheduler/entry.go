package scheduler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	cron "github.com/robfig/cron/v3"

	"github.com/neo154/afkrun/internal/task"
)

// RegisteredTask is one task-id's recipe for producing a TaskInstance:
// the constructor callback the scheduler invokes with merged kwargs, plus
// its default kwargs.
type RegisteredTask struct {
	TaskID      string
	DefaultArgs map[string]any
	Build       func(args map[string]any) (*task.Instance, error)
}

// ScheduleEntry is one pending or recurring invocation. A nil Schedule
// with a nil Cron means one-shot: it fires once at NextRun and is then
// dropped rather than reinserted.
type ScheduleEntry struct {
	UUID     string
	TaskID   string
	Args     map[string]any
	Schedule *Interval
	Cron     cron.Schedule
	NextRun  time.Time
}

// NewScheduleEntry builds an entry and computes its first fire time. When
// cronExpr is non-empty it takes precedence over interval per the additive
// cron recurrence kind; interval may be nil for a one-shot entry.
func NewScheduleEntry(taskID string, args map[string]any, interval *Interval, cronExpr string, now time.Time) (*ScheduleEntry, error) {
	e := &ScheduleEntry{
		UUID:     uuid.NewString(),
		TaskID:   taskID,
		Args:     args,
		Schedule: interval,
	}
	if cronExpr != "" {
		sched, err := cron.ParseStandard(cronExpr)
		if err != nil {
			return nil, fmt.Errorf("scheduler: parse cron expression %q: %w", cronExpr, err)
		}
		e.Cron = sched
		e.NextRun = sched.Next(now)
		return e, nil
	}
	var min, h *int
	var start *time.Time
	if interval != nil {
		min, h, start = interval.MinInterval, interval.HInterval, interval.StartTime
	}
	next, err := calculateFirstRun(min, h, start, now)
	if err != nil {
		return nil, err
	}
	e.NextRun = next
	return e, nil
}

// recurring reports whether the entry should be reinserted after it fires.
func (e *ScheduleEntry) recurring() bool {
	return e.Cron != nil || (e.Schedule != nil && e.Schedule.recurring())
}

// advance recomputes NextRun after a fire. Call only when recurring()
// is true.
func (e *ScheduleEntry) advance(now time.Time) {
	if e.Cron != nil {
		e.NextRun = e.Cron.Next(now)
		return
	}
	e.NextRun = e.Schedule.advance(e.NextRun)
}

// consolidateArgs merges defaults with per-invocation kwargs, per-invocation
// taking precedence, ported from afk_scheduler.py's _consolidate_kwargs.
func consolidateArgs(defaults, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
