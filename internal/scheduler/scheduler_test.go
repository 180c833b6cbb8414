package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neo154/afkrun/internal/location"
	"github.com/neo154/afkrun/internal/logroute"
	"github.com/neo154/afkrun/internal/runner"
	"github.com/neo154/afkrun/internal/storage"
	"github.com/neo154/afkrun/internal/task"
)

func newTestScheduler(t *testing.T) (*Scheduler, *storage.Storage) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	base, err := location.NewLocalFile(filepath.Join(dir, "workspace"))
	require.NoError(t, err)
	s, err := storage.New(ctx, storage.Config{BaseLoc: base, ReportDate: time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	logLoc, err := location.NewLocalFile(filepath.Join(dir, "log"))
	require.NoError(t, err)
	router := logroute.NewRouter(logLoc)

	r, err := runner.New(runner.Config{HostID: "host", RunType: "testing", Storage: s, Router: router})
	require.NoError(t, err)

	scheduleFile, err := location.NewLocalFile(filepath.Join(dir, "workspace", "scheduler_loc", "schedule_additions.json"))
	require.NoError(t, err)

	sched, err := New(Config{Runner: r, ScheduleFile: scheduleFile, FileCheckInterval: time.Hour})
	require.NoError(t, err)
	return sched, s
}

func waitForCond(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestScheduler_RegisterTaskRejectsDuplicates(t *testing.T) {
	sched, _ := newTestScheduler(t)
	rt := &RegisteredTask{TaskID: "t1", Build: func(map[string]any) (*task.Instance, error) { return nil, nil }}
	require.NoError(t, sched.RegisterTask(rt))
	assert.Error(t, sched.RegisterTask(rt))
}

func TestScheduler_AddScheduleUnknownTaskErrors(t *testing.T) {
	sched, _ := newTestScheduler(t)
	_, err := sched.AddSchedule("missing", nil, nil, "")
	assert.Error(t, err)
}

func TestScheduler_AddScheduleBeforeStartQueuesInactive(t *testing.T) {
	sched, _ := newTestScheduler(t)
	require.NoError(t, sched.RegisterTask(&RegisteredTask{TaskID: "t1", Build: func(map[string]any) (*task.Instance, error) { return nil, nil }}))

	uuid, err := sched.AddSchedule("t1", nil, nil, "")
	require.NoError(t, err)
	assert.Empty(t, uuid, "entries queued before Start land in inactive-entries, not pending")

	sched.mu.Lock()
	assert.Len(t, sched.inactive, 1)
	assert.Empty(t, sched.pending)
	sched.mu.Unlock()
}

func TestScheduler_DispatchesOneShotEntryAfterStart(t *testing.T) {
	sched, s := newTestScheduler(t)
	ctx := context.Background()

	ran := make(chan struct{}, 1)
	require.NoError(t, sched.RegisterTask(&RegisteredTask{
		TaskID: "t1",
		Build: func(args map[string]any) (*task.Instance, error) {
			tsk, err := task.New(task.Config{TaskName: "t1", Storage: s, Main: func(context.Context) error {
				ran <- struct{}{}
				return nil
			}})
			if err != nil {
				return nil, err
			}
			return task.NewInstance(tsk), nil
		},
	}))

	past := time.Now().Add(-time.Minute)
	_, err := sched.AddSchedule("t1", nil, &Interval{StartTime: &past}, "")
	require.NoError(t, err)

	require.NoError(t, sched.Start(ctx))
	defer sched.Shutdown(false)

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled task never ran")
	}
}

func TestScheduler_ShutdownDrainsPendingToInactive(t *testing.T) {
	sched, _ := newTestScheduler(t)
	ctx := context.Background()
	require.NoError(t, sched.RegisterTask(&RegisteredTask{TaskID: "t1", Build: func(map[string]any) (*task.Instance, error) {
		return nil, nil
	}}))

	future := time.Now().Add(time.Hour)
	_, err := sched.AddSchedule("t1", nil, &Interval{StartTime: &future}, "")
	require.NoError(t, err)

	require.NoError(t, sched.Start(ctx))

	waitForCond(t, func() bool {
		sched.mu.Lock()
		defer sched.mu.Unlock()
		return len(sched.pending) == 1
	})

	sched.Shutdown(false)

	sched.mu.Lock()
	defer sched.mu.Unlock()
	assert.Len(t, sched.inactive, 1)
	assert.Empty(t, sched.pending)
}
