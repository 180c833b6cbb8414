// Package task defines the pre-flight contract every runnable unit of
// work goes through before the Runner lets it execute: identity
// normalization, archive/halt/required-file checks, and mutex
// acquisition, grounded on the same ordering the original task runner
// enforced.
package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo154/afkrun/internal/location"
	"github.com/neo154/afkrun/internal/logger"
	"github.com/neo154/afkrun/internal/logroute"
	"github.com/neo154/afkrun/internal/storage"
)

// Sentinel errors returned by CheckRunConditions. A caller that wants the
// old "exit silently" behavior for a non-interactive run can compare
// against these instead of treating every failure as fatal.
var (
	ErrArchiveExists        = errors.New("task: archive file already exists")
	ErrHaltFileFound        = errors.New("task: halt file present")
	ErrRequiredFilesMissing = errors.New("task: required files missing")
	ErrMutexHeld            = errors.New("task: mutex already held")
	ErrNotChecked           = errors.New("task: has not passed run conditions check yet")
)

// MainFunc is the work a Task performs once its run conditions pass.
type MainFunc func(ctx context.Context) error

// MutexRegistration is handed to a Runner-owned channel once a Task
// successfully creates its mutex file, so the Runner can track it in
// live-mutexes without polling the filesystem.
type MutexRegistration struct {
	Key   string
	Mutex location.Location
}

// Config constructs a Task.
type Config struct {
	TaskType   string
	TaskName   string
	RunType    string
	HasMutex   bool
	HasArchive bool
	Override   bool
	RunDate    time.Time
	Storage    *storage.Storage
	Main       MainFunc
}

// Task is one unit of work: identity, its Storage, and the pre-flight
// rules that gate whether Main ever runs.
type Task struct {
	taskName   string
	taskType   string
	runType    string
	runDate    time.Time
	storage    *storage.Storage
	hasMutex   bool
	hasArchive bool
	override   bool
	main       MainFunc

	checked   bool
	uuid      string
	mutexChan chan<- MutexRegistration
}

// New builds a Task. TaskType/TaskName/RunType are normalized to
// lowercase with spaces replaced by underscores, matching the identity
// rules every caller of task_name/task_type/run_type depends on.
func New(cfg Config) (*Task, error) {
	if cfg.Main == nil {
		return nil, fmt.Errorf("task: Main is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("task: Storage is required")
	}
	runDate := cfg.RunDate
	if runDate.IsZero() {
		runDate = time.Now()
	}
	return &Task{
		taskName:   normalizeIdentity(orDefault(cfg.TaskName, "generic_taskname")),
		taskType:   normalizeIdentity(orDefault(cfg.TaskType, "generic_tasktype")),
		runType:    normalizeIdentity(orDefault(cfg.RunType, "testing")),
		runDate:    runDate,
		storage:    cfg.Storage,
		hasMutex:   cfg.HasMutex,
		hasArchive: cfg.HasArchive,
		override:   cfg.Override,
		main:       cfg.Main,
	}, nil
}

func normalizeIdentity(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", "_"))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (t *Task) TaskName() string          { return t.taskName }
func (t *Task) TaskType() string          { return t.taskType }
func (t *Task) RunType() string           { return t.runType }
func (t *Task) RunDate() time.Time        { return t.runDate }
func (t *Task) Storage() *storage.Storage { return t.storage }
func (t *Task) Override() bool            { return t.override }
func (t *Task) HasConditionsPassed() bool { return t.checked }

// bindRunContext wires identifying/output context in before a run: the
// instance uuid for the mutex-registration key, and the channel a
// successful mutex creation is reported through. Mirrors task_process.py's
// _prep_run assigning uuid/mutex_queue before main ever runs.
func (t *Task) bindRunContext(instanceUUID string, mutexChan chan<- MutexRegistration) {
	t.uuid = instanceUUID
	t.mutexChan = mutexChan
}

// CheckRunConditions runs the full pre-flight sequence in its mandated
// order: archive-already-exists check (rotate on override), halt files,
// required files, then mutex acquisition. Returns nil only once every
// check passes and, if HasMutex is set, the mutex file has been created
// and registered on mutexChan.
func (t *Task) CheckRunConditions(ctx context.Context) error {
	if t.hasMutex {
		t.storage.SetMutex(t.taskName)
	}
	if t.hasArchive {
		if _, err := t.storage.SetArchiveFile(ctx, fmt.Sprintf("%s.tar.bz2", t.taskName)); err != nil {
			return err
		}
	}

	if t.hasArchive {
		archiveFile := t.storage.ArchiveFile()
		isFile, err := archiveFile.IsFile(ctx)
		if err != nil {
			return err
		}
		if isFile {
			logger.Info(ctx, logroute.MsgArchiveFileFound)
			if !t.override {
				return ErrArchiveExists
			}
			if err := archiveFile.Rotate(ctx); err != nil {
				return err
			}
		}
	}

	haltFound, _, err := t.storage.CheckHaltFiles(ctx)
	if err != nil {
		return err
	}
	if haltFound {
		logger.Info(ctx, logroute.MsgStopFileFound)
		return ErrHaltFileFound
	}

	// Checked after halt files; CheckRequiredFiles stops at the first
	// missing entry.
	ok, err := t.storage.CheckRequiredFiles(ctx)
	if err != nil {
		return err
	}
	if !ok {
		logger.Info(ctx, logroute.MsgDepFilesMissing)
		return ErrRequiredFilesMissing
	}

	if t.hasMutex {
		mutex := t.storage.Mutex()
		exists, err := mutex.Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			logger.Info(ctx, logroute.MsgMutexFound)
			return ErrMutexHeld
		}
		if err := t.storage.CreateMutex(ctx); err != nil {
			return err
		}
		if t.mutexChan != nil {
			select {
			case t.mutexChan <- MutexRegistration{Key: fmt.Sprintf("%s-%s", t.taskName, t.uuid), Mutex: mutex}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	t.checked = true
	logger.Info(ctx, logroute.MsgConditionsPassed)
	return nil
}

// Run invokes Main. It is only valid after CheckRunConditions has
// succeeded.
func (t *Task) Run(ctx context.Context) error {
	if !t.checked {
		return ErrNotChecked
	}
	return t.main(ctx)
}
