// Package logroute implements the per-task-type log sinks the Runner
// routes task output through: one file sink and one channel per task
// type, a single consumer goroutine draining each channel serially, and
// the reserved "admin" sink used for the Runner's own lifecycle messages.
// Grounded on task_runner.py's generate_queue_listener_refs/get_queue_ref.
package logroute

import (
	"fmt"
	"time"
)

// Level mirrors the handful of severities the canonical record format
// names; kept distinct from slog.Level so this package has no hard
// dependency on how a caller's own logger is built.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARNING"
	LevelError Level = "ERROR"
)

// AdminTaskType is reserved for the Runner's own operational messages and
// is always the last sink torn down on shutdown.
const AdminTaskType = "admin"

// Reserved terminal messages the log analyzer depends on.
const (
	MsgJobStart         = "JOB_START"
	MsgConditionsPassed = "CONDITIONS_PASSED"
	MsgJobCompleted     = "JOB_COMPLETED"
	MsgJobFailed        = "JOB_FAILED"
	MsgJobTerminated    = "JOB_TERMINATED"
)

// Reserved pre-flight messages CheckRunConditions emits. Exact tokens, not
// prose, since the log analyzer matches on them verbatim.
const (
	MsgArchiveFileFound = "ARCHIVE_FILE_FOUND"
	MsgStopFileFound    = "STOP_FILE_FOUND"
	MsgMutexFound       = "MUTEX_FOUND"
	MsgDepFilesMissing  = "DEP_FILES_MISSING"
)

// Record is one canonical log entry, matching the fixed field order every
// sink writes in:
//
//	<asctime> <host-id> <run-type> <task-type> <task-name> <uuid> '<source-path>' LINENO:<n> <LEVEL>: <message>
type Record struct {
	Time     time.Time
	HostID   string
	RunType  string
	TaskType string
	TaskName string
	UUID     string
	Source   string
	Line     int
	Level    Level
	Message  string
}

// Format renders r in the canonical text form.
func (r Record) Format() string {
	return fmt.Sprintf("%s %s %s %s %s %s '%s' LINENO:%d %s: %s",
		r.Time.Format("2006-01-02 15:04:05"),
		r.HostID, r.RunType, r.TaskType, r.TaskName, r.UUID,
		r.Source, r.Line, r.Level, r.Message)
}
