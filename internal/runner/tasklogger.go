package runner

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/neo154/afkrun/internal/logger"
	"github.com/neo154/afkrun/internal/logroute"
)

// taskLogger is the logger.Logger every TaskInstance is bound to. Instead of
// writing to stdout/a single file like the ambient diagnostic logger, every
// call turns into a logroute.Record routed through the instance's task-type
// sink, which is what actually produces the canonical per-task log lines.
type taskLogger struct {
	router   *logroute.Router
	hostID   string
	runType  string
	taskType string
	taskName string
	uuid     string
}

func newTaskLogger(router *logroute.Router, hostID, runType, taskType, taskName, uuid string) *taskLogger {
	return &taskLogger{
		router:   router,
		hostID:   hostID,
		runType:  runType,
		taskType: taskType,
		taskName: taskName,
		uuid:     uuid,
	}
}

func (l *taskLogger) emit(level logroute.Level, msg string) {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		file, line = "unknown", 0
	}
	rec := logroute.Record{
		Time:     time.Now(),
		HostID:   l.hostID,
		RunType:  l.runType,
		TaskType: l.taskType,
		TaskName: l.taskName,
		UUID:     l.uuid,
		Source:   file,
		Line:     line,
		Level:    level,
		Message:  msg,
	}
	_ = l.router.Route(context.Background(), rec)
}

func withArgs(msg string, args []any) string {
	if len(args) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	return b.String()
}

func (l *taskLogger) Debug(msg string, args ...any) { l.emit(logroute.LevelDebug, withArgs(msg, args)) }
func (l *taskLogger) Info(msg string, args ...any)  { l.emit(logroute.LevelInfo, withArgs(msg, args)) }
func (l *taskLogger) Warn(msg string, args ...any)  { l.emit(logroute.LevelWarn, withArgs(msg, args)) }
func (l *taskLogger) Error(msg string, args ...any) { l.emit(logroute.LevelError, withArgs(msg, args)) }

func (l *taskLogger) Debugf(format string, args ...any) { l.emit(logroute.LevelDebug, fmt.Sprintf(format, args...)) }
func (l *taskLogger) Infof(format string, args ...any)  { l.emit(logroute.LevelInfo, fmt.Sprintf(format, args...)) }
func (l *taskLogger) Warnf(format string, args ...any)  { l.emit(logroute.LevelWarn, fmt.Sprintf(format, args...)) }
func (l *taskLogger) Errorf(format string, args ...any) { l.emit(logroute.LevelError, fmt.Sprintf(format, args...)) }

// With/WithGroup are no-ops: the canonical record layout has no room for
// extra structured attributes or group prefixes beyond its fixed fields.
func (l *taskLogger) With(...any) logger.Logger    { return l }
func (l *taskLogger) WithGroup(string) logger.Logger { return l }
