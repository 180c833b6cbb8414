package logroute

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/neo154/afkrun/internal/location"
)

// adminRingCapacity bounds the in-memory admin record buffer.
const adminRingCapacity = 512

// Router owns every task-type's sink and channel, lazily creating one the
// first time a task type is routed to. Grounded on task_runner.py's
// __log_queue_refs/generate_queue_listener_refs/get_queue_ref.
type Router struct {
	logLoc location.Location

	mu    sync.Mutex
	order []string
	sinks map[string]*sink

	adminRing *ringHandler
}

// NewRouter builds a Router that writes each task-type's sink to
// logLoc/<task-type>.log.
func NewRouter(logLoc location.Location) *Router {
	return &Router{
		logLoc: logLoc,
		sinks:  make(map[string]*sink),
	}
}

// EnsureSink returns the sink for taskType, creating its log file and
// starting its consumer goroutine on first reference. The admin task type
// additionally fans its records out to an in-memory ring buffer readable
// via AdminSnapshot.
func (r *Router) EnsureSink(ctx context.Context, taskType string) (*sink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sinks[taskType]; ok {
		return s, nil
	}

	exists, err := r.logLoc.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := r.logLoc.Mkdir(ctx, true); err != nil {
			return nil, fmt.Errorf("logroute: prepare log location: %w", err)
		}
	}

	fileLoc := r.logLoc.JoinLoc(fmt.Sprintf("%s.log", taskType))
	handle, err := fileLoc.Open(ctx, location.ModeAppend)
	if err != nil {
		return nil, fmt.Errorf("logroute: open sink file for %s: %w", taskType, err)
	}
	fileHandler := newLineHandler(handle)

	var ring *ringHandler
	handler := slog.Handler(fileHandler)
	if taskType == AdminTaskType {
		ring = newRingHandler(adminRingCapacity)
		r.adminRing = ring
		handler = fanoutHandler(fileHandler, ring)
	}

	s := newSink(taskType, handler, ring)
	r.sinks[taskType] = s
	r.order = append(r.order, taskType)
	return s, nil
}

// Route sends rec to its task type's sink, creating the sink if this is
// the first record for that type.
func (r *Router) Route(ctx context.Context, rec Record) error {
	s, err := r.EnsureSink(ctx, rec.TaskType)
	if err != nil {
		return err
	}
	s.send(rec)
	return nil
}

// AdminSnapshot returns the most recent admin records, oldest first, or
// nil if the admin sink has never been created.
func (r *Router) AdminSnapshot() []string {
	r.mu.Lock()
	ring := r.adminRing
	r.mu.Unlock()
	if ring == nil {
		return nil
	}
	return ring.Snapshot()
}

// Shutdown stops every sink's consumer goroutine, non-admin sinks first
// (in creation order) and the admin sink last, so the Runner's own
// shutdown messages land on disk after every task-type sink has already
// drained.
func (r *Router) Shutdown() {
	r.mu.Lock()
	order := append([]string(nil), r.order...)
	r.mu.Unlock()

	var adminSink *sink
	for _, taskType := range order {
		r.mu.Lock()
		s := r.sinks[taskType]
		r.mu.Unlock()
		if taskType == AdminTaskType {
			adminSink = s
			continue
		}
		s.close()
	}
	if adminSink != nil {
		adminSink.close()
	}
}
