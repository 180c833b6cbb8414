package logroute

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"sync"

	slogmulti "github.com/samber/slog-multi"

	"github.com/neo154/afkrun/internal/location"
)

// sinkChanBuffer is the per-task-type channel depth; generous enough that
// a burst of task instances starting at once doesn't block on the
// consumer fiber catching up.
const sinkChanBuffer = 256

// sink is one task-type's destination: a buffered channel producers push
// Records into, and a single goroutine that serially writes them out.
type sink struct {
	taskType string
	ch       chan Record
	done     chan struct{}
	handler  slog.Handler
	ring     *ringHandler // non-nil only for the admin sink
}

func newSink(taskType string, handler slog.Handler, ring *ringHandler) *sink {
	s := &sink{
		taskType: taskType,
		ch:       make(chan Record, sinkChanBuffer),
		done:     make(chan struct{}),
		handler:  handler,
		ring:     ring,
	}
	go s.consume()
	return s
}

func (s *sink) consume() {
	defer close(s.done)
	for rec := range s.ch {
		r := slog.NewRecord(rec.Time, slogLevel(rec.Level), rec.Format(), 0)
		_ = s.handler.Handle(context.Background(), r)
	}
}

func (s *sink) send(rec Record) {
	s.ch <- rec
}

func (s *sink) close() {
	close(s.ch)
	<-s.done
}

func slogLevel(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// lineHandler is a minimal slog.Handler that writes each record's
// already-formatted message as one line — the canonical Record.Format
// output — rather than slog's own text/JSON encoding, since §6 mandates
// an exact field layout of its own.
type lineHandler struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func newLineHandler(w location.ReadWriteSeekCloser) *lineHandler {
	return &lineHandler{w: bufio.NewWriter(w)}
}

func (h *lineHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.w.WriteString(r.Message + "\n"); err != nil {
		return fmt.Errorf("logroute: write record: %w", err)
	}
	return h.w.Flush()
}

func (h *lineHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *lineHandler) WithGroup(string) slog.Handler      { return h }

// ringHandler is an in-memory bounded buffer of the most recent admin
// records, so a status surface can read the tail without tailing the
// admin log file. Fanned out alongside the admin sink's file handler via
// slog-multi, same as the teacher's own multi-destination logger.
type ringHandler struct {
	mu   sync.Mutex
	buf  []string
	cap  int
	next int
	full bool
}

func newRingHandler(capacity int) *ringHandler {
	return &ringHandler{buf: make([]string, capacity), cap: capacity}
}

func (h *ringHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *ringHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = r.Message
	h.next = (h.next + 1) % h.cap
	if h.next == 0 {
		h.full = true
	}
	return nil
}

func (h *ringHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *ringHandler) WithGroup(string) slog.Handler      { return h }

// Snapshot returns the buffered records oldest-first.
func (h *ringHandler) Snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		out := make([]string, h.next)
		copy(out, h.buf[:h.next])
		return out
	}
	out := make([]string, h.cap)
	copy(out, h.buf[h.next:])
	copy(out[h.cap-h.next:], h.buf[:h.next])
	return out
}

func fanoutHandler(handlers ...slog.Handler) slog.Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return slogmulti.Fanout(handlers...)
}
