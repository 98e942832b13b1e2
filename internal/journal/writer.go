package journal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/LibreTap/mqtt-protocol/internal/engine"
)

const (
	defaultQueueSize = 1024
	writeTimeout     = 5 * time.Second
)

// Logger defines the logging interface used by the Writer.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// entry is one queued write; exactly one field is set.
type entry struct {
	outcome    *Record
	diagnostic *DiagnosticRecord
}

// Writer queues engine outcomes and diagnostics for the Repository.
// It implements engine.OutcomeObserver and engine.DiagnosticObserver.
type Writer struct {
	repo    Repository
	queue   chan entry
	logger  Logger
	dropped atomic.Int64
}

// NewWriter creates a Writer with room for queueSize pending records.
// A non-positive queueSize uses the default.
func NewWriter(repo Repository, queueSize int) *Writer {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Writer{
		repo:   repo,
		queue:  make(chan entry, queueSize),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger. Call before Run.
func (w *Writer) SetLogger(logger Logger) {
	w.logger = logger
}

// OperationClosed implements engine.OutcomeObserver.
func (w *Writer) OperationClosed(o engine.Outcome) {
	rec := FromOutcome(o)
	w.enqueue(entry{outcome: &rec})
}

// Diagnostic implements engine.DiagnosticObserver.
func (w *Writer) Diagnostic(d engine.Diagnostic) {
	rec := FromDiagnostic(d)
	w.enqueue(entry{diagnostic: &rec})
}

func (w *Writer) enqueue(e entry) {
	select {
	case w.queue <- e:
	default:
		if n := w.dropped.Add(1); n == 1 || n%100 == 0 {
			w.logger.Warn("journal queue full, dropping records", "dropped_total", n)
		}
	}
}

// Dropped returns how many records were discarded because the queue was full.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// Run writes queued records until ctx is cancelled, then flushes what is
// left in the queue. It always returns nil so it can run inside an errgroup.
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case e := <-w.queue:
			w.write(e)
		case <-ctx.Done():
			w.flush()
			return nil
		}
	}
}

// flush writes every record already queued.
func (w *Writer) flush() {
	for {
		select {
		case e := <-w.queue:
			w.write(e)
		default:
			return
		}
	}
}

func (w *Writer) write(e entry) {
	// Not derived from Run's ctx so the final flush still reaches the database.
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	switch {
	case e.outcome != nil:
		if err := w.repo.RecordOutcome(ctx, e.outcome); err != nil {
			w.logger.Error("journal outcome write failed", "request_id", e.outcome.RequestID, "error", err)
		}
	case e.diagnostic != nil:
		if err := w.repo.RecordDiagnostic(ctx, e.diagnostic); err != nil {
			w.logger.Error("journal diagnostic write failed", "kind", e.diagnostic.Kind, "error", err)
		}
	}
}
