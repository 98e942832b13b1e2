package journal

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/LibreTap/mqtt-protocol/internal/engine"
	"github.com/LibreTap/mqtt-protocol/internal/session"
)

// blockingRepo records writes in memory.
type blockingRepo struct {
	Repository

	mu          sync.Mutex
	outcomes    []Record
	diagnostics []DiagnosticRecord
	prunes      int
}

func (r *blockingRepo) RecordOutcome(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, *rec)
	return nil
}

func (r *blockingRepo) RecordDiagnostic(_ context.Context, d *DiagnosticRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diagnostics = append(r.diagnostics, *d)
	return nil
}

func (r *blockingRepo) PruneBefore(context.Context, time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prunes++
	return 0, nil
}

func (r *blockingRepo) counts() (outcomes, diagnostics, prunes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outcomes), len(r.diagnostics), r.prunes
}

func TestWriterFlushesOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := &blockingRepo{}
	w := NewWriter(repo, 10)

	w.OperationClosed(engine.Outcome{Session: session.Session{RequestID: "r-1", Kind: session.KindAuth, State: session.StateSuccess}})
	w.Diagnostic(engine.Diagnostic{Kind: engine.DiagnosticDecode})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	outcomes, diagnostics, _ := repo.counts()
	if outcomes != 1 || diagnostics != 1 {
		t.Errorf("written outcomes, diagnostics = %d, %d; want 1, 1", outcomes, diagnostics)
	}
}

func TestWriterDropsWhenFull(t *testing.T) {
	w := NewWriter(&blockingRepo{}, 2)

	for i := 0; i < 5; i++ {
		w.Diagnostic(engine.Diagnostic{Kind: engine.DiagnosticDuplicate})
	}
	if got := w.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
}

func TestWriterWritesWhileRunning(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := &blockingRepo{}
	w := NewWriter(repo, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	for i := 0; i < 20; i++ {
		w.OperationClosed(engine.Outcome{Session: session.Session{RequestID: "r", Kind: session.KindRead}})
	}

	deadline := time.After(2 * time.Second)
	for {
		if n, _, _ := repo.counts(); n == 20 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("writer did not drain the queue")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestRunRetention(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := &blockingRepo{}

	if err := RunRetention(context.Background(), repo, 0, time.Millisecond, nil); err != nil {
		t.Fatalf("RunRetention(disabled) error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = RunRetention(ctx, repo, time.Hour, time.Millisecond, nil)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if _, _, prunes := repo.counts(); prunes > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("retention never pruned")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done
}
