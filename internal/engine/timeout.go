package engine

import (
	"context"
	"time"

	"github.com/LibreTap/mqtt-protocol/internal/session"
)

// RunTimeouts sweeps expired Sessions every SweepInterval until ctx is done.
// It always returns nil so it can run inside an errgroup.
func (e *Engine) RunTimeouts(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Sweep(e.registry.Now())
		}
	}
}

// Sweep closes every Session whose deadline passed at now as
// Failed(Timeout), tells its reader to cancel and forgets old tombstones.
// A Session that closed concurrently for another reason is left alone.
//
// Returns the number of Sessions timed out by this call.
func (e *Engine) Sweep(now time.Time) int {
	timedOut := 0
	for _, s := range e.registry.Expired(now) {
		closed, ok := e.closeSession(s.RequestID, session.StateFailed, session.ReasonTimeout)
		if !ok {
			continue
		}
		timedOut++
		_ = e.publishCancel(closed)
	}

	if pruned := e.registry.PruneClosed(now); pruned > 0 {
		e.log().Debug("pruned closed sessions", "count", pruned)
	}
	return timedOut
}
