package journal

import (
	"context"
	"time"
)

// RunRetention deletes journal rows older than retention once per interval
// until ctx is done. A zero retention keeps everything. It always returns
// nil so it can run inside an errgroup.
func RunRetention(ctx context.Context, repo Repository, retention, interval time.Duration, logger Logger) error {
	if retention <= 0 {
		return nil
	}
	if logger == nil {
		logger = noopLogger{}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := repo.PruneBefore(ctx, time.Now().Add(-retention)); err != nil {
				logger.Error("journal retention failed", "error", err)
			}
		}
	}
}
