package journal

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunRetention deletes entries older than retention every interval until ctx
// is cancelled. The first pass runs immediately. A zero retention keeps
// entries forever and returns at once.
func (s *Store) RunRetention(ctx context.Context, retention, interval time.Duration, logger *zap.Logger) {
	if retention <= 0 || interval <= 0 {
		return
	}
	logger.Info("Journal retention enabled",
		zap.Duration("retention", retention),
		zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := s.Prune(ctx, time.Now().UTC().Add(-retention))
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Warn("Failed to prune journal", zap.Error(err))
		case n > 0:
			logger.Info("Pruned journal entries", zap.Int64("count", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
