package metrics

import (
	"context"
	"log/slog"
	"time"
)

// DB interface for queue depth queries
type DB interface {
	CountJobsByStatus(status string) (int, error)
}

// StartQueueDepthCollector starts a background goroutine that periodically
// collects job queue depth metrics from the database
func StartQueueDepthCollector(ctx context.Context, db DB, interval time.Duration) {
	logger := slog.Default()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect once immediately
	collectQueueDepths(db, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Queue depth collector stopping")
			return
		case <-ticker.C:
			collectQueueDepths(db, logger)
		}
	}
}

func collectQueueDepths(db DB, logger *slog.Logger) {
	for _, status := range []string{StatusPending, StatusProcessing, StatusFailed} {
		count, err := db.CountJobsByStatus(status)
		if err != nil {
			logger.Error("Failed to get queue depth", "status", status, "error", err)
			continue
		}
		QueueDepth.WithLabelValues(status).Set(float64(count))
	}
}
