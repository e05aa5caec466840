package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"stepsync/internal/config"
	"stepsync/internal/database"
	"stepsync/internal/fitbit"
	"stepsync/internal/metrics"
	"stepsync/internal/tokens"
)

// errorCategory classifies a processing failure for retry purposes
type errorCategory string

const (
	categoryValidation errorCategory = "validation" // bad payload, never retry
	categoryNotFound   errorCategory = "not_found"  // unknown account, never retry
	categoryToken      errorCategory = "token"      // refresh failed, retry
	categoryAPI        errorCategory = "api"        // provider outage/rate limit, retry
	categoryUnknown    errorCategory = "unknown"    // conservative default, retry
)

// terminal reports whether a category should never be retried
func (c errorCategory) terminal() bool {
	return c == categoryValidation || c == categoryNotFound
}

// Worker drains the job queue in bounded batches
type Worker struct {
	db        *database.DB
	processor *Processor
	logger    *slog.Logger

	batchSize    int
	pollInterval time.Duration
}

// NewWorker creates a job queue worker
func NewWorker(db *database.DB, processor *Processor, cfg *config.Config) *Worker {
	return &Worker{
		db:           db,
		processor:    processor,
		logger:       slog.Default(),
		batchSize:    cfg.WorkerBatchSize,
		pollInterval: cfg.WorkerPollInterval,
	}
}

// Start runs the worker loop until the context is cancelled. Each tick
// processes at most one batch so a deep backlog cannot starve the other
// scheduled work in this process.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting job worker", "batch_size", w.batchSize, "poll_interval", w.pollInterval)
	metrics.WorkerActive.Set(1)
	defer metrics.WorkerActive.Set(0)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Process once immediately
	w.ProcessBatch(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping job worker")
			return ctx.Err()
		case <-ticker.C:
			w.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch reclaims stale jobs, then claims and processes up to
// batchSize eligible jobs. Returns how many jobs were handled.
func (w *Worker) ProcessBatch(ctx context.Context) int {
	start := time.Now()

	if reclaimed, err := w.db.ReclaimStuckJobs(); err != nil {
		w.logger.Error("Failed to reclaim stuck jobs", "error", err)
	} else if reclaimed > 0 {
		metrics.JobsReclaimedTotal.Add(float64(reclaimed))
		w.logger.Warn("Reclaimed jobs stuck in processing", "count", reclaimed)
	}

	processed := 0
	for processed < w.batchSize {
		if ctx.Err() != nil {
			break
		}

		job, err := w.db.ClaimNextJob()
		if err != nil {
			w.logger.Error("Failed to claim job", "error", err)
			break
		}
		if job == nil {
			break // nothing eligible
		}

		w.processJob(ctx, job)
		processed++
	}

	if processed > 0 {
		w.logger.Info("Completed job batch",
			"processed", processed,
			"duration_ms", time.Since(start).Milliseconds())
	}

	return processed
}

// processJob runs one claimed job through the dispatch table and applies
// the completed/retry/failed transition
func (w *Worker) processJob(ctx context.Context, job *database.Job) {
	start := time.Now()
	w.logger.Info("Processing job",
		"id", job.ID,
		"job_type", job.JobType,
		"attempt", job.Retries+1)

	err := w.dispatch(ctx, job)
	duration := time.Since(start).Seconds()

	if err == nil {
		if err := w.db.CompleteJob(job.ID); err != nil {
			w.logger.Error("Failed to mark job completed", "id", job.ID, "error", err)
			return
		}
		metrics.JobProcessingDuration.WithLabelValues(metrics.ResultCompleted).Observe(duration)
		metrics.JobsProcessedTotal.WithLabelValues(job.JobType, metrics.ResultCompleted).Inc()
		w.logger.Info("Job completed", "id", job.ID)
		return
	}

	category := categorize(err)
	errMsg := fmt.Sprintf("[%s] %v", category, err)

	if category.terminal() {
		// Retrying a malformed payload or a missing account can never
		// succeed
		if err := w.db.FailJob(job.ID, job.Retries, errMsg); err != nil {
			w.logger.Error("Failed to mark job failed", "id", job.ID, "error", err)
			return
		}
		metrics.JobProcessingDuration.WithLabelValues(metrics.ResultFailed).Observe(duration)
		metrics.JobsProcessedTotal.WithLabelValues(job.JobType, metrics.ResultFailed).Inc()
		w.logger.Error("Job failed permanently, non-retryable",
			"id", job.ID,
			"category", category,
			"error", err)
		return
	}

	newRetries := job.Retries + 1
	if newRetries >= database.MaxJobRetries {
		if err := w.db.FailJob(job.ID, newRetries, errMsg); err != nil {
			w.logger.Error("Failed to mark job failed", "id", job.ID, "error", err)
			return
		}
		metrics.JobProcessingDuration.WithLabelValues(metrics.ResultFailed).Observe(duration)
		metrics.JobsProcessedTotal.WithLabelValues(job.JobType, metrics.ResultFailed).Inc()
		w.logger.Error("Job failed permanently after max retries",
			"id", job.ID,
			"retries", newRetries,
			"category", category,
			"error", err)
		return
	}

	if err := w.db.ReleaseJob(job.ID, newRetries, errMsg); err != nil {
		w.logger.Error("Failed to release job for retry", "id", job.ID, "error", err)
		return
	}
	metrics.JobProcessingDuration.WithLabelValues(metrics.ResultRetry).Observe(duration)
	metrics.JobsProcessedTotal.WithLabelValues(job.JobType, metrics.ResultRetry).Inc()
	metrics.JobRetriesTotal.WithLabelValues(string(category)).Inc()
	w.logger.Warn("Job released for retry",
		"id", job.ID,
		"attempt", newRetries,
		"next_eligible_in", database.Backoff(newRetries),
		"category", category,
		"error", err)
}

// dispatch routes a job by type and, for notifications, by collection type
func (w *Worker) dispatch(ctx context.Context, job *database.Job) error {
	switch job.JobType {
	case database.JobTypeNotification:
		return w.handleNotificationJob(ctx, job)
	default:
		return fmt.Errorf("%w: unknown job type %q", errInvalidPayload, job.JobType)
	}
}

// errInvalidPayload marks payloads that can never be processed
var errInvalidPayload = errors.New("invalid job payload")

// handleNotificationJob re-validates the payload, then routes revocation
// notices to the dedicated handler and everything else to the processor
func (w *Worker) handleNotificationJob(ctx context.Context, job *database.Job) error {
	var n fitbit.Notification
	if err := json.Unmarshal(job.Payload, &n); err != nil {
		return fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	if err := fitbit.ValidateNotification(&n); err != nil {
		return fmt.Errorf("%w: %v", errInvalidPayload, err)
	}

	switch n.CollectionType {
	case fitbit.CollectionUserRevokedAccess, fitbit.CollectionDeleteUser:
		return w.processor.HandleRevocation(ctx, n.OwnerID)
	default:
		return w.processor.ProcessNotification(ctx, &n)
	}
}

// categorize maps an error to its retry category. Unknown errors retry:
// better to retry an unexpected error than to silently drop data.
func categorize(err error) errorCategory {
	switch {
	case errors.Is(err, errInvalidPayload):
		return categoryValidation
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrNoData), fitbit.IsNotFound(err):
		return categoryNotFound
	case errors.Is(err, tokens.ErrNoToken), fitbit.IsUnauthorized(err):
		return categoryToken
	case fitbit.IsTooManyRequests(err), isAPIError(err):
		return categoryAPI
	default:
		return categoryUnknown
	}
}

// isAPIError catches provider-side failures that are not typed HTTP errors
func isAPIError(err error) bool {
	var httpErr *fitbit.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "rate limit")
}
