// Package backfill fills gaps in historical daily readings by re-deriving
// the missing dates from current state on every run, so an interrupted
// backfill is always resumable.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stepsync/internal/config"
	"stepsync/internal/database"
	"stepsync/internal/fitbit"
	"stepsync/internal/metrics"
	"stepsync/internal/reconcile"
	"stepsync/internal/tokens"
	"stepsync/internal/worker"
)

const dateLayout = "2006-01-02"

// maxChunkDays is the largest date span fetched in one provider call
const maxChunkDays = 30

// Orchestrator detects missing historical dates and drives the provider
// client and reconciliation engine to fill them
type Orchestrator struct {
	db         *database.DB
	client     *fitbit.Client
	tokens     *tokens.Cache
	engine     *reconcile.Engine
	logger     *slog.Logger
	chunkDelay time.Duration
}

// NewOrchestrator creates a backfill orchestrator
func NewOrchestrator(db *database.DB, client *fitbit.Client, tokenCache *tokens.Cache, engine *reconcile.Engine, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		db:         db,
		client:     client,
		tokens:     tokenCache,
		engine:     engine,
		logger:     slog.Default(),
		chunkDelay: cfg.BackfillChunkDelay,
	}
}

// Backfill fetches daily readings for every date in [start, end] that has
// none, in contiguous chunks of at most 30 days with a fixed delay between
// chunks. A failed chunk is logged and skipped; dates that did fetch are
// still reconciled afterwards.
func (o *Orchestrator) Backfill(ctx context.Context, userID int64, start, end time.Time) error {
	account, err := o.db.GetAccountByUserID(userID, worker.ProviderName)
	if err != nil {
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil {
		o.logger.Warn("No linked account for user, skipping backfill", "user_id", userID)
		return nil
	}

	missing, err := o.missingDates(account.ID, start, end)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		o.logger.Info("No missing dates, backfill not needed", "user_id", userID)
		return nil
	}

	o.logger.Info("Starting backfill",
		"user_id", userID,
		"start", start.Format(dateLayout),
		"end", end.Format(dateLayout),
		"missing_dates", len(missing))

	var fetched []string
	chunks := chunkContiguous(missing, maxChunkDays)

	for i, chunk := range chunks {
		if i > 0 {
			// Fixed inter-chunk delay to stay under provider rate limits
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.chunkDelay):
			}
		}

		dates, err := o.fetchChunk(ctx, account, chunk)
		if err != nil {
			metrics.BackfillChunksTotal.WithLabelValues(metrics.ChunkFailed).Inc()
			o.logger.Error("Backfill chunk failed, continuing with remaining chunks",
				"user_id", userID,
				"chunk_start", chunk[0],
				"chunk_end", chunk[len(chunk)-1],
				"error", err)
			continue
		}
		metrics.BackfillChunksTotal.WithLabelValues(metrics.ChunkFetched).Inc()
		fetched = append(fetched, dates...)
	}

	if len(fetched) == 0 {
		o.logger.Warn("Backfill fetched no dates", "user_id", userID)
		return nil
	}

	// Reconcile once per distinct date actually fetched; chunk failures
	// must not block the dates that succeeded
	distinct := dedupe(fetched)
	metrics.BackfillDatesFetched.Add(float64(len(distinct)))
	if err := o.engine.ReconcileDates(userID, distinct); err != nil {
		return fmt.Errorf("failed to reconcile backfilled dates: %w", err)
	}

	o.logger.Info("Completed backfill", "user_id", userID, "dates_fetched", len(distinct))
	return nil
}

// NeedsBackfill reports whether the user's account is missing any daily
// reading in [start, end]. Used by membership-join flows to decide whether
// to trigger a fill. A user with no linked account needs nothing.
func (o *Orchestrator) NeedsBackfill(userID int64, start, end time.Time) (bool, error) {
	account, err := o.db.GetAccountByUserID(userID, worker.ProviderName)
	if err != nil {
		return false, fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil {
		return false, nil
	}

	missing, err := o.missingDates(account.ID, start, end)
	if err != nil {
		return false, err
	}
	return len(missing) > 0, nil
}

// missingDates returns the dates in [start, end], capped at today, that
// have no daily reading for the account, in ascending order
func (o *Orchestrator) missingDates(accountID int64, start, end time.Time) ([]string, error) {
	startDay := start.Truncate(24 * time.Hour)
	endDay := end.Truncate(24 * time.Hour)
	today := time.Now().Truncate(24 * time.Hour)
	if endDay.After(today) {
		endDay = today
	}
	if startDay.After(endDay) {
		return nil, nil
	}

	existing, err := o.db.GetDailyReadingDates(accountID, startDay.Format(dateLayout), endDay.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to load existing dates: %w", err)
	}

	var missing []string
	for d := startDay; !d.After(endDay); d = d.AddDate(0, 0, 1) {
		date := d.Format(dateLayout)
		if !existing[date] {
			missing = append(missing, date)
		}
	}
	return missing, nil
}

// fetchChunk pulls one contiguous date span and stores the results,
// returning the dates written
func (o *Orchestrator) fetchChunk(ctx context.Context, account *database.LinkedAccount, chunk []string) ([]string, error) {
	accessToken, err := o.tokens.GetValidAccessToken(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	startDate := chunk[0]
	endDate := chunk[len(chunk)-1]

	entries, err := o.client.GetStepsTimeSeries(ctx, accessToken, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s..%s: %w", startDate, endDate, err)
	}

	dates, err := worker.StoreDailyEntries(o.db, account.ID, entries)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("Stored backfill chunk",
		"account_id", account.ID,
		"start", startDate,
		"end", endDate,
		"dates", len(dates))

	return dates, nil
}

// chunkContiguous splits sorted dates into runs of consecutive days, each
// capped at size days
func chunkContiguous(dates []string, size int) [][]string {
	var chunks [][]string
	var current []string

	for _, date := range dates {
		if len(current) > 0 {
			prev, _ := time.Parse(dateLayout, current[len(current)-1])
			next, _ := time.Parse(dateLayout, date)
			if !next.Equal(prev.AddDate(0, 0, 1)) || len(current) >= size {
				chunks = append(chunks, current)
				current = nil
			}
		}
		current = append(current, date)
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// dedupe removes duplicate dates while preserving order
func dedupe(dates []string) []string {
	seen := make(map[string]bool, len(dates))
	var out []string
	for _, d := range dates {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}
