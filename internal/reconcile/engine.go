// Package reconcile merges raw per-provider readings into one authoritative
// daily step total per user and date.
package reconcile

import (
	"fmt"
	"log/slog"
	"sort"

	"stepsync/internal/database"
	"stepsync/internal/metrics"
)

// Engine recomputes daily totals from stored raw readings. Reconcile is
// idempotent: for a fixed set of readings it always produces the same total,
// so it is safe to call after every write regardless of order.
type Engine struct {
	db     *database.DB
	logger *slog.Logger
}

// NewEngine creates a reconciliation engine
func NewEngine(db *database.DB) *Engine {
	return &Engine{
		db:     db,
		logger: slog.Default(),
	}
}

// Reconcile recomputes and upserts the DailyTotal for one user and date.
// If any intraday readings exist for the date, intraday slot merging is
// used; otherwise the single daily reading (or the conflict winner among
// several) becomes the total. No readings at all is a no-op.
func (e *Engine) Reconcile(userID int64, date string) error {
	readings, err := e.db.GetReadingsForUserDate(userID, date)
	if err != nil {
		return fmt.Errorf("failed to load readings: %w", err)
	}
	if len(readings) == 0 {
		return nil
	}

	preferred, err := e.db.GetPreferredProvider(userID)
	if err != nil {
		return fmt.Errorf("failed to load preferred provider: %w", err)
	}

	var intraday, daily []*database.RawReading
	for _, r := range readings {
		if r.Granularity == database.GranularityIntraday {
			intraday = append(intraday, r)
		} else {
			daily = append(daily, r)
		}
	}

	var totalSteps int
	var sourceAccountID *int64

	if len(intraday) > 0 {
		metrics.ReconciliationsTotal.WithLabelValues(metrics.ModeIntraday).Inc()
		merged := e.mergeIntraday(intraday, preferred)
		for _, r := range merged {
			totalSteps += r.Steps
		}
		if len(merged) > 0 {
			// Provenance: the account behind the latest resolved slot
			id := merged[len(merged)-1].AccountID
			sourceAccountID = &id
		}
	} else {
		metrics.ReconciliationsTotal.WithLabelValues(metrics.ModeDaily).Inc()
		winner := e.resolveConflict(daily, preferred)
		totalSteps = winner.Steps
		id := winner.AccountID
		sourceAccountID = &id
	}

	if err := e.db.UpsertDailyTotal(userID, date, totalSteps, sourceAccountID); err != nil {
		return fmt.Errorf("failed to upsert daily total: %w", err)
	}

	e.logger.Debug("Reconciled daily total",
		"user_id", userID,
		"date", date,
		"steps", totalSteps,
		"readings", len(readings))

	return nil
}

// ReconcileDates reconciles several dates for one user, stopping at the
// first error
func (e *Engine) ReconcileDates(userID int64, dates []string) error {
	for _, date := range dates {
		if err := e.Reconcile(userID, date); err != nil {
			return fmt.Errorf("failed to reconcile %s: %w", date, err)
		}
	}
	return nil
}

// mergeIntraday groups intraday readings by time slot and resolves each
// slot independently. Conflict resolution applies only where providers
// actually overlap in time; non-overlapping samples are all kept.
// The result is ordered by time slot.
func (e *Engine) mergeIntraday(readings []*database.RawReading, preferred string) []*database.RawReading {
	slots := make(map[string][]*database.RawReading)
	for _, r := range readings {
		key := ""
		if r.Time != nil {
			key = *r.Time
		}
		slots[key] = append(slots[key], r)
	}

	times := make([]string, 0, len(slots))
	for t := range slots {
		times = append(times, t)
	}
	sort.Strings(times)

	merged := make([]*database.RawReading, 0, len(times))
	for _, t := range times {
		candidates := slots[t]
		if len(candidates) > 1 {
			metrics.ReconciliationConflictsTotal.Inc()
		}
		merged = append(merged, e.resolveConflict(candidates, preferred))
	}
	return merged
}

// resolveConflict picks one reading among candidates for the same slot.
// Priority order:
//  1. the user's preferred provider, if present among the candidates
//  2. the most recently synced reading
//  3. the first candidate (readings are ordered by id, so this stays
//     deterministic; it carries no meaning beyond that)
func (e *Engine) resolveConflict(candidates []*database.RawReading, preferred string) *database.RawReading {
	if len(candidates) == 1 {
		return candidates[0]
	}

	if preferred != "" {
		for _, r := range candidates {
			if r.Provider == preferred {
				return r
			}
		}
	}

	winner := candidates[0]
	for _, r := range candidates[1:] {
		if r.SyncedAt.After(winner.SyncedAt) {
			winner = r
		}
	}
	return winner
}
