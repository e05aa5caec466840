// Package poller is the hourly fallback pull path. Fitbit notifications are
// at-most-once and occasionally dropped, so every linked account gets
// today's total re-pulled on a schedule, bypassing the job queue.
package poller

import (
	"context"
	"errors"
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

// Poller re-pulls today's steps for every linked account on an interval
type Poller struct {
	db       *database.DB
	client   *fitbit.Client
	tokens   *tokens.Cache
	engine   *reconcile.Engine
	logger   *slog.Logger
	interval time.Duration
}

// RunResult summarizes one poller run
type RunResult struct {
	Succeeded int
	Skipped   int
	Errors    int
}

// NewPoller creates a scheduled poller
func NewPoller(db *database.DB, client *fitbit.Client, tokenCache *tokens.Cache, engine *reconcile.Engine, cfg *config.Config) *Poller {
	return &Poller{
		db:       db,
		client:   client,
		tokens:   tokenCache,
		engine:   engine,
		logger:   slog.Default(),
		interval: cfg.PollInterval,
	}
}

// Start runs the poller until the context is cancelled
func (p *Poller) Start(ctx context.Context) error {
	p.logger.Info("Starting scheduled poller", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Stopping scheduled poller")
			return ctx.Err()
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce polls every linked account once. Failures are isolated per
// account and counted; the run never aborts early.
func (p *Poller) RunOnce(ctx context.Context) RunResult {
	metrics.PollerRunsTotal.Inc()
	start := time.Now()
	today := time.Now().Format(dateLayout)

	var result RunResult

	accounts, err := p.db.ListAccounts(worker.ProviderName)
	if err != nil {
		p.logger.Error("Failed to list accounts for polling", "error", err)
		return result
	}

	p.logger.Info("Starting steps sync", "accounts", len(accounts), "date", today)

	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}

		switch err := p.syncAccount(ctx, account, today); {
		case err == nil:
			metrics.PollerAccountsTotal.WithLabelValues(metrics.PollerSuccess).Inc()
			result.Succeeded++
		case errors.Is(err, tokens.ErrNoToken):
			// Revoked or never-authorized account: skip, don't alarm
			metrics.PollerAccountsTotal.WithLabelValues(metrics.PollerSkipped).Inc()
			p.logger.Warn("No valid token for account, skipping", "account_id", account.ID)
			result.Skipped++
		default:
			metrics.PollerAccountsTotal.WithLabelValues(metrics.PollerError).Inc()
			p.logger.Error("Failed to sync account", "account_id", account.ID, "error", err)
			result.Errors++
		}
	}

	p.logger.Info("Completed steps sync",
		"succeeded", result.Succeeded,
		"skipped", result.Skipped,
		"errors", result.Errors,
		"duration_ms", time.Since(start).Milliseconds())

	return result
}

// syncAccount pulls one account's total for the date and reconciles it
func (p *Poller) syncAccount(ctx context.Context, account *database.LinkedAccount, date string) error {
	accessToken, err := p.tokens.GetValidAccessToken(ctx, account)
	if err != nil {
		return err
	}

	entries, err := p.client.GetStepsTimeSeries(ctx, accessToken, date, date)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("no steps data returned")
	}

	dates, err := worker.StoreDailyEntries(p.db, account.ID, entries)
	if err != nil {
		return err
	}

	return p.engine.ReconcileDates(account.UserID, dates)
}
