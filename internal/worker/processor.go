package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"stepsync/internal/database"
	"stepsync/internal/fitbit"
	"stepsync/internal/reconcile"
	"stepsync/internal/tokens"
)

// ProviderName identifies Fitbit rows in linked_accounts
const ProviderName = "fitbit"

// Sentinel errors that make a job terminal rather than retryable
var (
	// ErrAccountNotFound means the notification's owner id has no linked
	// account, e.g. the user unlinked between notification and processing
	ErrAccountNotFound = errors.New("no linked account for external user")

	// ErrNoData means the provider returned an empty series for the date
	ErrNoData = errors.New("no steps data returned")
)

// Processor turns a validated notification into stored readings and a
// reconciled daily total
type Processor struct {
	db     *database.DB
	client *fitbit.Client
	tokens *tokens.Cache
	engine *reconcile.Engine
	logger *slog.Logger
}

// NewProcessor creates a notification processor
func NewProcessor(db *database.DB, client *fitbit.Client, tokenCache *tokens.Cache, engine *reconcile.Engine) *Processor {
	return &Processor{
		db:     db,
		client: client,
		tokens: tokenCache,
		engine: engine,
		logger: slog.Default(),
	}
}

// ProcessNotification fetches the notified date's steps from Fitbit, stores
// them as daily raw readings, and reconciles the affected dates.
// Collection types other than activities are acknowledged and skipped.
func (p *Processor) ProcessNotification(ctx context.Context, n *fitbit.Notification) error {
	account, err := p.db.GetAccountByExternalUserID(ProviderName, n.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, n.OwnerID)
	}

	if n.CollectionType != fitbit.CollectionActivities {
		p.logger.Info("Skipping collection type",
			"collection_type", n.CollectionType,
			"owner_id", n.OwnerID)
		return nil
	}

	accessToken, err := p.tokens.GetValidAccessToken(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	entries, err := p.client.GetStepsTimeSeries(ctx, accessToken, n.Date, n.Date)
	if err != nil {
		return fmt.Errorf("failed to fetch steps: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w for %s on %s", ErrNoData, n.OwnerID, n.Date)
	}

	dates, err := StoreDailyEntries(p.db, account.ID, entries)
	if err != nil {
		return err
	}

	if err := p.engine.ReconcileDates(account.UserID, dates); err != nil {
		return fmt.Errorf("failed to reconcile: %w", err)
	}

	p.logger.Info("Processed notification",
		"owner_id", n.OwnerID,
		"date", n.Date,
		"account_id", account.ID)

	return nil
}

// HandleRevocation processes userRevokedAccess and deleteUser notifications.
// Tokens are nulled and subscriptions deactivated; historical readings stay.
// A missing account is success, not failure: the link may already be gone,
// and a second delivery of the same notice must not error either.
func (p *Processor) HandleRevocation(ctx context.Context, ownerID string) error {
	account, err := p.db.GetAccountByExternalUserID(ProviderName, ownerID)
	if err != nil {
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil {
		p.logger.Warn("No account found for revoked external user, may already be unlinked",
			"owner_id", ownerID)
		return nil
	}

	if err := p.db.ClearAccountTokens(account.ID); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}

	deactivated, err := p.db.DeactivateSubscriptions(account.ID)
	if err != nil {
		return fmt.Errorf("failed to deactivate subscriptions: %w", err)
	}

	p.logger.Info("Handled access revocation, tokens cleared, data preserved",
		"owner_id", ownerID,
		"account_id", account.ID,
		"subscriptions_deactivated", deactivated)

	return nil
}

// StoreDailyEntries upserts time-series entries as daily readings and
// returns the dates written. Shared with the backfill orchestrator and the
// scheduled poller, which write the same reading shape.
func StoreDailyEntries(db *database.DB, accountID int64, entries []fitbit.TimeSeriesEntry) ([]string, error) {
	now := time.Now()
	dates := make([]string, 0, len(entries))

	for _, entry := range entries {
		steps, err := strconv.Atoi(entry.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid step value %q for %s: %w", entry.Value, entry.DateTime, err)
		}

		reading := &database.RawReading{
			AccountID:   accountID,
			Date:        entry.DateTime,
			Time:        nil, // daily aggregate
			Steps:       steps,
			Granularity: database.GranularityDaily,
			SyncedAt:    now,
		}
		if err := db.UpsertRawReading(reading); err != nil {
			return nil, fmt.Errorf("failed to store reading for %s: %w", entry.DateTime, err)
		}
		dates = append(dates, entry.DateTime)
	}

	return dates, nil
}
