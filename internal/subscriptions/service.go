// Package subscriptions manages the lifecycle of provider webhook
// subscriptions for linked accounts.
package subscriptions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"stepsync/internal/database"
	"stepsync/internal/fitbit"
	"stepsync/internal/tokens"
)

// Service creates, deletes, and reconciles webhook subscriptions
type Service struct {
	db     *database.DB
	client *fitbit.Client
	tokens *tokens.Cache
	logger *slog.Logger
}

// NewService creates a subscription service
func NewService(db *database.DB, client *fitbit.Client, tokenCache *tokens.Cache) *Service {
	return &Service{
		db:     db,
		client: client,
		tokens: tokenCache,
		logger: slog.Default(),
	}
}

// Subscribe registers a webhook subscription for the account's activities
// collection and records it. The provider answering 409 means the
// subscription already exists; it is adopted rather than treated as an
// error.
func (s *Service) Subscribe(ctx context.Context, account *database.LinkedAccount) (*database.Subscription, error) {
	accessToken, err := s.tokens.GetValidAccessToken(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	subscriptionID := fmt.Sprintf("%d-%s-%s", account.UserID, fitbit.CollectionActivities, uuid.NewString())

	sub, err := s.client.CreateSubscription(ctx, accessToken, subscriptionID, fitbit.CollectionActivities)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	if err := s.db.UpsertSubscription(account.ID, sub.SubscriptionID, sub.CollectionType); err != nil {
		return nil, fmt.Errorf("failed to record subscription: %w", err)
	}

	s.logger.Info("Subscribed account to notifications",
		"account_id", account.ID,
		"subscription_id", sub.SubscriptionID)

	subs, err := s.db.ListActiveSubscriptions(account.ID)
	if err != nil {
		return nil, err
	}
	for _, stored := range subs {
		if stored.SubscriptionID == sub.SubscriptionID {
			return stored, nil
		}
	}
	return nil, fmt.Errorf("subscription %s not found after upsert", sub.SubscriptionID)
}

// Unsubscribe deletes all of the account's active subscriptions upstream.
// When the provider delete succeeds (or reports the subscription already
// gone) the row is removed; when it fails the row is only deactivated so a
// later pass can retry the delete.
func (s *Service) Unsubscribe(ctx context.Context, account *database.LinkedAccount) error {
	subs, err := s.db.ListActiveSubscriptions(account.ID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}

	accessToken, err := s.tokens.GetValidAccessToken(ctx, account)
	if err != nil {
		// Can't reach the provider without a token; keep the rows but
		// deactivate them
		if _, derr := s.db.DeactivateSubscriptions(account.ID); derr != nil {
			return derr
		}
		s.logger.Warn("No token for unsubscribe, subscriptions deactivated locally",
			"account_id", account.ID)
		return nil
	}

	for _, sub := range subs {
		if err := s.client.DeleteSubscription(ctx, accessToken, sub.SubscriptionID, sub.CollectionType); err != nil {
			s.logger.Error("Failed to delete subscription upstream, deactivating locally",
				"subscription_id", sub.SubscriptionID,
				"error", err)
			if derr := s.db.DeactivateSubscription(sub.SubscriptionID); derr != nil {
				return derr
			}
			continue
		}

		if err := s.db.DeleteSubscription(sub.SubscriptionID); err != nil {
			return err
		}
		s.logger.Info("Deleted subscription", "subscription_id", sub.SubscriptionID)
	}

	return nil
}

// Sync compares stored active subscriptions against the provider's list and
// deactivates any that no longer exist upstream
func (s *Service) Sync(ctx context.Context, account *database.LinkedAccount) error {
	accessToken, err := s.tokens.GetValidAccessToken(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	upstream, err := s.client.ListSubscriptions(ctx, accessToken)
	if err != nil {
		return fmt.Errorf("failed to list upstream subscriptions: %w", err)
	}

	upstreamIDs := make(map[string]bool, len(upstream))
	for _, sub := range upstream {
		upstreamIDs[sub.SubscriptionID] = true
	}

	stored, err := s.db.ListActiveSubscriptions(account.ID)
	if err != nil {
		return err
	}

	for _, sub := range stored {
		if !upstreamIDs[sub.SubscriptionID] {
			if err := s.db.DeactivateSubscription(sub.SubscriptionID); err != nil {
				return err
			}
			s.logger.Info("Deactivated subscription missing upstream",
				"subscription_id", sub.SubscriptionID)
		}
	}

	return nil
}
