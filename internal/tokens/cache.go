// Package tokens manages the OAuth token lifecycle for linked accounts.
// Every Fitbit call passes through GetValidAccessToken, so a revoked or
// expired credential degrades to "skip this account" instead of failing
// whole batch jobs.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stepsync/internal/database"
	"stepsync/internal/fitbit"
	"stepsync/internal/metrics"
)

// expiryBuffer refreshes tokens this long before their recorded expiry
const expiryBuffer = 5 * time.Minute

// ErrNoToken means the account cannot currently authenticate: it has no
// refresh token, or the refresh exchange was rejected. Callers skip the
// account rather than aborting.
var ErrNoToken = errors.New("no valid access token for account")

// Cache obtains and refreshes access tokens for linked accounts
type Cache struct {
	db     *database.DB
	client *fitbit.Client
	logger *slog.Logger
}

// NewCache creates a token cache backed by the given client and store
func NewCache(db *database.DB, client *fitbit.Client) *Cache {
	return &Cache{
		db:     db,
		client: client,
		logger: slog.Default(),
	}
}

// GetValidAccessToken returns an access token for the account, refreshing
// first when the token is missing, has no recorded expiry, or expires
// within the safety buffer. Rotated tokens are persisted before the new
// token is returned.
//
// All failure modes are reported as ErrNoToken (wrapped) so callers can
// uniformly skip the account.
func (c *Cache) GetValidAccessToken(ctx context.Context, account *database.LinkedAccount) (string, error) {
	if account.AccessToken != nil && *account.AccessToken != "" && !c.needsRefresh(account.TokenExpiresAt) {
		return *account.AccessToken, nil
	}

	// A missing access token is recoverable as long as a refresh token
	// remains
	if account.RefreshToken == nil || *account.RefreshToken == "" {
		return "", fmt.Errorf("%w: account %d has no refresh token", ErrNoToken, account.ID)
	}

	c.logger.Info("Refreshing access token", "account_id", account.ID)

	tokenResp, err := c.client.RefreshToken(ctx, *account.RefreshToken)
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		c.logger.Warn("Token refresh failed", "account_id", account.ID, "error", err)
		return "", fmt.Errorf("%w: refresh failed for account %d: %v", ErrNoToken, account.ID, err)
	}

	expiresAt := time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	if err := c.db.UpdateAccountTokens(account.ID, tokenResp.AccessToken, tokenResp.RefreshToken, expiresAt); err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("%w: failed to persist tokens for account %d: %v", ErrNoToken, account.ID, err)
	}

	// Keep the in-memory account current for the caller
	account.AccessToken = &tokenResp.AccessToken
	account.RefreshToken = &tokenResp.RefreshToken
	account.TokenExpiresAt = &expiresAt

	metrics.TokenRefreshesTotal.WithLabelValues("success").Inc()
	c.logger.Info("Token refreshed", "account_id", account.ID, "expires_at", expiresAt)

	return tokenResp.AccessToken, nil
}

// needsRefresh reports whether the token expires within the safety buffer.
// A missing expiry counts as expired.
func (c *Cache) needsRefresh(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return true
	}
	return !expiresAt.After(time.Now().Add(expiryBuffer))
}
