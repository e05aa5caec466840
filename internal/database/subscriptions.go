package database

import (
	"fmt"
	"time"
)

// Subscription is a provider webhook subscription for a linked account
type Subscription struct {
	ID             int64
	AccountID      int64
	SubscriptionID string
	CollectionType string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UpsertSubscription records a subscription, reactivating it if the provider
// reported it as already existing (409 adopt path)
func (d *DB) UpsertSubscription(accountID int64, subscriptionID, collectionType string) error {
	now := time.Now().Unix()
	query := `
		INSERT INTO subscriptions (account_id, subscription_id, collection_type, active, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(subscription_id) DO UPDATE SET
			account_id = excluded.account_id,
			collection_type = excluded.collection_type,
			active = 1,
			updated_at = excluded.updated_at
	`
	if _, err := d.conn.Exec(query, accountID, subscriptionID, collectionType, now, now); err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// ListActiveSubscriptions returns the active subscriptions for an account
func (d *DB) ListActiveSubscriptions(accountID int64) ([]*Subscription, error) {
	query := `
		SELECT id, account_id, subscription_id, collection_type, active, created_at, updated_at
		FROM subscriptions
		WHERE account_id = ? AND active = 1
		ORDER BY id ASC
	`
	rows, err := d.conn.Query(query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		var s Subscription
		var createdAt, updatedAt int64
		if err := rows.Scan(&s.ID, &s.AccountID, &s.SubscriptionID, &s.CollectionType, &s.Active, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		s.CreatedAt = time.Unix(createdAt, 0)
		s.UpdatedAt = time.Unix(updatedAt, 0)
		subs = append(subs, &s)
	}
	return subs, rows.Err()
}

// DeactivateSubscriptions marks all of an account's active subscriptions
// inactive and returns how many were affected. Used on revoke/delete-user
// notifications and on unlink paths where the provider delete call failed.
func (d *DB) DeactivateSubscriptions(accountID int64) (int64, error) {
	query := `UPDATE subscriptions SET active = 0, updated_at = ? WHERE account_id = ? AND active = 1`
	result, err := d.conn.Exec(query, time.Now().Unix(), accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate subscriptions: %w", err)
	}
	return result.RowsAffected()
}

// DeactivateSubscription marks one subscription inactive
func (d *DB) DeactivateSubscription(subscriptionID string) error {
	query := `UPDATE subscriptions SET active = 0, updated_at = ? WHERE subscription_id = ?`
	if _, err := d.conn.Exec(query, time.Now().Unix(), subscriptionID); err != nil {
		return fmt.Errorf("failed to deactivate subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes a subscription row after a successful provider
// delete call
func (d *DB) DeleteSubscription(subscriptionID string) error {
	if _, err := d.conn.Exec(`DELETE FROM subscriptions WHERE subscription_id = ?`, subscriptionID); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}
