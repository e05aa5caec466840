package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertSubscriptionReactivates(t *testing.T) {
	db := setupDB(t)
	accountID := createTestAccount(t, db, 1, "fitbit", "FB1")

	require.NoError(t, db.UpsertSubscription(accountID, "sub-1", "activities"))
	require.NoError(t, db.DeactivateSubscription("sub-1"))

	subs, err := db.ListActiveSubscriptions(accountID)
	require.NoError(t, err)
	assert.Empty(t, subs)

	// Re-adopting the same provider-side subscription flips it back on
	require.NoError(t, db.UpsertSubscription(accountID, "sub-1", "activities"))
	subs, err = db.ListActiveSubscriptions(accountID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "sub-1", subs[0].SubscriptionID)
	assert.True(t, subs[0].Active)
}

func TestDeactivateSubscriptionsForAccount(t *testing.T) {
	db := setupDB(t)
	accountID := createTestAccount(t, db, 1, "fitbit", "FB1")
	otherID := createTestAccount(t, db, 2, "fitbit", "FB2")

	require.NoError(t, db.UpsertSubscription(accountID, "sub-1", "activities"))
	require.NoError(t, db.UpsertSubscription(accountID, "sub-2", "activities"))
	require.NoError(t, db.UpsertSubscription(otherID, "sub-3", "activities"))

	n, err := db.DeactivateSubscriptions(accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	subs, err := db.ListActiveSubscriptions(accountID)
	require.NoError(t, err)
	assert.Empty(t, subs)

	// The other account is untouched
	subs, err = db.ListActiveSubscriptions(otherID)
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	// Idempotent second call
	n, err = db.DeactivateSubscriptions(accountID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteSubscription(t *testing.T) {
	db := setupDB(t)
	accountID := createTestAccount(t, db, 1, "fitbit", "FB1")

	require.NoError(t, db.UpsertSubscription(accountID, "sub-1", "activities"))
	require.NoError(t, db.DeleteSubscription("sub-1"))

	subs, err := db.ListActiveSubscriptions(accountID)
	require.NoError(t, err)
	assert.Empty(t, subs)

	// Deleting an absent row is fine
	require.NoError(t, db.DeleteSubscription("sub-1"))
}
