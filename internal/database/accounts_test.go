package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertLinkedAccountIsStablePerUserProvider(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, db.CreateUser(1, nil))

	id1, err := db.UpsertLinkedAccount(&LinkedAccount{
		UserID:         1,
		Provider:       "fitbit",
		ExternalUserID: "FB1",
	})
	require.NoError(t, err)

	// Relinking the same provider reuses the row
	id2, err := db.UpsertLinkedAccount(&LinkedAccount{
		UserID:         1,
		Provider:       "fitbit",
		ExternalUserID: "FB1-NEW",
	})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	account, err := db.GetAccountByID(id1)
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "FB1-NEW", account.ExternalUserID)
}

func TestGetAccountByExternalUserID(t *testing.T) {
	db := setupDB(t)
	id := createTestAccount(t, db, 1, "fitbit", "FB1")

	account, err := db.GetAccountByExternalUserID("fitbit", "FB1")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, id, account.ID)
	assert.Equal(t, int64(1), account.UserID)

	missing, err := db.GetAccountByExternalUserID("fitbit", "NOPE")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpdateAndClearAccountTokens(t *testing.T) {
	db := setupDB(t)
	id := createTestAccount(t, db, 1, "fitbit", "FB1")

	expires := time.Now().Add(8 * time.Hour).Truncate(time.Second)
	require.NoError(t, db.UpdateAccountTokens(id, "access-1", "refresh-1", expires))

	account, err := db.GetAccountByID(id)
	require.NoError(t, err)
	require.NotNil(t, account.AccessToken)
	assert.Equal(t, "access-1", *account.AccessToken)
	require.NotNil(t, account.RefreshToken)
	assert.Equal(t, "refresh-1", *account.RefreshToken)
	require.NotNil(t, account.TokenExpiresAt)
	assert.True(t, account.TokenExpiresAt.Equal(expires))

	require.NoError(t, db.ClearAccountTokens(id))
	account, err = db.GetAccountByID(id)
	require.NoError(t, err)
	assert.Nil(t, account.AccessToken)
	assert.Nil(t, account.RefreshToken)
	assert.Nil(t, account.TokenExpiresAt)
}

func TestPreferredProvider(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, db.CreateUser(1, nil))

	preferred, err := db.GetPreferredProvider(1)
	require.NoError(t, err)
	assert.Empty(t, preferred)

	// Unknown user reads as unset, not as an error
	preferred, err = db.GetPreferredProvider(99)
	require.NoError(t, err)
	assert.Empty(t, preferred)

	require.NoError(t, db.SetPreferredProvider(1, strPtr("fitbit")))
	preferred, err = db.GetPreferredProvider(1)
	require.NoError(t, err)
	assert.Equal(t, "fitbit", preferred)

	require.NoError(t, db.SetPreferredProvider(1, nil))
	preferred, err = db.GetPreferredProvider(1)
	require.NoError(t, err)
	assert.Empty(t, preferred)
}

func TestListAccounts(t *testing.T) {
	db := setupDB(t)
	createTestAccount(t, db, 1, "fitbit", "FB1")
	createTestAccount(t, db, 2, "fitbit", "FB2")

	require.NoError(t, db.CreateUser(3, nil))
	_, err := db.UpsertLinkedAccount(&LinkedAccount{UserID: 3, Provider: "garmin", ExternalUserID: "G1"})
	require.NoError(t, err)

	accounts, err := db.ListAccounts("fitbit")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "FB1", accounts[0].ExternalUserID)
	assert.Equal(t, "FB2", accounts[1].ExternalUserID)
}
