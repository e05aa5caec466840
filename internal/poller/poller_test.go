package poller

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepsync/internal/config"
	"stepsync/internal/database"
	"stepsync/internal/fitbit"
	"stepsync/internal/reconcile"
	"stepsync/internal/tokens"
)

func setupPollerTest(t *testing.T, handler http.HandlerFunc) (*Poller, *database.DB) {
	t.Helper()
	db, err := database.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		FitbitClientID:     "cid",
		FitbitClientSecret: "secret",
		PollInterval:       time.Hour,
	}

	client := fitbit.NewClient(cfg)
	if handler != nil {
		server := httptest.NewServer(handler)
		t.Cleanup(server.Close)
		client.SetBaseURL(server.URL)
	}

	tokenCache := tokens.NewCache(db, client)
	engine := reconcile.NewEngine(db)
	return NewPoller(db, client, tokenCache, engine, cfg), db
}

func linkAccount(t *testing.T, db *database.DB, userID int64, withTokens bool) int64 {
	t.Helper()
	require.NoError(t, db.CreateUser(userID, nil))

	account := &database.LinkedAccount{
		UserID:         userID,
		Provider:       "fitbit",
		ExternalUserID: fmt.Sprintf("FB%d", userID),
	}
	if withTokens {
		access := fmt.Sprintf("access-%d", userID)
		refresh := fmt.Sprintf("refresh-%d", userID)
		expires := time.Now().Add(8 * time.Hour)
		account.AccessToken = &access
		account.RefreshToken = &refresh
		account.TokenExpiresAt = &expires
	}

	id, err := db.UpsertLinkedAccount(account)
	require.NoError(t, err)
	return id
}

func TestRunOnceSyncsAllAccounts(t *testing.T) {
	today := time.Now().Format("2006-01-02")
	p, db := setupPollerTest(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"activities-steps":[{"dateTime":"%s","value":"4200"}]}`, today)
	})
	linkAccount(t, db, 1, true)
	linkAccount(t, db, 2, true)

	result := p.RunOnce(context.Background())
	assert.Equal(t, 2, result.Succeeded)
	assert.Zero(t, result.Skipped)
	assert.Zero(t, result.Errors)

	for _, userID := range []int64{1, 2} {
		total, err := db.GetDailyTotal(userID, today)
		require.NoError(t, err)
		require.NotNil(t, total)
		assert.Equal(t, 4200, total.Steps)
	}
}

func TestRunOnceSkipsAccountsWithoutTokens(t *testing.T) {
	today := time.Now().Format("2006-01-02")
	p, db := setupPollerTest(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"activities-steps":[{"dateTime":"%s","value":"4200"}]}`, today)
	})
	linkAccount(t, db, 1, true)
	linkAccount(t, db, 2, false) // never authorized

	result := p.RunOnce(context.Background())
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Errors)
}

func TestRunOnceIsolatesFailures(t *testing.T) {
	today := time.Now().Format("2006-01-02")
	calls := 0
	p, db := setupPollerTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{"activities-steps":[{"dateTime":"%s","value":"4200"}]}`, today)
	})
	linkAccount(t, db, 1, true)
	linkAccount(t, db, 2, true)

	// The first account's failure does not stop the second account
	result := p.RunOnce(context.Background())
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Errors)

	total, err := db.GetDailyTotal(2, today)
	require.NoError(t, err)
	require.NotNil(t, total)
}

func TestRunOnceNoAccounts(t *testing.T) {
	p, _ := setupPollerTest(t, nil)

	result := p.RunOnce(context.Background())
	assert.Zero(t, result.Succeeded)
	assert.Zero(t, result.Skipped)
	assert.Zero(t, result.Errors)
}
