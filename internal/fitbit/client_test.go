package fitbit

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepsync/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(&config.Config{
		FitbitClientID:     "test-id",
		FitbitClientSecret: "test-secret",
	})
	client.SetBaseURL(server.URL)
	return client
}

func TestRefreshTokenSendsBasicAuth(t *testing.T) {
	var gotAuth, gotGrant, gotRefresh string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/oauth2/token", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseForm())
		gotGrant = r.PostForm.Get("grant_type")
		gotRefresh = r.PostForm.Get("refresh_token")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","expires_in":28800,"user_id":"FB1"}`))
	})

	resp, err := client.RefreshToken(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-access", resp.AccessToken)
	assert.Equal(t, "new-refresh", resp.RefreshToken)
	assert.Equal(t, 28800, resp.ExpiresIn)

	expected := "Basic " + base64.StdEncoding.EncodeToString([]byte("test-id:test-secret"))
	assert.Equal(t, expected, gotAuth)
	assert.Equal(t, "refresh_token", gotGrant)
	assert.Equal(t, "old-refresh", gotRefresh)
}

func TestRefreshTokenRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":[{"errorType":"invalid_grant"}]}`))
	})

	_, err := client.RefreshToken(context.Background(), "revoked")
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
}

func TestRefreshTokenMissingTokensInResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"expires_in":28800}`))
	})

	_, err := client.RefreshToken(context.Background(), "old-refresh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing tokens")
}

func TestGetStepsTimeSeries(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/1/user/-/activities/steps/date/2026-08-01/2026-08-02.json", r.URL.Path)
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		w.Write([]byte(`{"activities-steps":[
			{"dateTime":"2026-08-01","value":"8432"},
			{"dateTime":"2026-08-02","value":"10250"}
		]}`))
	})

	entries, err := client.GetStepsTimeSeries(context.Background(), "token-1", "2026-08-01", "2026-08-02")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2026-08-01", entries[0].DateTime)
	assert.Equal(t, "8432", entries[0].Value)
}

func TestGetStepsTimeSeriesMalformedEntry(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"activities-steps":[{"dateTime":"2026-08-01","value":"not-a-number"}]}`))
	})

	_, err := client.GetStepsTimeSeries(context.Background(), "token-1", "2026-08-01", "2026-08-01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed time series entry")
}

func TestGetStepsTimeSeriesRateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.GetStepsTimeSeries(context.Background(), "token-1", "2026-08-01", "2026-08-01")
	require.Error(t, err)
	assert.True(t, IsTooManyRequests(err))
}

func TestCreateSubscriptionAdopts409(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/1/user/-/activities/apiSubscriptions/sub-1.json", r.URL.Path)
		// Already exists upstream, empty body
		w.WriteHeader(http.StatusConflict)
	})

	sub, err := client.CreateSubscription(context.Background(), "token-1", "sub-1", CollectionActivities)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", sub.SubscriptionID)
	assert.Equal(t, CollectionActivities, sub.CollectionType)
}

func TestCreateSubscriptionEmptyBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Created, but no body returned
		w.WriteHeader(http.StatusCreated)
	})

	sub, err := client.CreateSubscription(context.Background(), "token-1", "sub-1", CollectionActivities)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", sub.SubscriptionID)
	assert.Equal(t, CollectionActivities, sub.CollectionType)
}

func TestCreateSubscriptionCreated(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"collectionType":"activities","ownerId":"FB1","subscriptionId":"sub-1"}`))
	})

	sub, err := client.CreateSubscription(context.Background(), "token-1", "sub-1", CollectionActivities)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", sub.SubscriptionID)
	assert.Equal(t, "FB1", sub.OwnerID)
}

func TestDeleteSubscriptionTolerates404(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})

	err := client.DeleteSubscription(context.Background(), "token-1", "sub-1", CollectionActivities)
	assert.NoError(t, err)
}

func TestDeleteSubscriptionServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := client.DeleteSubscription(context.Background(), "token-1", "sub-1", CollectionActivities)
	require.Error(t, err)
}

func TestListSubscriptions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/1/user/-/apiSubscriptions.json", r.URL.Path)
		w.Write([]byte(`{"apiSubscriptions":[{"collectionType":"activities","subscriptionId":"sub-1"}]}`))
	})

	subs, err := client.ListSubscriptions(context.Background(), "token-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "sub-1", subs[0].SubscriptionID)
}

func TestValidateNotification(t *testing.T) {
	valid := &Notification{
		CollectionType: CollectionActivities,
		Date:           "2026-08-01",
		OwnerID:        "FB1",
		SubscriptionID: "sub-1",
	}
	assert.NoError(t, ValidateNotification(valid))

	badDate := *valid
	badDate.Date = "08/01/2026"
	assert.Error(t, ValidateNotification(&badDate))

	badCollection := *valid
	badCollection.CollectionType = "heartrate"
	assert.Error(t, ValidateNotification(&badCollection))

	noOwner := *valid
	noOwner.OwnerID = ""
	assert.Error(t, ValidateNotification(&noOwner))
}
