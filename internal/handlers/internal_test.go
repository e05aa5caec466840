package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepsync/internal/backfill"
	"stepsync/internal/config"
	"stepsync/internal/database"
	"stepsync/internal/fitbit"
	"stepsync/internal/reconcile"
	"stepsync/internal/tokens"
)

const testInternalKey = "test-internal-key"

func setupInternalTest(t *testing.T) (*InternalHandler, *database.DB) {
	t.Helper()
	db, err := database.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		FitbitClientID:     "cid",
		FitbitClientSecret: "secret",
		InternalAPIKey:     testInternalKey,
	}
	client := fitbit.NewClient(cfg)
	tokenCache := tokens.NewCache(db, client)
	engine := reconcile.NewEngine(db)
	backfiller := backfill.NewOrchestrator(db, client, tokenCache, engine, cfg)

	return NewInternalHandler(db, backfiller, cfg), db
}

func TestInternalAPIRequiresKey(t *testing.T) {
	h, _ := setupInternalTest(t)

	req := httptest.NewRequest(http.MethodGet, "/internal/backfill-status?user_id=1&start_date=2026-08-01&end_date=2026-08-05", nil)
	rec := httptest.NewRecorder()
	h.HandleBackfillStatus(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("X-Internal-Api-Key", "wrong-key")
	rec = httptest.NewRecorder()
	h.HandleBackfillStatus(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBackfillStatusNoLinkedAccount(t *testing.T) {
	h, _ := setupInternalTest(t)

	req := httptest.NewRequest(http.MethodGet, "/internal/backfill-status?user_id=1&start_date=2026-08-01&end_date=2026-08-05", nil)
	req.Header.Set("X-Internal-Api-Key", testInternalKey)
	rec := httptest.NewRecorder()
	h.HandleBackfillStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp["needs_backfill"])
}

func TestBackfillStatusReportsGap(t *testing.T) {
	h, db := setupInternalTest(t)

	require.NoError(t, db.CreateUser(1, nil))
	accountID, err := db.UpsertLinkedAccount(&database.LinkedAccount{
		UserID: 1, Provider: "fitbit", ExternalUserID: "FB1",
	})
	require.NoError(t, err)

	// Only one of the requested days is covered
	require.NoError(t, db.UpsertRawReading(&database.RawReading{
		AccountID:   accountID,
		Date:        "2026-08-01",
		Steps:       100,
		Granularity: database.GranularityDaily,
		SyncedAt:    time.Now(),
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal/backfill-status?user_id=1&start_date=2026-08-01&end_date=2026-08-03", nil)
	req.Header.Set("X-Internal-Api-Key", testInternalKey)
	rec := httptest.NewRecorder()
	h.HandleBackfillStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp["needs_backfill"])
}

func TestBackfillStatusRejectsBadParams(t *testing.T) {
	h, _ := setupInternalTest(t)

	for _, query := range []string{
		"user_id=abc&start_date=2026-08-01&end_date=2026-08-05",
		"user_id=1&start_date=bad&end_date=2026-08-05",
		"user_id=1&start_date=2026-08-05&end_date=2026-08-01",
	} {
		req := httptest.NewRequest(http.MethodGet, "/internal/backfill-status?"+query, nil)
		req.Header.Set("X-Internal-Api-Key", testInternalKey)
		rec := httptest.NewRecorder()
		h.HandleBackfillStatus(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestBackfillRejectsBadBody(t *testing.T) {
	h, _ := setupInternalTest(t)

	req := httptest.NewRequest(http.MethodPost, "/internal/backfill", strings.NewReader(`{bad`))
	req.Header.Set("X-Internal-Api-Key", testInternalKey)
	rec := httptest.NewRecorder()
	h.HandleBackfill(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/internal/backfill", strings.NewReader(`{"user_id":0,"start_date":"2026-08-01","end_date":"2026-08-05"}`))
	req.Header.Set("X-Internal-Api-Key", testInternalKey)
	rec = httptest.NewRecorder()
	h.HandleBackfill(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBackfillAccepted(t *testing.T) {
	h, _ := setupInternalTest(t)

	// No linked account: the background fill is a no-op, the request is
	// still acknowledged
	req := httptest.NewRequest(http.MethodPost, "/internal/backfill", strings.NewReader(`{"user_id":1,"start_date":"2026-08-01","end_date":"2026-08-05"}`))
	req.Header.Set("X-Internal-Api-Key", testInternalKey)
	rec := httptest.NewRecorder()
	h.HandleBackfill(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := setupInternalTest(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
