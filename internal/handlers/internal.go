package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"stepsync/internal/backfill"
	"stepsync/internal/config"
	"stepsync/internal/database"
)

const backfillDateLayout = "2006-01-02"

// InternalHandler serves the key-guarded internal API used by trusted
// services, e.g. triggering a backfill when a user joins a competition
type InternalHandler struct {
	db         *database.DB
	backfiller *backfill.Orchestrator
	config     *config.Config
	logger     *slog.Logger
}

// NewInternalHandler creates an internal API handler
func NewInternalHandler(db *database.DB, backfiller *backfill.Orchestrator, cfg *config.Config) *InternalHandler {
	return &InternalHandler{
		db:         db,
		backfiller: backfiller,
		config:     cfg,
		logger:     slog.Default(),
	}
}

// authorized checks the X-Internal-Api-Key header in constant time
func (h *InternalHandler) authorized(r *http.Request) bool {
	key := r.Header.Get("X-Internal-Api-Key")
	if key == "" || h.config.InternalAPIKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(h.config.InternalAPIKey)) == 1
}

type backfillRequest struct {
	UserID    int64  `json:"user_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// HandleBackfill handles POST requests that trigger a historical backfill
// for a user. The fill runs in the background because a large range takes
// minutes; the response only acknowledges the request.
func (h *InternalHandler) HandleBackfill(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.logger.Warn("Unauthorized internal API request", "path", r.URL.Path)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req backfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	start, end, err := parseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserID <= 0 {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	h.logger.Info("Backfill requested",
		"user_id", req.UserID,
		"start", req.StartDate,
		"end", req.EndDate)

	// Detached from the request context: the fill must outlive the response
	go func() {
		if err := h.backfiller.Backfill(context.Background(), req.UserID, start, end); err != nil {
			h.logger.Error("Backfill failed", "user_id", req.UserID, "error", err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"status": "accepted"})
}

// HandleBackfillStatus handles GET requests asking whether a user has any
// missing daily readings in a date range
func (h *InternalHandler) HandleBackfillStatus(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.logger.Warn("Unauthorized internal API request", "path", r.URL.Path)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	userID, err := parseUserID(q.Get("user_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	start, end, err := parseDateRange(q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	needed, err := h.backfiller.NeedsBackfill(userID, start, end)
	if err != nil {
		h.logger.Error("Failed to check backfill status", "user_id", userID, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"needs_backfill": needed})
}

// HandleHealth reports liveness, including a database ping
func (h *InternalHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Health(); err != nil {
		h.logger.Error("Health check failed", "error", err)
		http.Error(w, "Unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("user_id must be a positive integer")
	}
	return id, nil
}

func parseDateRange(startStr, endStr string) (time.Time, time.Time, error) {
	start, err := time.Parse(backfillDateLayout, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date must be YYYY-MM-DD")
	}
	end, err := time.Parse(backfillDateLayout, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date must not be before start_date")
	}
	return start, end, nil
}
