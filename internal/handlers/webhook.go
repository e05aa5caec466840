package handlers

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"stepsync/internal/config"
	"stepsync/internal/database"
	"stepsync/internal/fitbit"
	"stepsync/internal/metrics"
)

// maxNotificationBody bounds the request body we are willing to read
const maxNotificationBody = 1 << 20

// WebhookHandler handles Fitbit subscriber verification and notifications
type WebhookHandler struct {
	db     *database.DB
	config *config.Config
	logger *slog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(db *database.DB, cfg *config.Config) *WebhookHandler {
	return &WebhookHandler{
		db:     db,
		config: cfg,
		logger: slog.Default(),
	}
}

// HandleVerification handles GET requests for subscriber endpoint
// verification. Fitbit expects 204 for the configured code and 404 for
// anything else, including a missing code.
func (h *WebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("verify")
	if code == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if code != h.config.FitbitVerifyCode {
		h.logger.Warn("Webhook verification failed, incorrect code")
		w.WriteHeader(http.StatusNotFound)
		return
	}

	h.logger.Info("Webhook verification successful")
	w.WriteHeader(http.StatusNoContent)
}

// HandleNotification handles POST requests carrying notification batches.
// The signature is checked before the body is parsed; a batch with any
// schema-invalid record is rejected whole. Every valid record becomes one
// queued job. After signature verification Fitbit must never see an error
// status, so internal failures still answer 204.
func (h *WebhookHandler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBody))
	if err != nil {
		h.logger.Error("Failed to read notification body", "error", err)
		metrics.WebhookNotificationsTotal.WithLabelValues("internal_error").Inc()
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get("X-Fitbit-Signature")
	if !h.verifySignature(body, signature) {
		h.logger.Error("Webhook signature verification failed, possible spoofing attempt")
		metrics.WebhookNotificationsTotal.WithLabelValues("bad_signature").Inc()
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var notifications []fitbit.Notification
	if err := json.Unmarshal(body, &notifications); err != nil {
		h.logger.Error("Invalid JSON in notification body", "error", err)
		metrics.WebhookNotificationsTotal.WithLabelValues("bad_schema").Inc()
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// All-or-nothing: one bad record rejects the whole batch before any
	// job is enqueued
	for i := range notifications {
		if err := fitbit.ValidateNotification(&notifications[i]); err != nil {
			h.logger.Error("Notification failed schema validation",
				"index", i,
				"error", err)
			metrics.WebhookNotificationsTotal.WithLabelValues("bad_schema").Inc()
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}

	h.logger.Info("Received validated notifications", "count", len(notifications))

	for i := range notifications {
		payload, err := json.Marshal(&notifications[i])
		if err != nil {
			h.logger.Error("Failed to marshal notification", "error", err)
			continue
		}

		if _, err := h.db.EnqueueJob(database.JobTypeNotification, payload); err != nil {
			// Post-verification internal failure: log it, keep the 204.
			// The hourly poller will pick up anything dropped here.
			h.logger.Error("Failed to enqueue notification job", "error", err)
			metrics.WebhookNotificationsTotal.WithLabelValues("internal_error").Inc()
			continue
		}

		metrics.WebhookJobsEnqueuedTotal.Inc()
		h.logger.Info("Queued notification",
			"collection_type", notifications[i].CollectionType,
			"date", notifications[i].Date,
			"owner_id", notifications[i].OwnerID,
			"subscription_id", notifications[i].SubscriptionID)
	}

	metrics.WebhookNotificationsTotal.WithLabelValues("enqueued").Inc()
	w.WriteHeader(http.StatusNoContent)
}

// verifySignature checks the X-Fitbit-Signature header:
// BASE64(HMAC-SHA1(body, clientSecret + "&")), compared in constant time.
func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		h.logger.Warn("Missing X-Fitbit-Signature header")
		return false
	}

	if h.config.FitbitClientSecret == "" {
		h.logger.Error("FITBIT_CLIENT_SECRET not configured")
		return false
	}

	mac := hmac.New(sha1.New, []byte(h.config.FitbitClientSecret+"&"))
	mac.Write(body)
	computed := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(computed))
}
