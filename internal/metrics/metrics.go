package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Job results
	ResultCompleted = "completed"
	ResultRetry     = "retry"
	ResultFailed    = "failed"

	// Job statuses (queue depth)
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusFailed     = "failed"

	// HTTP endpoints
	EndpointWebhookVerify = "webhook_verify"
	EndpointWebhookNotify = "webhook_notify"
	EndpointBackfill      = "internal_backfill"
	EndpointBackfillCheck = "internal_backfill_status"
	EndpointHealth        = "health"

	// Fitbit API operations
	OpRefreshToken       = "refresh_token"
	OpGetTimeSeries      = "get_time_series"
	OpCreateSubscription = "create_subscription"
	OpDeleteSubscription = "delete_subscription"
	OpListSubscriptions  = "list_subscriptions"

	// Reconciliation modes
	ModeDaily    = "daily"
	ModeIntraday = "intraday"

	// Poller outcomes
	PollerSuccess = "success"
	PollerError   = "error"
	PollerSkipped = "skipped"

	// Backfill chunk outcomes
	ChunkFetched = "fetched"
	ChunkFailed  = "failed"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepsync_http_requests_total",
		Help: "Total number of HTTP requests by endpoint and status code",
	}, []string{"endpoint", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stepsync_http_request_duration_seconds",
		Help:    "HTTP request duration by endpoint and status code",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "status"})
)

// Webhook gateway metrics
var (
	WebhookNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepsync_webhook_notifications_total",
		Help: "Total webhook notification requests by result (enqueued, bad_signature, bad_schema, internal_error)",
	}, []string{"result"})

	WebhookJobsEnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stepsync_webhook_jobs_enqueued_total",
		Help: "Total jobs enqueued from validated webhook notifications",
	})
)

// Job queue metrics
var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepsync_jobs_processed_total",
		Help: "Total jobs processed by job type and result",
	}, []string{"job_type", "result"})

	JobRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepsync_job_retries_total",
		Help: "Total job retries by error category",
	}, []string{"category"})

	JobsReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stepsync_jobs_reclaimed_total",
		Help: "Total jobs reclaimed from a stale processing state",
	})

	JobProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stepsync_job_processing_duration_seconds",
		Help:    "Job processing duration by result",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stepsync_queue_depth",
		Help: "Number of jobs in the queue by status",
	}, []string{"status"})
)

// Fitbit API metrics
var (
	FitbitRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepsync_fitbit_requests_total",
		Help: "Total Fitbit API requests by operation and status code",
	}, []string{"operation", "status"})

	FitbitRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stepsync_fitbit_request_duration_seconds",
		Help:    "Fitbit API request duration by operation",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	TokenRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepsync_token_refreshes_total",
		Help: "Total token refresh attempts by result",
	}, []string{"result"})
)

// Reconciliation metrics
var (
	ReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepsync_reconciliations_total",
		Help: "Total reconciliation runs by mode (daily, intraday)",
	}, []string{"mode"})

	ReconciliationConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stepsync_reconciliation_conflicts_total",
		Help: "Total conflicts resolved between overlapping provider readings",
	})
)

// Poller metrics
var (
	PollerAccountsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepsync_poller_accounts_total",
		Help: "Total accounts handled by the scheduled poller by outcome",
	}, []string{"outcome"})

	PollerRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stepsync_poller_runs_total",
		Help: "Total scheduled poller runs",
	})
)

// Backfill metrics
var (
	BackfillChunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepsync_backfill_chunks_total",
		Help: "Total backfill chunks by outcome",
	}, []string{"outcome"})

	BackfillDatesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stepsync_backfill_dates_fetched_total",
		Help: "Total distinct dates fetched by backfill runs",
	})
)

// Worker state
var (
	WorkerActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stepsync_worker_active",
		Help: "Whether the job worker is running (1) or not (0)",
	})
)
