package database

import (
	"encoding/json"
	"fmt"
	"time"
)

// Job statuses
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// JobTypeNotification is the only job type enqueued by the webhook gateway
const JobTypeNotification = "fitbit_notification"

// MaxJobRetries is the retry ceiling for retryable failures
const MaxJobRetries = 3

// StaleProcessingTimeout is how long a job may sit in processing before it
// is considered abandoned by a crashed worker and reclaimed
const StaleProcessingTimeout = 15 * time.Minute

// backoffTiers are the retry delays in order; the last tier saturates
var backoffTiers = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// Backoff returns the delay a job must wait after its nth retryable failure
// before it is eligible for reselection. Zero retries means immediately
// eligible.
func Backoff(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	if retryCount > len(backoffTiers) {
		retryCount = len(backoffTiers)
	}
	return backoffTiers[retryCount-1]
}

// Eligible reports whether a pending job with the given retry count and last
// update time may be selected at now
func Eligible(retryCount int, lastUpdated, now time.Time) bool {
	return !lastUpdated.Add(Backoff(retryCount)).After(now)
}

// Job is one durable queue entry
type Job struct {
	ID          int64
	JobType     string
	Payload     json.RawMessage
	Status      string
	Retries     int
	LastError   *string
	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EnqueueJob adds a pending job to the queue
func (d *DB) EnqueueJob(jobType string, payload json.RawMessage) (int64, error) {
	now := time.Now().Unix()
	query := `INSERT INTO jobs (job_type, payload, status, created_at, updated_at) VALUES (?, ?, 'pending', ?, ?)`

	result, err := d.conn.Exec(query, jobType, string(payload), now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get job id: %w", err)
	}
	return id, nil
}

// ClaimNextJob atomically selects the oldest eligible pending job and marks
// it processing. Eligibility applies the backoff tiers against the job's
// last update time. Returns nil if nothing is ready.
//
// The processing transition is written before the caller does any external
// work, so a crash leaves the job visibly stuck until it is reclaimed.
func (d *DB) ClaimNextJob() (*Job, error) {
	now := time.Now()

	query := `
		UPDATE jobs
		SET status = 'processing', updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending'
			  AND (
			    retries = 0
			    OR (retries = 1 AND updated_at <= ?)
			    OR (retries = 2 AND updated_at <= ?)
			    OR (retries >= 3 AND updated_at <= ?)
			  )
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		)
		RETURNING id, job_type, payload, retries, last_error, created_at
	`

	var job Job
	var payload string
	var createdAt int64

	err := d.conn.QueryRow(query,
		now.Unix(),
		now.Add(-Backoff(1)).Unix(),
		now.Add(-Backoff(2)).Unix(),
		now.Add(-Backoff(3)).Unix(),
	).Scan(&job.ID, &job.JobType, &payload, &job.Retries, &job.LastError, &createdAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job.Payload = json.RawMessage(payload)
	job.Status = JobStatusProcessing
	job.CreatedAt = time.Unix(createdAt, 0)
	job.UpdatedAt = now
	return &job, nil
}

// CompleteJob marks a job completed
func (d *DB) CompleteJob(id int64) error {
	now := time.Now().Unix()
	query := `UPDATE jobs SET status = 'completed', last_error = NULL, processed_at = ?, updated_at = ? WHERE id = ?`
	if _, err := d.conn.Exec(query, now, now, id); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// FailJob marks a job permanently failed. retries records how many attempts
// were consumed; terminal failures pass the current count unchanged.
func (d *DB) FailJob(id int64, retries int, errMsg string) error {
	now := time.Now().Unix()
	query := `UPDATE jobs SET status = 'failed', retries = ?, last_error = ?, processed_at = ?, updated_at = ? WHERE id = ?`
	if _, err := d.conn.Exec(query, retries, errMsg, now, now, id); err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return nil
}

// ReleaseJob returns a job to pending with an incremented retry count.
// The updated_at write is what starts the backoff clock.
func (d *DB) ReleaseJob(id int64, retries int, errMsg string) error {
	query := `UPDATE jobs SET status = 'pending', retries = ?, last_error = ?, updated_at = ? WHERE id = ?`
	if _, err := d.conn.Exec(query, retries, errMsg, time.Now().Unix(), id); err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}
	return nil
}

// ReclaimStuckJobs moves jobs left in processing longer than
// StaleProcessingTimeout back to pending. Retries are not incremented; the
// job gets its attempt again. Returns how many jobs were reclaimed.
func (d *DB) ReclaimStuckJobs() (int64, error) {
	cutoff := time.Now().Add(-StaleProcessingTimeout).Unix()
	query := `UPDATE jobs SET status = 'pending', updated_at = ? WHERE status = 'processing' AND updated_at < ?`

	result, err := d.conn.Exec(query, time.Now().Unix(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stuck jobs: %w", err)
	}
	return result.RowsAffected()
}

// GetJob loads one job by id. Returns nil if absent.
func (d *DB) GetJob(id int64) (*Job, error) {
	query := `SELECT id, job_type, payload, status, retries, last_error, processed_at, created_at, updated_at FROM jobs WHERE id = ?`

	var job Job
	var payload string
	var processedAt *int64
	var createdAt, updatedAt int64

	err := d.conn.QueryRow(query, id).Scan(&job.ID, &job.JobType, &payload, &job.Status, &job.Retries, &job.LastError, &processedAt, &createdAt, &updatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.Payload = json.RawMessage(payload)
	if processedAt != nil {
		t := time.Unix(*processedAt, 0)
		job.ProcessedAt = &t
	}
	job.CreatedAt = time.Unix(createdAt, 0)
	job.UpdatedAt = time.Unix(updatedAt, 0)
	return &job, nil
}

// CountJobsByStatus returns the number of jobs with the given status
func (d *DB) CountJobsByStatus(status string) (int, error) {
	var count int
	err := d.conn.QueryRow(`SELECT COUNT(*) FROM jobs WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

// setJobUpdatedAt rewinds a job's updated_at; test helper for backoff checks
func (d *DB) setJobUpdatedAt(id int64, t time.Time) error {
	_, err := d.conn.Exec(`UPDATE jobs SET updated_at = ? WHERE id = ?`, t.Unix(), id)
	return err
}
