package database

import (
	"fmt"
	"time"
)

// Granularity tags for raw readings
const (
	GranularityDaily    = "daily"
	GranularityIntraday = "intraday"
)

// RawReading is one step-count reading from a provider account.
// Time is nil for daily aggregates and set for intraday samples.
type RawReading struct {
	ID          int64
	AccountID   int64
	Date        string // YYYY-MM-DD
	Time        *string
	Steps       int
	Granularity string
	SyncedAt    time.Time

	// Provider of the owning account, populated by joined queries
	Provider string
}

// UpsertRawReading writes a reading, replacing any existing row for the same
// (account, date, time) slot. The unique index treats NULL time as ''.
func (d *DB) UpsertRawReading(r *RawReading) error {
	insert := `
		INSERT INTO raw_readings (account_id, date, time, steps, granularity, synced_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := d.conn.Exec(insert, r.AccountID, r.Date, r.Time, r.Steps, r.Granularity, r.SyncedAt.Unix())
	if err == nil {
		return nil
	}
	if !isUniqueConstraintErr(err) {
		return fmt.Errorf("failed to insert raw reading: %w", err)
	}

	update := `
		UPDATE raw_readings
		SET steps = ?, granularity = ?, synced_at = ?
		WHERE account_id = ? AND date = ? AND IFNULL(time, '') = IFNULL(?, '')
	`
	_, err = d.conn.Exec(update, r.Steps, r.Granularity, r.SyncedAt.Unix(), r.AccountID, r.Date, r.Time)
	if err != nil {
		return fmt.Errorf("failed to update raw reading: %w", err)
	}
	return nil
}

// GetReadingsForUserDate returns all readings across the user's linked
// accounts for one date, with the owning account's provider attached.
// Ordered by time then id so conflict resolution is deterministic.
func (d *DB) GetReadingsForUserDate(userID int64, date string) ([]*RawReading, error) {
	query := `
		SELECT r.id, r.account_id, r.date, r.time, r.steps, r.granularity, r.synced_at, a.provider
		FROM raw_readings r
		JOIN linked_accounts a ON a.id = r.account_id
		WHERE a.user_id = ? AND r.date = ?
		ORDER BY IFNULL(r.time, '') ASC, r.id ASC
	`
	rows, err := d.conn.Query(query, userID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []*RawReading
	for rows.Next() {
		var r RawReading
		var syncedAt int64
		if err := rows.Scan(&r.ID, &r.AccountID, &r.Date, &r.Time, &r.Steps, &r.Granularity, &syncedAt, &r.Provider); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.SyncedAt = time.Unix(syncedAt, 0)
		readings = append(readings, &r)
	}
	return readings, rows.Err()
}

// GetDailyReadingDates returns the set of dates in [start, end] for which the
// account already has a daily-granularity reading
func (d *DB) GetDailyReadingDates(accountID int64, start, end string) (map[string]bool, error) {
	query := `
		SELECT date FROM raw_readings
		WHERE account_id = ? AND granularity = 'daily' AND date BETWEEN ? AND ?
	`
	rows, err := d.conn.Query(query, accountID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily reading dates: %w", err)
	}
	defer rows.Close()

	dates := make(map[string]bool)
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, fmt.Errorf("failed to scan date: %w", err)
		}
		dates[date] = true
	}
	return dates, rows.Err()
}
