package database

import (
	"fmt"
	"time"
)

// DailyTotal is the reconciled authoritative step count for a user and date
type DailyTotal struct {
	ID              int64
	UserID          int64
	Date            string // YYYY-MM-DD
	Steps           int
	SourceAccountID *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// UpsertDailyTotal writes the reconciled total for (user, date).
// Insert is attempted first; a unique-constraint race with a concurrent
// reconciler degrades to an update of the existing row. Last writer wins.
func (d *DB) UpsertDailyTotal(userID int64, date string, steps int, sourceAccountID *int64) error {
	now := time.Now().Unix()

	insert := `
		INSERT INTO daily_totals (user_id, date, steps, source_account_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := d.conn.Exec(insert, userID, date, steps, sourceAccountID, now, now)
	if err == nil {
		return nil
	}
	if !isUniqueConstraintErr(err) {
		return fmt.Errorf("failed to insert daily total: %w", err)
	}

	update := `
		UPDATE daily_totals
		SET steps = ?, source_account_id = ?, updated_at = ?
		WHERE user_id = ? AND date = ?
	`
	_, err = d.conn.Exec(update, steps, sourceAccountID, now, userID, date)
	if err != nil {
		return fmt.Errorf("failed to update daily total: %w", err)
	}
	return nil
}

// GetDailyTotal returns the reconciled total for (user, date), or nil if
// none has been computed yet
func (d *DB) GetDailyTotal(userID int64, date string) (*DailyTotal, error) {
	query := `
		SELECT id, user_id, date, steps, source_account_id, created_at, updated_at
		FROM daily_totals
		WHERE user_id = ? AND date = ?
	`

	var t DailyTotal
	var createdAt, updatedAt int64
	err := d.conn.QueryRow(query, userID, date).Scan(&t.ID, &t.UserID, &t.Date, &t.Steps, &t.SourceAccountID, &createdAt, &updatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily total: %w", err)
	}

	t.CreatedAt = time.Unix(createdAt, 0)
	t.UpdatedAt = time.Unix(updatedAt, 0)
	return &t, nil
}
