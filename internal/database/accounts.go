package database

import (
	"fmt"
	"time"
)

// LinkedAccount represents a user's link to an external provider account
type LinkedAccount struct {
	ID             int64
	UserID         int64
	Provider       string
	ExternalUserID string
	AccessToken    *string
	RefreshToken   *string
	TokenExpiresAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const accountColumns = `id, user_id, provider, external_user_id, access_token, refresh_token, token_expires_at, created_at, updated_at`

// CreateUser inserts a user row if it does not exist
func (d *DB) CreateUser(userID int64, preferredProvider *string) error {
	query := `INSERT INTO users (id, preferred_provider, created_at) VALUES (?, ?, ?)
	          ON CONFLICT(id) DO NOTHING`
	if _, err := d.conn.Exec(query, userID, preferredProvider, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// SetPreferredProvider updates a user's preferred steps provider
func (d *DB) SetPreferredProvider(userID int64, provider *string) error {
	if _, err := d.conn.Exec(`UPDATE users SET preferred_provider = ? WHERE id = ?`, provider, userID); err != nil {
		return fmt.Errorf("failed to set preferred provider: %w", err)
	}
	return nil
}

// GetPreferredProvider returns the user's preferred provider, or "" if unset
func (d *DB) GetPreferredProvider(userID int64) (string, error) {
	var preferred *string
	err := d.conn.QueryRow(`SELECT preferred_provider FROM users WHERE id = ?`, userID).Scan(&preferred)
	if isNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get preferred provider: %w", err)
	}
	if preferred == nil {
		return "", nil
	}
	return *preferred, nil
}

// UpsertLinkedAccount creates or updates the (user, provider) account link
// and returns its id
func (d *DB) UpsertLinkedAccount(a *LinkedAccount) (int64, error) {
	now := time.Now().Unix()
	var expiresAt *int64
	if a.TokenExpiresAt != nil {
		v := a.TokenExpiresAt.Unix()
		expiresAt = &v
	}

	query := `
		INSERT INTO linked_accounts (user_id, provider, external_user_id, access_token, refresh_token, token_expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			external_user_id = excluded.external_user_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			updated_at = excluded.updated_at
		RETURNING id
	`

	var id int64
	err := d.conn.QueryRow(query, a.UserID, a.Provider, a.ExternalUserID, a.AccessToken, a.RefreshToken, expiresAt, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert linked account: %w", err)
	}
	return id, nil
}

// GetAccountByExternalUserID finds the account linked to a provider-side
// user id. Returns nil if no such link exists.
func (d *DB) GetAccountByExternalUserID(provider, externalUserID string) (*LinkedAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM linked_accounts WHERE provider = ? AND external_user_id = ?`, accountColumns)
	account, err := d.scanAccount(d.conn.QueryRow(query, provider, externalUserID))
	if err != nil {
		return nil, fmt.Errorf("failed to get account by external user id: %w", err)
	}
	return account, nil
}

// GetAccountByUserID finds a user's account for a provider. Returns nil if
// the user has no link for that provider.
func (d *DB) GetAccountByUserID(userID int64, provider string) (*LinkedAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM linked_accounts WHERE user_id = ? AND provider = ?`, accountColumns)
	account, err := d.scanAccount(d.conn.QueryRow(query, userID, provider))
	if err != nil {
		return nil, fmt.Errorf("failed to get account by user id: %w", err)
	}
	return account, nil
}

// GetAccountByID loads a linked account by primary key. Returns nil if absent.
func (d *DB) GetAccountByID(id int64) (*LinkedAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM linked_accounts WHERE id = ?`, accountColumns)
	account, err := d.scanAccount(d.conn.QueryRow(query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get account by id: %w", err)
	}
	return account, nil
}

// ListAccounts returns all linked accounts for a provider, ordered by id
func (d *DB) ListAccounts(provider string) ([]*LinkedAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM linked_accounts WHERE provider = ? ORDER BY id ASC`, accountColumns)
	rows, err := d.conn.Query(query, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*LinkedAccount
	for rows.Next() {
		account, err := d.scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// UpdateAccountTokens persists a rotated token set after a refresh exchange
func (d *DB) UpdateAccountTokens(accountID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	query := `
		UPDATE linked_accounts
		SET access_token = ?, refresh_token = ?, token_expires_at = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := d.conn.Exec(query, accessToken, refreshToken, expiresAt.Unix(), time.Now().Unix(), accountID)
	if err != nil {
		return fmt.Errorf("failed to update account tokens: %w", err)
	}
	return nil
}

// ClearAccountTokens nulls all tokens for an account. Historical readings
// are kept; the account can relink later.
func (d *DB) ClearAccountTokens(accountID int64) error {
	query := `
		UPDATE linked_accounts
		SET access_token = NULL, refresh_token = NULL, token_expires_at = NULL, updated_at = ?
		WHERE id = ?
	`
	_, err := d.conn.Exec(query, time.Now().Unix(), accountID)
	if err != nil {
		return fmt.Errorf("failed to clear account tokens: %w", err)
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func (d *DB) scanAccount(row rowScanner) (*LinkedAccount, error) {
	var a LinkedAccount
	var expiresAt *int64
	var createdAt, updatedAt int64

	err := row.Scan(&a.ID, &a.UserID, &a.Provider, &a.ExternalUserID, &a.AccessToken, &a.RefreshToken, &expiresAt, &createdAt, &updatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if expiresAt != nil {
		t := time.Unix(*expiresAt, 0)
		a.TokenExpiresAt = &t
	}
	a.CreatedAt = time.Unix(createdAt, 0)
	a.UpdatedAt = time.Unix(updatedAt, 0)
	return &a, nil
}
