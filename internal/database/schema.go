package database

// Schema contains all SQL statements for creating tables and indexes
const Schema = `
-- Users table: minimal projection of externally managed users.
-- Only the fields this service needs (conflict resolution preference).
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY,
    preferred_provider TEXT,
    created_at INTEGER NOT NULL
);

-- Linked accounts table: one row per (user, provider) link.
-- Tokens are nulled (not deleted) on revocation so historical readings survive.
CREATE TABLE IF NOT EXISTS linked_accounts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    provider TEXT NOT NULL,
    external_user_id TEXT NOT NULL,

    -- OAuth tokens (nullable after revocation)
    access_token TEXT,
    refresh_token TEXT,
    token_expires_at INTEGER,

    -- Metadata
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
    UNIQUE (user_id, provider)
);

-- Raw readings table: per-account step readings at daily or intraday
-- granularity. time IS NULL means a daily aggregate.
CREATE TABLE IF NOT EXISTS raw_readings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id INTEGER NOT NULL,
    date TEXT NOT NULL,          -- YYYY-MM-DD
    time TEXT,                   -- HH:MM:SS, NULL for daily aggregates
    steps INTEGER NOT NULL,
    granularity TEXT NOT NULL CHECK (granularity IN ('daily', 'intraday')),
    synced_at INTEGER NOT NULL,

    FOREIGN KEY (account_id) REFERENCES linked_accounts(id) ON DELETE CASCADE
);

-- Daily totals table: the authoritative per-user daily value.
-- Always recomputable from raw_readings; upserted by the reconciler only.
CREATE TABLE IF NOT EXISTS daily_totals (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    date TEXT NOT NULL,          -- YYYY-MM-DD
    steps INTEGER NOT NULL,
    source_account_id INTEGER,   -- account that won conflict resolution

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
    UNIQUE (user_id, date)
);

-- Subscriptions table: provider webhook subscriptions per linked account.
-- Deactivated (not deleted) when the provider delete endpoint is unreachable.
CREATE TABLE IF NOT EXISTS subscriptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id INTEGER NOT NULL,
    subscription_id TEXT NOT NULL UNIQUE,
    collection_type TEXT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT 1,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    FOREIGN KEY (account_id) REFERENCES linked_accounts(id) ON DELETE CASCADE
);

-- Jobs table: durable queue for webhook notification processing.
-- Retry state lives in the row; eligibility is evaluated at claim time.
CREATE TABLE IF NOT EXISTS jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_type TEXT NOT NULL,
    payload TEXT NOT NULL,       -- JSON
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
    retries INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    processed_at INTEGER,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- At most one reading per (account, date, time); NULL time sorts as ''
CREATE UNIQUE INDEX IF NOT EXISTS idx_raw_readings_unique
    ON raw_readings(account_id, date, IFNULL(time, ''));

CREATE INDEX IF NOT EXISTS idx_raw_readings_date ON raw_readings(date);
CREATE INDEX IF NOT EXISTS idx_raw_readings_account_gran ON raw_readings(account_id, granularity, date);

CREATE INDEX IF NOT EXISTS idx_linked_accounts_external ON linked_accounts(provider, external_user_id);

CREATE INDEX IF NOT EXISTS idx_subscriptions_account ON subscriptions(account_id, active);

CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);
`
