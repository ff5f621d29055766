package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema sets up all tables used by the confirmation engine. Statements are
// idempotent and run on startup.
const schema = `
CREATE TABLE IF NOT EXISTS payment_links (
    id TEXT PRIMARY KEY,
    short_code TEXT NOT NULL UNIQUE,
    organization_id TEXT NOT NULL,
    amount NUMERIC(20, 8) NOT NULL,
    currency TEXT NOT NULL,
    status TEXT NOT NULL,
    expires_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS payment_events (
    id TEXT PRIMARY KEY,
    payment_link_id TEXT NOT NULL REFERENCES payment_links(id),
    event_type TEXT NOT NULL,
    provider TEXT NOT NULL DEFAULT '',
    external_reference TEXT NOT NULL DEFAULT '',
    amount NUMERIC(20, 8),
    currency TEXT NOT NULL DEFAULT '',
    correlation_id TEXT NOT NULL DEFAULT '',
    metadata JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_events_confirmed_ref
    ON payment_events (provider, external_reference)
    WHERE event_type = 'PAYMENT_CONFIRMED';

CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_events_confirmed_link
    ON payment_events (payment_link_id)
    WHERE event_type = 'PAYMENT_CONFIRMED';

CREATE INDEX IF NOT EXISTS idx_payment_events_link ON payment_events (payment_link_id, created_at);

CREATE TABLE IF NOT EXISTS ledger_accounts (
    id TEXT PRIMARY KEY,
    organization_id TEXT NOT NULL,
    code TEXT NOT NULL,
    name TEXT NOT NULL,
    account_type TEXT NOT NULL,
    UNIQUE (organization_id, code)
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id TEXT PRIMARY KEY,
    payment_link_id TEXT NOT NULL REFERENCES payment_links(id),
    account_id TEXT NOT NULL REFERENCES ledger_accounts(id),
    entry_type TEXT NOT NULL CHECK (entry_type IN ('DEBIT', 'CREDIT')),
    amount NUMERIC(20, 8) NOT NULL CHECK (amount >= 0),
    currency TEXT NOT NULL,
    idempotency_key TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_link ON ledger_entries (payment_link_id);

CREATE TABLE IF NOT EXISTS fx_snapshots (
    id TEXT PRIMARY KEY,
    payment_link_id TEXT NOT NULL REFERENCES payment_links(id),
    snapshot_type TEXT NOT NULL,
    asset TEXT NOT NULL,
    quote_currency TEXT NOT NULL,
    rate NUMERIC(30, 12) NOT NULL,
    source TEXT NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL,
    UNIQUE (payment_link_id, snapshot_type, asset, quote_currency)
);

CREATE TABLE IF NOT EXISTS sync_jobs (
    id TEXT PRIMARY KEY,
    payment_link_id TEXT NOT NULL UNIQUE REFERENCES payment_links(id),
    organization_id TEXT NOT NULL,
    status TEXT NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0,
    next_retry_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_error TEXT NOT NULL DEFAULT '',
    correlation_id TEXT NOT NULL DEFAULT '',
    claimed_until TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sync_jobs_due ON sync_jobs (status, next_retry_at);

CREATE TABLE IF NOT EXISTS payment_locks (
    payment_link_id TEXT PRIMARY KEY,
    holder TEXT NOT NULL,
    acquired_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);
`

// Migrate executes the schema setup.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
