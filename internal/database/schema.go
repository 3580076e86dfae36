package database

// schemaStatements is portable between SQLite and Postgres. Amounts are exact decimal
// text; timestamp columns are declared TIMESTAMP so both drivers scan them as time.Time.
var schemaStatements = []string{
	// Balances (current state, one row per user and currency)
	`CREATE TABLE IF NOT EXISTS balances (
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount TEXT NOT NULL DEFAULT '0',
		version BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, currency)
	)`,

	// Ledger entries (audit trail, one row per movement)
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		version BIGINT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		counterparty TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_currency ON ledger_entries(user_id, currency, created_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_reference ON ledger_entries(user_id, currency, reference) WHERE reference <> ''`,

	// Journal entries for double-entry bookkeeping
	`CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		ledger_entry_id TEXT NOT NULL,
		account_type TEXT NOT NULL,
		account_id TEXT NOT NULL,
		debit_amount TEXT NOT NULL DEFAULT '0',
		credit_amount TEXT NOT NULL DEFAULT '0',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_journal_ledger_entry ON journal_entries(ledger_entry_id)`,
	`CREATE INDEX IF NOT EXISTS idx_journal_account ON journal_entries(account_type, account_id)`,

	`CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		crypto TEXT NOT NULL,
		crypto_amount TEXT NOT NULL,
		fiat_amount TEXT NOT NULL,
		fiat_currency TEXT NOT NULL,
		country TEXT NOT NULL,
		payment_method TEXT NOT NULL DEFAULT '',
		bank_details TEXT NOT NULL DEFAULT '',
		payment_proof TEXT NOT NULL DEFAULT '',
		assigned_admin_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		decision_reason TEXT NOT NULL DEFAULT '',
		settled_by TEXT NOT NULL DEFAULT '',
		provider_tx_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		settled_at TIMESTAMP NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_status_admin ON trades(status, assigned_admin_id)`,

	`CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		trade_id TEXT NOT NULL REFERENCES trades(id),
		seq BIGINT NOT NULL,
		sender_id TEXT NOT NULL,
		sender_type TEXT NOT NULL,
		message TEXT NOT NULL,
		message_type TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (trade_id, seq)
	)`,

	`CREATE TABLE IF NOT EXISTS disputes (
		id TEXT PRIMARY KEY,
		trade_id TEXT NOT NULL REFERENCES trades(id),
		user_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		evidence TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		resolution TEXT NOT NULL DEFAULT '',
		resolved_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_disputes_open_trade ON disputes(trade_id) WHERE status = 'open'`,
	`CREATE INDEX IF NOT EXISTS idx_disputes_user_created ON disputes(user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS admins (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		region TEXT NOT NULL,
		rating DOUBLE PRECISION NOT NULL DEFAULT 0,
		response_time_seconds BIGINT NOT NULL DEFAULT 0,
		current_load INTEGER NOT NULL DEFAULT 0,
		is_online BOOLEAN NOT NULL DEFAULT FALSE,
		last_seen_at TIMESTAMP NULL
	)`,

	`CREATE TABLE IF NOT EXISTS deposits (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount TEXT NOT NULL,
		phone TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_tx_id TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS withdrawals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount TEXT NOT NULL,
		destination TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_tx_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawals(user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS payouts (
		reference TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_tx_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
}
