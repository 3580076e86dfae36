/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

const (
	// Balance queries
	queryGetBalance = `
		SELECT user_id, currency, amount, version, updated_at
		FROM balances
		WHERE user_id = ? AND currency = ?`

	queryGetUserBalances = `
		SELECT user_id, currency, amount, version, updated_at
		FROM balances
		WHERE user_id = ?
		ORDER BY currency`

	queryListAllBalances = `
		SELECT user_id, currency, amount, version, updated_at
		FROM balances
		ORDER BY user_id, currency`

	queryEnsureBalance = `
		INSERT INTO balances (user_id, currency, amount, version, updated_at)
		VALUES (?, ?, '0', 0, ?)
		ON CONFLICT (user_id, currency) DO NOTHING`

	queryUpdateBalance = `
		UPDATE balances
		SET amount = ?, version = version + 1, updated_at = ?
		WHERE user_id = ? AND currency = ? AND version = ?`

	// Ledger entry queries
	queryFindEntryByReference = `
		SELECT id FROM ledger_entries
		WHERE user_id = ? AND currency = ? AND reference = ?`

	queryInsertLedgerEntry = `
		INSERT INTO ledger_entries (id, user_id, currency, entry_type, amount, balance_before,
			balance_after, version, reference, counterparty, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetLedgerEntries = `
		SELECT id, user_id, currency, entry_type, amount, balance_before, balance_after,
			version, reference, counterparty, created_at
		FROM ledger_entries
		WHERE user_id = ? AND currency = ?
		ORDER BY version DESC
		LIMIT ? OFFSET ?`

	queryGetEntryAmounts = `
		SELECT amount FROM ledger_entries
		WHERE user_id = ? AND currency = ?`

	queryInsertJournalEntry = `
		INSERT INTO journal_entries (id, ledger_entry_id, account_type, account_id, debit_amount, credit_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	// Trade queries
	tradeColumns = `id, user_id, type, crypto, crypto_amount, fiat_amount, fiat_currency, country,
		payment_method, bank_details, payment_proof, assigned_admin_id, status, decision_reason,
		settled_by, provider_tx_id, created_at, updated_at, settled_at`

	queryInsertTrade = `
		INSERT INTO trades (` + tradeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetTrade = `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE id = ?`

	queryUpdateTrade = `
		UPDATE trades
		SET payment_proof = ?, assigned_admin_id = ?, status = ?, decision_reason = ?,
			settled_by = ?, provider_tx_id = ?, updated_at = ?, settled_at = ?
		WHERE id = ? AND status = ?`

	queryListTrades = `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE (? = '' OR user_id = ?)
		  AND (? = '' OR assigned_admin_id = ?)
		  AND (? = '' OR status = ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	queryListUnassignedTrades = `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE status IN ('pending', 'awaiting_verification', 'disputed') AND assigned_admin_id = ''
		ORDER BY created_at
		LIMIT ?`

	// Chat queries
	queryLastMessage = `
		SELECT seq, created_at
		FROM chat_messages
		WHERE trade_id = ?
		ORDER BY seq DESC
		LIMIT 1`

	queryInsertMessage = `
		INSERT INTO chat_messages (id, trade_id, seq, sender_id, sender_type, message, message_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	queryListMessages = `
		SELECT id, trade_id, seq, sender_id, sender_type, message, message_type, created_at
		FROM chat_messages
		WHERE trade_id = ? AND seq > ?
		ORDER BY seq
		LIMIT ?`

	// Dispute queries
	disputeColumns = `id, trade_id, user_id, reason, evidence, status, resolution, resolved_by, created_at, resolved_at`

	queryInsertDispute = `
		INSERT INTO disputes (` + disputeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetOpenDispute = `
		SELECT ` + disputeColumns + `
		FROM disputes
		WHERE trade_id = ? AND status = 'open'`

	queryGetLatestDispute = `
		SELECT ` + disputeColumns + `
		FROM disputes
		WHERE trade_id = ?
		ORDER BY created_at DESC
		LIMIT 1`

	queryCountDisputesSince = `
		SELECT COUNT(*) FROM disputes
		WHERE user_id = ? AND created_at >= ?`

	queryResolveDispute = `
		UPDATE disputes
		SET status = ?, resolution = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND status = 'open'`

	// Admin queries
	adminColumns = `id, name, region, rating, response_time_seconds, current_load, is_online, last_seen_at`

	queryUpsertAdmin = `
		INSERT INTO admins (` + adminColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			region = excluded.region,
			rating = excluded.rating,
			response_time_seconds = excluded.response_time_seconds`

	queryGetAdmin = `
		SELECT ` + adminColumns + `
		FROM admins
		WHERE id = ?`

	queryListAdmins = `
		SELECT ` + adminColumns + `
		FROM admins
		WHERE (? = FALSE OR is_online = TRUE)
		ORDER BY id`

	queryAdjustAdminLoad = `
		UPDATE admins
		SET current_load = CASE WHEN current_load + ? < 0 THEN 0 ELSE current_load + ? END
		WHERE id = ?`

	queryHeartbeat = `
		UPDATE admins
		SET is_online = ?, last_seen_at = ?
		WHERE id = ?`

	queryMarkStaleAdmins = `
		UPDATE admins
		SET is_online = FALSE
		WHERE is_online = TRUE AND (last_seen_at IS NULL OR last_seen_at < ?)`

	// Funds queries
	depositColumns = `id, user_id, currency, amount, phone, provider, provider_tx_id, status, created_at, updated_at`

	queryInsertDeposit = `
		INSERT INTO deposits (` + depositColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetDepositByProviderTx = `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE provider_tx_id = ?`

	queryUpdateDepositStatus = `
		UPDATE deposits
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`

	withdrawalColumns = `id, user_id, currency, amount, destination, provider, provider_tx_id, status, created_at`

	queryInsertWithdrawal = `
		INSERT INTO withdrawals (` + withdrawalColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryListWithdrawals = `
		SELECT ` + withdrawalColumns + `
		FROM withdrawals
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`

	queryConfirmWithdrawal = `
		UPDATE withdrawals
		SET provider_tx_id = ?, status = ?
		WHERE id = ? AND status = ?`

	payoutColumns = `reference, provider, provider_tx_id, status, created_at, updated_at`

	queryGetPayout = `
		SELECT ` + payoutColumns + `
		FROM payouts
		WHERE reference = ?`

	querySavePayout = `
		INSERT INTO payouts (` + payoutColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (reference) DO UPDATE
		SET provider = excluded.provider, provider_tx_id = excluded.provider_tx_id,
			status = excluded.status, updated_at = excluded.updated_at`
)
