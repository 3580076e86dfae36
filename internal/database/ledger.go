package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Credit adds params.Amount to the balance and returns the new version.
func (r *repo) Credit(ctx context.Context, params store.MovementParams) (int64, error) {
	return r.applyMovement(ctx, params, models.EntryCredit)
}

// Debit removes params.Amount from the balance and returns the new version.
// It never leaves the balance negative.
func (r *repo) Debit(ctx context.Context, params store.MovementParams) (int64, error) {
	return r.applyMovement(ctx, params, models.EntryDebit)
}

// applyMovement atomically updates a balance and records the audit entry. It must run
// on a transaction-bound repo.
func (r *repo) applyMovement(ctx context.Context, params store.MovementParams, entryType models.EntryType) (int64, error) {
	if params.UserId == "" {
		return 0, fmt.Errorf("%w: user id is required", store.ErrInvalidArgument)
	}
	if err := params.Currency.ValidateAmount(params.Amount); err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrInvalidArgument, err)
	}

	zap.L().Debug("Applying ledger movement",
		zap.String("user_id", params.UserId),
		zap.String("currency", string(params.Currency)),
		zap.String("type", string(entryType)),
		zap.String("amount", params.Amount.String()),
		zap.String("reference", params.Reference))

	// Check for a movement already applied under this reference
	if params.Reference != "" {
		var existingId string
		err := r.queryRow(ctx, queryFindEntryByReference, params.UserId, params.Currency, params.Reference).Scan(&existingId)
		if err == nil {
			zap.L().Warn("Duplicate ledger reference detected, skipping",
				zap.String("reference", params.Reference),
				zap.String("existing_entry_id", existingId))
			return 0, fmt.Errorf("%w: reference %s already applied", store.ErrDuplicateTransaction, params.Reference)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("failed to check for duplicate reference: %w", err)
		}
	}

	now := utcNow()
	current, err := r.lockBalance(ctx, params.UserId, params.Currency, now)
	if err != nil {
		return 0, err
	}

	if params.ExpectedVersion != nil && *params.ExpectedVersion != current.Version {
		return 0, fmt.Errorf("balance %s/%s at version %d, expected %d: %w",
			params.UserId, params.Currency, current.Version, *params.ExpectedVersion, store.ErrConcurrentModification)
	}

	delta := params.Amount
	if entryType == models.EntryDebit {
		if current.Amount.LessThan(params.Amount) {
			return 0, fmt.Errorf("%w: %s %s available, %s requested",
				store.ErrInsufficientFunds, current.Amount.String(), params.Currency, params.Amount.String())
		}
		delta = params.Amount.Neg()
	}
	newAmount := current.Amount.Add(delta)
	newVersion := current.Version + 1

	// Update balance (with optimistic locking)
	result, err := r.exec(ctx, queryUpdateBalance, newAmount.String(), now, params.UserId, params.Currency, current.Version)
	if err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return 0, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	entry := &models.LedgerEntry{
		Id:            uuid.New().String(),
		UserId:        params.UserId,
		Currency:      params.Currency,
		EntryType:     entryType,
		Amount:        delta,
		BalanceBefore: current.Amount,
		BalanceAfter:  newAmount,
		Version:       newVersion,
		Reference:     params.Reference,
		Counterparty:  params.Counterparty,
		CreatedAt:     now,
	}
	_, err = r.exec(ctx, queryInsertLedgerEntry,
		entry.Id, entry.UserId, entry.Currency, entry.EntryType, entry.Amount.String(),
		entry.BalanceBefore.String(), entry.BalanceAfter.String(), entry.Version,
		entry.Reference, entry.Counterparty, entry.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	if err := r.addJournalEntries(ctx, entry); err != nil {
		return 0, fmt.Errorf("failed to add journal entries: %w", err)
	}

	zap.L().Info("Ledger movement applied",
		zap.String("entry_id", entry.Id),
		zap.String("user_id", params.UserId),
		zap.String("currency", string(params.Currency)),
		zap.String("old_balance", current.Amount.String()),
		zap.String("new_balance", newAmount.String()),
		zap.Int64("version", newVersion))

	return newVersion, nil
}

// addJournalEntries writes the double-entry pair for a movement. A credit debits the
// user's asset account and credits the counterparty; a debit does the reverse.
func (r *repo) addJournalEntries(ctx context.Context, entry *models.LedgerEntry) error {
	counterparty := entry.Counterparty
	if counterparty == "" {
		counterparty = fmt.Sprintf("user_liabilities_%s", entry.Currency)
	}
	userAccount := fmt.Sprintf("%s_%s", entry.UserId, entry.Currency)
	amount := entry.Amount.Abs()

	type line struct {
		accountType string
		accountId   string
		debit       decimal.Decimal
		credit      decimal.Decimal
	}
	var lines []line
	if entry.EntryType == models.EntryCredit {
		lines = []line{
			{"user_asset", userAccount, amount, decimal.Zero},
			{"system_liability", counterparty, decimal.Zero, amount},
		}
	} else {
		lines = []line{
			{"user_asset", userAccount, decimal.Zero, amount},
			{"system_liability", counterparty, amount, decimal.Zero},
		}
	}

	for _, l := range lines {
		_, err := r.exec(ctx, queryInsertJournalEntry,
			uuid.New().String(), entry.Id, l.accountType, l.accountId, l.debit.String(), l.credit.String(), entry.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

// lockBalance creates the row when missing and reads it under a row lock.
func (r *repo) lockBalance(ctx context.Context, userId string, currency models.Currency, now time.Time) (*models.Balance, error) {
	if _, err := r.exec(ctx, queryEnsureBalance, userId, currency, now); err != nil {
		return nil, fmt.Errorf("failed to create balance row: %w", err)
	}
	balance, err := scanBalance(r.queryRow(ctx, queryGetBalance+r.d.forUpdate(), userId, currency))
	if err != nil {
		return nil, fmt.Errorf("failed to lock balance: %w", err)
	}
	return balance, nil
}

// LockBalances locks rows in (user, currency) order so concurrent multi-leg
// settlements never wait on each other in a cycle.
func (r *repo) LockBalances(ctx context.Context, keys []store.BalanceKey) error {
	sorted := SortBalanceKeys(keys)
	now := utcNow()
	for _, k := range sorted {
		if _, err := r.lockBalance(ctx, k.UserId, k.Currency, now); err != nil {
			return err
		}
	}
	return nil
}

// SortBalanceKeys returns a deduplicated copy of keys ordered by user then currency.
func SortBalanceKeys(keys []store.BalanceKey) []store.BalanceKey {
	seen := make(map[store.BalanceKey]struct{}, len(keys))
	out := make([]store.BalanceKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserId != out[j].UserId {
			return out[i].UserId < out[j].UserId
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}
