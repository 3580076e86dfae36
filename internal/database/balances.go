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

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"trade-settlement-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBalance(row rowScanner) (*models.Balance, error) {
	var b models.Balance
	var amountStr string
	if err := row.Scan(&b.UserId, &b.Currency, &amountStr, &b.Version, &b.UpdatedAt); err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance '%s': %w", amountStr, err)
	}
	b.Amount = amount
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

// GetBalance returns current balance for user/currency (O(1) lookup)
func (r *repo) GetBalance(ctx context.Context, userId string, currency models.Currency) (decimal.Decimal, error) {
	b, err := r.GetBalanceEntry(ctx, userId, currency)
	if err != nil {
		return decimal.Zero, err
	}
	return b.Amount, nil
}

// GetBalanceEntry returns the balance row, or a zero balance at version 0 when absent
func (r *repo) GetBalanceEntry(ctx context.Context, userId string, currency models.Currency) (*models.Balance, error) {
	zap.L().Debug("Getting balance", zap.String("user_id", userId), zap.String("currency", string(currency)))

	b, err := scanBalance(r.queryRow(ctx, queryGetBalance, userId, currency))
	if errors.Is(err, sql.ErrNoRows) {
		// No balance record means zero balance
		return &models.Balance{UserId: userId, Currency: currency, Amount: decimal.Zero}, nil
	}
	if err != nil {
		zap.L().Error("Failed to get balance", zap.String("user_id", userId), zap.String("currency", string(currency)), zap.Error(err))
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return b, nil
}

// GetBalances returns every balance row for a user
func (r *repo) GetBalances(ctx context.Context, userId string) ([]models.Balance, error) {
	return r.listBalances(ctx, queryGetUserBalances, userId)
}

// ListAllBalances returns every balance row, used by reconciliation
func (s *Service) ListAllBalances(ctx context.Context) ([]models.Balance, error) {
	return s.listBalances(ctx, queryListAllBalances)
}

func (r *repo) listBalances(ctx context.Context, query string, args ...any) ([]models.Balance, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer closeRows(rows)

	var balances []models.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, *b)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during balance row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}
	return balances, nil
}

// GetLedgerEntries returns paginated movement history, newest first
func (s *Service) GetLedgerEntries(ctx context.Context, userId string, currency models.Currency, limit, offset int) ([]models.LedgerEntry, error) {
	zap.L().Debug("Getting ledger entries",
		zap.String("user_id", userId),
		zap.String("currency", string(currency)),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	rows, err := s.query(ctx, queryGetLedgerEntries, userId, currency, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entries: %w", err)
	}
	defer closeRows(rows)

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var amountStr, beforeStr, afterStr string
		err := rows.Scan(&e.Id, &e.UserId, &e.Currency, &e.EntryType, &amountStr, &beforeStr, &afterStr,
			&e.Version, &e.Reference, &e.Counterparty, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		if e.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}
		if e.BalanceBefore, err = decimal.NewFromString(beforeStr); err != nil {
			return nil, fmt.Errorf("failed to parse balance before '%s': %w", beforeStr, err)
		}
		if e.BalanceAfter, err = decimal.NewFromString(afterStr); err != nil {
			return nil, fmt.Errorf("failed to parse balance after '%s': %w", afterStr, err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entry rows: %w", err)
	}
	return entries, nil
}

// ReconcileBalance verifies that the stored balance matches the sum of its ledger entries
func (s *Service) ReconcileBalance(ctx context.Context, userId string, currency models.Currency) (*models.Reconciliation, error) {
	zap.L().Info("Reconciling balance", zap.String("user_id", userId), zap.String("currency", string(currency)))

	stored, err := s.GetBalance(ctx, userId, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to get current balance: %w", err)
	}

	// Amounts are text, so the sum is computed in decimal rather than by the database
	rows, err := s.query(ctx, queryGetEntryAmounts, userId, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger entries: %w", err)
	}
	defer closeRows(rows)

	calculated := decimal.Zero
	for rows.Next() {
		var amountStr string
		if err := rows.Scan(&amountStr); err != nil {
			return nil, fmt.Errorf("failed to scan ledger amount: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ledger amount '%s': %w", amountStr, err)
		}
		calculated = calculated.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger rows: %w", err)
	}

	rec := &models.Reconciliation{
		UserId:     userId,
		Currency:   currency,
		Stored:     stored,
		Calculated: calculated,
		Matched:    stored.Equal(calculated),
	}
	if !rec.Matched {
		zap.L().Error("Balance reconciliation failed",
			zap.String("user_id", userId),
			zap.String("currency", string(currency)),
			zap.String("current_balance", stored.String()),
			zap.String("calculated_balance", calculated.String()),
			zap.String("difference", stored.Sub(calculated).String()))
		return rec, nil
	}

	zap.L().Info("Balance reconciliation successful",
		zap.String("user_id", userId),
		zap.String("currency", string(currency)),
		zap.String("balance", stored.String()))
	return rec, nil
}
