package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func scanTrade(row rowScanner) (*models.Trade, error) {
	var t models.Trade
	var cryptoAmount, fiatAmount string
	var settledAt sql.NullTime
	err := row.Scan(&t.Id, &t.UserId, &t.Type, &t.Crypto, &cryptoAmount, &fiatAmount, &t.FiatCurrency,
		&t.Country, &t.PaymentMethod, &t.BankDetails, &t.PaymentProof, &t.AssignedAdminId, &t.Status,
		&t.DecisionReason, &t.SettledBy, &t.ProviderTxId, &t.CreatedAt, &t.UpdatedAt, &settledAt)
	if err != nil {
		return nil, err
	}
	if t.CryptoAmount, err = decimal.NewFromString(cryptoAmount); err != nil {
		return nil, fmt.Errorf("failed to parse crypto amount '%s': %w", cryptoAmount, err)
	}
	if t.FiatAmount, err = decimal.NewFromString(fiatAmount); err != nil {
		return nil, fmt.Errorf("failed to parse fiat amount '%s': %w", fiatAmount, err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	t.SettledAt = timePtr(settledAt)
	return &t, nil
}

func (r *repo) InsertTrade(ctx context.Context, t *models.Trade) error {
	_, err := r.exec(ctx, queryInsertTrade,
		t.Id, t.UserId, t.Type, t.Crypto, t.CryptoAmount.String(), t.FiatAmount.String(), t.FiatCurrency,
		t.Country, t.PaymentMethod, t.BankDetails, t.PaymentProof, t.AssignedAdminId, t.Status,
		t.DecisionReason, t.SettledBy, t.ProviderTxId, t.CreatedAt.UTC(), t.UpdatedAt.UTC(), nullTime(t.SettledAt))
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	zap.L().Debug("Trade inserted", zap.String("trade_id", t.Id), zap.String("status", string(t.Status)))
	return nil
}

func (r *repo) GetTrade(ctx context.Context, tradeId string) (*models.Trade, error) {
	return r.getTrade(ctx, queryGetTrade, tradeId)
}

func (r *repo) LockTrade(ctx context.Context, tradeId string) (*models.Trade, error) {
	return r.getTrade(ctx, queryGetTrade+r.d.forUpdate(), tradeId)
}

func (r *repo) getTrade(ctx context.Context, query, tradeId string) (*models.Trade, error) {
	t, err := scanTrade(r.queryRow(ctx, query, tradeId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trade %s: %w", tradeId, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	return t, nil
}

func (r *repo) UpdateTrade(ctx context.Context, t *models.Trade, from models.TradeStatus) error {
	result, err := r.exec(ctx, queryUpdateTrade,
		t.PaymentProof, t.AssignedAdminId, t.Status, t.DecisionReason, t.SettledBy, t.ProviderTxId,
		t.UpdatedAt.UTC(), nullTime(t.SettledAt), t.Id, from)
	if err != nil {
		return fmt.Errorf("failed to update trade: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trade %s no longer %s - %w", t.Id, from, store.ErrConcurrentModification)
	}
	return nil
}

func (r *repo) ListTrades(ctx context.Context, f models.TradeFilter) ([]models.Trade, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	status := string(f.Status)
	return r.listTrades(ctx, queryListTrades,
		f.UserId, f.UserId, f.AdminId, f.AdminId, status, status, limit, f.Offset)
}

func (r *repo) ListUnassignedTrades(ctx context.Context, limit int) ([]models.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.listTrades(ctx, queryListUnassignedTrades, limit)
}

func (r *repo) listTrades(ctx context.Context, query string, args ...any) ([]models.Trade, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer closeRows(rows)

	var trades []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}
