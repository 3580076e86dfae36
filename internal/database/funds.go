package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/store"

	"github.com/shopspring/decimal"
)

func (r *repo) InsertDeposit(ctx context.Context, d *models.Deposit) error {
	_, err := r.exec(ctx, queryInsertDeposit,
		d.Id, d.UserId, d.Currency, d.Amount.String(), d.Phone, d.Provider, d.ProviderTxId, d.Status,
		d.CreatedAt.UTC(), d.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert deposit: %w", err)
	}
	return nil
}

func (r *repo) LockDepositByProviderTx(ctx context.Context, providerTxId string) (*models.Deposit, error) {
	var d models.Deposit
	var amount string
	err := r.queryRow(ctx, queryGetDepositByProviderTx+r.d.forUpdate(), providerTxId).Scan(&d.Id, &d.UserId,
		&d.Currency, &amount, &d.Phone, &d.Provider, &d.ProviderTxId, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deposit for provider tx %s: %w", providerTxId, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}
	if d.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("failed to parse deposit amount '%s': %w", amount, err)
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

func (r *repo) UpdateDepositStatus(ctx context.Context, depositId string, from, to models.FundsStatus, at time.Time) error {
	result, err := r.exec(ctx, queryUpdateDepositStatus, to, at.UTC(), depositId, from)
	if err != nil {
		return fmt.Errorf("failed to update deposit: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("deposit %s no longer %s - %w", depositId, from, store.ErrConcurrentModification)
	}
	return nil
}

func (r *repo) InsertWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	_, err := r.exec(ctx, queryInsertWithdrawal,
		w.Id, w.UserId, w.Currency, w.Amount.String(), w.Destination, w.Provider, w.ProviderTxId, w.Status, w.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert withdrawal: %w", err)
	}
	return nil
}

func (r *repo) ConfirmWithdrawal(ctx context.Context, withdrawalId, providerTxId string) error {
	result, err := r.exec(ctx, queryConfirmWithdrawal, providerTxId, models.FundsConfirmed, withdrawalId, models.FundsPending)
	if err != nil {
		return fmt.Errorf("failed to confirm withdrawal: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("withdrawal %s no longer pending - %w", withdrawalId, store.ErrConcurrentModification)
	}
	return nil
}

func (r *repo) GetPayout(ctx context.Context, reference string) (*models.Payout, error) {
	var p models.Payout
	err := r.queryRow(ctx, queryGetPayout, reference).Scan(&p.Reference, &p.Provider, &p.ProviderTxId,
		&p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payout %s: %w", reference, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// SavePayout inserts p or overwrites the stored marker for its reference. CreatedAt
// is kept from the first insert.
func (r *repo) SavePayout(ctx context.Context, p *models.Payout) error {
	if p.Reference == "" {
		return fmt.Errorf("%w: payout reference is required", store.ErrInvalidArgument)
	}
	now := utcNow()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := r.exec(ctx, querySavePayout,
		p.Reference, p.Provider, p.ProviderTxId, p.Status, p.CreatedAt.UTC(), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save payout %s: %w", p.Reference, err)
	}
	return nil
}

func (r *repo) ListWithdrawals(ctx context.Context, userId string, limit int) ([]models.Withdrawal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.query(ctx, queryListWithdrawals, userId, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	defer closeRows(rows)

	var withdrawals []models.Withdrawal
	for rows.Next() {
		var w models.Withdrawal
		var amount string
		err := rows.Scan(&w.Id, &w.UserId, &w.Currency, &amount, &w.Destination, &w.Provider, &w.ProviderTxId, &w.Status, &w.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		if w.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse withdrawal amount '%s': %w", amount, err)
		}
		w.CreatedAt = w.CreatedAt.UTC()
		withdrawals = append(withdrawals, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating withdrawal rows: %w", err)
	}
	return withdrawals, nil
}
