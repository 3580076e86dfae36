package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/store"
)

func (r *repo) InsertDispute(ctx context.Context, d *models.Dispute) error {
	_, err := r.exec(ctx, queryInsertDispute,
		d.Id, d.TradeId, d.UserId, d.Reason, d.Evidence, d.Status, d.Resolution, d.ResolvedBy,
		d.CreatedAt.UTC(), nullTime(d.ResolvedAt))
	if err != nil {
		return fmt.Errorf("failed to insert dispute: %w", err)
	}
	return nil
}

func (r *repo) GetOpenDispute(ctx context.Context, tradeId string) (*models.Dispute, error) {
	d, err := scanDispute(r.queryRow(ctx, queryGetOpenDispute, tradeId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open dispute for trade %s: %w", tradeId, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open dispute: %w", err)
	}
	return d, nil
}

// GetLatestDispute returns the most recently raised dispute on a trade, open or not.
func (r *repo) GetLatestDispute(ctx context.Context, tradeId string) (*models.Dispute, error) {
	d, err := scanDispute(r.queryRow(ctx, queryGetLatestDispute, tradeId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dispute for trade %s: %w", tradeId, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dispute: %w", err)
	}
	return d, nil
}

func scanDispute(row rowScanner) (*models.Dispute, error) {
	var d models.Dispute
	var resolvedAt sql.NullTime
	err := row.Scan(&d.Id, &d.TradeId, &d.UserId, &d.Reason,
		&d.Evidence, &d.Status, &d.Resolution, &d.ResolvedBy, &d.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.ResolvedAt = timePtr(resolvedAt)
	return &d, nil
}

// CountDisputesSince counts every dispute the user raised at or after since,
// resolved ones included.
func (r *repo) CountDisputesSince(ctx context.Context, userId string, since time.Time) (int, error) {
	var n int
	if err := r.queryRow(ctx, queryCountDisputesSince, userId, since.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count disputes: %w", err)
	}
	return n, nil
}

func (r *repo) ResolveDispute(ctx context.Context, d *models.Dispute) error {
	result, err := r.exec(ctx, queryResolveDispute, d.Status, d.Resolution, d.ResolvedBy, nullTime(d.ResolvedAt), d.Id)
	if err != nil {
		return fmt.Errorf("failed to resolve dispute: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("dispute %s no longer open - %w", d.Id, store.ErrConcurrentModification)
	}
	return nil
}
