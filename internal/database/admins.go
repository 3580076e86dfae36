package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/store"

	"go.uber.org/zap"
)

func scanAdmin(row rowScanner) (*models.Admin, error) {
	var a models.Admin
	var lastSeen sql.NullTime
	err := row.Scan(&a.Id, &a.Name, &a.Region, &a.Rating, &a.ResponseTimeSeconds, &a.CurrentLoad, &a.IsOnline, &lastSeen)
	if err != nil {
		return nil, err
	}
	a.LastSeenAt = timePtr(lastSeen)
	return &a, nil
}

// UpsertAdmin creates an admin or refreshes its profile. Load and presence are left untouched
// on existing rows.
func (r *repo) UpsertAdmin(ctx context.Context, a *models.Admin) error {
	_, err := r.exec(ctx, queryUpsertAdmin,
		a.Id, a.Name, a.Region, a.Rating, a.ResponseTimeSeconds, a.CurrentLoad, a.IsOnline, nullTime(a.LastSeenAt))
	if err != nil {
		return fmt.Errorf("failed to upsert admin: %w", err)
	}
	return nil
}

func (r *repo) GetAdmin(ctx context.Context, adminId string) (*models.Admin, error) {
	a, err := scanAdmin(r.queryRow(ctx, queryGetAdmin, adminId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("admin %s: %w", adminId, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get admin: %w", err)
	}
	return a, nil
}

func (r *repo) ListAdmins(ctx context.Context, onlineOnly bool) ([]models.Admin, error) {
	rows, err := r.query(ctx, queryListAdmins, onlineOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	defer closeRows(rows)

	var admins []models.Admin
	for rows.Next() {
		a, err := scanAdmin(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan admin: %w", err)
		}
		admins = append(admins, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating admin rows: %w", err)
	}
	return admins, nil
}

func (r *repo) AdjustAdminLoad(ctx context.Context, adminId string, delta int) error {
	result, err := r.exec(ctx, queryAdjustAdminLoad, delta, delta, adminId)
	if err != nil {
		return fmt.Errorf("failed to adjust admin load: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		zap.L().Warn("Load adjustment for unknown admin", zap.String("admin_id", adminId))
	}
	return nil
}

func (r *repo) Heartbeat(ctx context.Context, adminId string, online bool, at time.Time) error {
	result, err := r.exec(ctx, queryHeartbeat, online, at.UTC(), adminId)
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("admin %s: %w", adminId, store.ErrNotFound)
	}
	return nil
}

func (r *repo) MarkStaleAdminsOffline(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.exec(ctx, queryMarkStaleAdmins, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale admins offline: %w", err)
	}
	return result.RowsAffected()
}
