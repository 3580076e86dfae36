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
	"fmt"

	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/store"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.Store.
var _ store.Store = (*Service)(nil)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
	MemoryPath     = ":memory:"
)

// Service is the database/sql backed store. The embedded repo runs each call on the
// connection pool; WithTx hands callers a repo bound to a single transaction.
type Service struct {
	*repo
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	if cfg.Driver != DriverSQLite && cfg.Driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	dsn := cfg.Path
	d := dialectPostgres
	if cfg.Driver == DriverSQLite {
		d = dialectSQLite
		// Immediate transactions take the write lock up front so concurrent
		// settlements queue on busy_timeout instead of failing on upgrade.
		dsn = cfg.Path + "?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_busy_timeout=5000&_txlock=immediate&_foreign_keys=1"
		if cfg.Path == MemoryPath {
			// Every connection to :memory: is a separate database.
			cfg.MaxOpenConns, cfg.MaxIdleConns = 1, 1
			cfg.ConnMaxLifetime, cfg.ConnMaxIdleTime = 0, 0
		}
		zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	} else {
		zap.L().Info("Opening Postgres database")
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{repo: &repo{q: db, d: d}, db: db}
	if err := service.initSchema(ctx); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully", zap.String("driver", cfg.Driver))
	return service, nil
}

// MemoryConfig returns settings for a throwaway in-memory SQLite store.
func MemoryConfig() models.DatabaseConfig {
	return models.DatabaseConfig{
		Driver:       DriverSQLite,
		Path:         MemoryPath,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  defaultPingTimeout,
	}
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// WithTx runs fn inside one database transaction. The transaction commits only when
// fn returns nil.
func (s *Service) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			zap.L().Warn("Failed to roll back transaction", zap.Error(err))
		}
	}()

	if err := fn(&repo{q: tx, d: s.d}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Credit runs a standalone credit in its own transaction.
func (s *Service) Credit(ctx context.Context, params store.MovementParams) (int64, error) {
	var version int64
	err := s.WithTx(ctx, func(tx store.Tx) error {
		v, err := tx.Credit(ctx, params)
		version = v
		return err
	})
	return version, err
}

// Debit runs a standalone debit in its own transaction.
func (s *Service) Debit(ctx context.Context, params store.MovementParams) (int64, error) {
	var version int64
	err := s.WithTx(ctx, func(tx store.Tx) error {
		v, err := tx.Debit(ctx, params)
		version = v
		return err
	})
	return version, err
}

func (s *Service) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}

func closeQuietly(db *sql.DB) {
	if err := db.Close(); err != nil {
		zap.L().Warn("Failed to close database after init error", zap.Error(err))
	}
}
