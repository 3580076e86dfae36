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

// Package formance mirrors committed trade legs into a Formance Stack ledger so
// finance can audit them outside the settlement database. The local ledger stays
// authoritative; the mirror is fed from the event bus and may lag behind it.
package formance

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"trade-settlement-go/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultLedgerName = "trade-settlement"

// ledgerAPI is the slice of the Formance v2 ledger client the mirror uses.
type ledgerAPI interface {
	CreateLedger(ctx context.Context, request operations.V2CreateLedgerRequest, opts ...operations.Option) (*operations.V2CreateLedgerResponse, error)
	CreateTransaction(ctx context.Context, request operations.V2CreateTransactionRequest, opts ...operations.Option) (*operations.V2CreateTransactionResponse, error)
	GetAccount(ctx context.Context, request operations.V2GetAccountRequest, opts ...operations.Option) (*operations.V2GetAccountResponse, error)
}

// Mirror posts trade legs to Formance. It implements events.Sink.
type Mirror struct {
	api    ledgerAPI
	ledger string
}

// NewMirror connects to the stack and creates the ledger if it does not exist yet.
func NewMirror(ctx context.Context, cfg models.FormanceConfig) (*Mirror, error) {
	if cfg.StackURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("formance config requires StackURL, ClientID, and ClientSecret")
	}
	if cfg.LedgerName == "" {
		cfg.LedgerName = defaultLedgerName
	}

	zap.L().Info("Connecting to Formance Stack",
		zap.String("stack_url", cfg.StackURL),
		zap.String("ledger", cfg.LedgerName))

	client := v3.New(
		v3.WithServerURL(cfg.StackURL),
		v3.WithSecurity(shared.Security{
			ClientID:     v3.Pointer(cfg.ClientID),
			ClientSecret: v3.Pointer(cfg.ClientSecret),
		}),
	)

	m := &Mirror{api: client.Ledger.V2, ledger: cfg.LedgerName}
	if err := m.ensureLedger(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger exists: %w", err)
	}
	return m, nil
}

func (m *Mirror) ensureLedger(ctx context.Context) error {
	_, err := m.api.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: m.ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{"application": defaultLedgerName},
		},
	})
	if err != nil {
		var apiErr *sdkerrors.V2ErrorResponse
		if errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumLedgerAlreadyExists {
			zap.L().Info("Ledger already exists", zap.String("ledger", m.ledger))
			return nil
		}
		return err
	}
	zap.L().Info("Ledger created", zap.String("ledger", m.ledger))
	return nil
}

func (m *Mirror) Name() string { return "formance" }

// Handle implements events.Sink. Events that move no money are ignored.
func (m *Mirror) Handle(ctx context.Context, event models.TradeEvent) error {
	if event.Trade == nil {
		return nil
	}
	posting, ok := postingFor(event)
	if !ok {
		return nil
	}

	_, err := m.api.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: m.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Reference: v3.Pointer(posting.reference),
			Script: &shared.V2PostTransactionScript{
				Plain: posting.script,
				Vars:  posting.vars,
			},
			Timestamp: v3.Pointer(event.OccurredAt),
		},
	})
	if err != nil {
		if isConflictError(err) {
			return nil // already mirrored
		}
		return fmt.Errorf("error mirroring %s for trade %s: %w", posting.reference, event.TradeId, err)
	}

	zap.L().Debug("Trade legs mirrored to Formance",
		zap.String("trade_id", event.TradeId),
		zap.String("reference", posting.reference))
	return nil
}

// Balance reads an account's mirrored balance, e.g. for reconciliation against the
// local ledger.
func (m *Mirror) Balance(ctx context.Context, userId string, currency models.Currency) (decimal.Decimal, error) {
	resp, err := m.api.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  m.ledger,
		Address: accountAddress(userId),
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		if isNotFoundError(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to get account %s: %w", userId, err)
	}
	vols := resp.V2AccountResponse.Data.Volumes
	return bigIntToDecimal(volumeBalance(vols, formanceAsset(currency)), currency), nil
}

// ---------- helpers ----------

// formanceAsset returns the Formance UMN notation, e.g. "BTC/8".
func formanceAsset(c models.Currency) string {
	return fmt.Sprintf("%s/%d", c, c.Precision())
}

// smallestUnits converts amount to the integer minor units Numscript expects.
func smallestUnits(amount decimal.Decimal, c models.Currency) string {
	return amount.Shift(c.Precision()).BigInt().String()
}

// bigIntToDecimal converts a *big.Int in smallest-unit to a human-readable decimal.
func bigIntToDecimal(raw *big.Int, c models.Currency) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -c.Precision())
}

// volumeBalance extracts the balance for a specific asset from volumes.
func volumeBalance(vols map[string]shared.V2Volume, fAsset string) *big.Int {
	vol, ok := vols[fAsset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}

// isConflictError checks whether a Formance SDK error is a CONFLICT (duplicate reference).
func isConflictError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumConflict
}

func isNotFoundError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumNotFound
}
