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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"trade-settlement-go/internal/common"
	"trade-settlement-go/internal/config"
	"trade-settlement-go/internal/funds"
	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func parseAndValidateFlags() (*funds.WithdrawRequest, error) {
	userFlag := flag.String("user", "", "User id (required)")
	currencyFlag := flag.String("currency", "", "Currency (BTC, ETH, USDT, NGN, KES) (required)")
	amountFlag := flag.String("amount", "", "Amount to withdraw (required)")
	destinationFlag := flag.String("destination", "", "Destination address or phone number (required)")
	networkFlag := flag.String("network", "", "Chain for crypto sends, e.g. ethereum-mainnet")
	methodFlag := flag.String("method", "", "Payout rail for fiat, e.g. mpesa")
	flag.Parse()

	if *userFlag == "" || *currencyFlag == "" || *amountFlag == "" || *destinationFlag == "" {
		return nil, fmt.Errorf("all flags are required: --user, --currency, --amount, --destination")
	}

	currency, err := models.ParseCurrency(*currencyFlag)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}
	if err := currency.ValidateAmount(amount); err != nil {
		return nil, err
	}

	return &funds.WithdrawRequest{
		UserId:      *userFlag,
		Currency:    currency,
		Amount:      amount,
		Destination: *destinationFlag,
		Network:     *networkFlag,
		Method:      *methodFlag,
	}, nil
}

func printWithdrawalSummary(report *common.Report, req *funds.WithdrawRequest, currentBalance decimal.Decimal) {
	report.Header("WITHDRAWAL REQUEST")
	report.Field("User", req.UserId)
	report.Field("Current Balance", common.Amount(req.Currency, currentBalance))
	report.Field("Withdrawal Amount", common.Amount(req.Currency, req.Amount))
	report.Field("Remaining Balance", common.Amount(req.Currency, currentBalance.Sub(req.Amount)))
	report.Field("Destination", req.Destination)
	report.Rule()
}

func explain(err error) string {
	switch {
	case errors.Is(err, store.ErrInsufficientFunds):
		return "insufficient balance"
	case errors.Is(err, store.ErrConcurrentModification):
		return "balance was modified by another operation - please retry"
	case errors.Is(err, store.ErrProviderFailure):
		return "provider refused the withdrawal, balance left untouched"
	}
	return err.Error()
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	req, err := parseAndValidateFlags()
	if err != nil {
		zap.L().Fatal("Invalid flags", zap.Error(err))
	}

	zap.L().Info("Starting withdrawal process",
		zap.String("user_id", req.UserId),
		zap.String("currency", string(req.Currency)),
		zap.String("amount", req.Amount.String()),
		zap.String("destination", req.Destination))

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	zap.L().Info("Initializing services")
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	current, err := services.DbService.GetBalance(ctx, req.UserId, req.Currency)
	if err != nil {
		zap.L().Fatal("Failed to read balance", zap.Error(err))
	}
	report := common.Stdout()
	printWithdrawalSummary(report, req, current)

	withdrawal, err := services.Funds.Withdraw(ctx, *req)
	if err != nil {
		report.Header("WITHDRAWAL FAILED")
		report.Field("Error", explain(err))
		report.Rule()
		zap.L().Error("Withdrawal failed", zap.Error(err))
		return
	}

	report.Header("WITHDRAWAL ACCEPTED")
	report.Field("Provider", withdrawal.Provider)
	report.Field("Withdrawal ID", withdrawal.Id)
	report.Field("Provider TX ID", withdrawal.ProviderTxId)
	report.Field("Amount", common.Amount(withdrawal.Currency, withdrawal.Amount))
	report.Rule()
}
