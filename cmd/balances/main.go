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
	"flag"
	"fmt"

	"trade-settlement-go/internal/common"
	"trade-settlement-go/internal/config"
	"trade-settlement-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type reportStats struct {
	users      int
	funded     int
	currencies map[models.Currency]decimal.Decimal
}

// generateReport prints one section per user and totals every currency across users.
func generateReport(report *common.Report, users []common.UserBalances) reportStats {
	stats := reportStats{currencies: make(map[models.Currency]decimal.Decimal)}

	for _, user := range users {
		stats.users++
		if len(user.Balances) == 0 {
			continue
		}
		stats.funded++

		report.Section("User: "+user.UserId, fmt.Sprintf("Currencies: %d", len(user.Balances)))
		for i, b := range user.Balances {
			report.Item(i == len(user.Balances)-1, "%-5s %28s  v%-4d %s",
				b.Currency,
				common.Amount(b.Currency, b.Amount),
				b.Version,
				b.UpdatedAt.Format("2006-01-02 15:04"))
			stats.currencies[b.Currency] = stats.currencies[b.Currency].Add(b.Amount)
		}
	}

	return stats
}

func printTotals(report *common.Report, totals map[models.Currency]decimal.Decimal) {
	if len(totals) == 0 {
		return
	}
	report.Divider()
	report.Line("Customer holdings")
	for _, c := range models.Currencies {
		if total, ok := totals[c]; ok {
			report.Field("  "+string(c), common.Amount(c, total))
		}
	}
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "Filter by specific user id (optional)")
	flag.Parse()

	logger.Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Connecting to database", zap.String("driver", cfg.Database.Driver))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	users, err := common.InitializeUsers(ctx, dbService, *userFlag)
	if err != nil {
		logger.Fatal("Failed to initialize users", zap.Error(err))
	}

	report := common.Stdout()
	report.Header("USER BALANCE REPORT")

	stats := generateReport(report, users)
	printTotals(report, stats.currencies)

	report.Footer(fmt.Sprintf("SUMMARY: %d of %d users hold a balance", stats.funded, stats.users))

	logger.Info("Balance query completed",
		zap.Int("users_queried", stats.users),
		zap.Int("users_with_balances", stats.funded),
		zap.Int("currencies", len(stats.currencies)))
}
