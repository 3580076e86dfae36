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

package common

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/store"

	"go.uber.org/zap"
)

// UserBalances groups one user's ledger rows for command-line utilities
type UserBalances struct {
	UserId   string
	Balances []models.Balance
}

// InitializeUsers collects users holding ledger rows. If userFilter is provided, only
// that user is returned, and a user without any row is reported as not found.
// Platform accounts are skipped unless asked for by name.
func InitializeUsers(ctx context.Context, st store.Store, userFilter string) ([]UserBalances, error) {
	if userFilter != "" {
		zap.L().Info("Looking up user balances", zap.String("user_id", userFilter))
		balances, err := st.GetBalances(ctx, userFilter)
		if err != nil {
			return nil, fmt.Errorf("failed to get balances: %w", err)
		}
		if len(balances) == 0 {
			return nil, fmt.Errorf("user %s: %w", userFilter, store.ErrNotFound)
		}
		return []UserBalances{{UserId: userFilter, Balances: balances}}, nil
	}

	all, err := st.ListAllBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}

	byUser := make(map[string][]models.Balance)
	for _, b := range all {
		if IsPlatformAccount(b.UserId) {
			continue
		}
		byUser[b.UserId] = append(byUser[b.UserId], b)
	}

	users := make([]UserBalances, 0, len(byUser))
	for id, balances := range byUser {
		users = append(users, UserBalances{UserId: id, Balances: balances})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserId < users[j].UserId })

	zap.L().Info("Retrieved users", zap.Int("count", len(users)))
	return users, nil
}

// IsPlatformAccount reports whether id names a system ledger account rather than a user.
func IsPlatformAccount(id string) bool {
	return strings.HasPrefix(id, "platform:")
}
