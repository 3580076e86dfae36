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
	"trade-settlement-go/internal/database"
	"trade-settlement-go/internal/models"

	"go.uber.org/zap"
)

// seedAdmins upserts every admin in the roster. Presence and load are left alone so
// re-running setup against a live database is safe.
func seedAdmins(ctx context.Context, dbService *database.Service, roster []models.Admin) (created, updated int, err error) {
	for i := range roster {
		admin := roster[i]
		existing, getErr := dbService.GetAdmin(ctx, admin.Id)
		if getErr == nil {
			admin.IsOnline = existing.IsOnline
			admin.CurrentLoad = existing.CurrentLoad
			admin.LastSeenAt = existing.LastSeenAt
		}

		if err := dbService.UpsertAdmin(ctx, &admin); err != nil {
			zap.L().Error("Error storing admin",
				zap.String("admin_id", admin.Id),
				zap.Error(err))
			return created, updated, err
		}

		if getErr == nil {
			updated++
		} else {
			created++
		}
		zap.L().Info("Stored admin",
			zap.String("admin_id", admin.Id),
			zap.String("name", admin.Name),
			zap.String("region", admin.Region),
			zap.Float64("rating", admin.Rating))
	}
	return created, updated, nil
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	adminsFlag := flag.String("admins", "admins.yaml", "Admin roster to seed")
	skipAdmins := flag.Bool("schema-only", false, "Only create the schema, do not seed admins")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	// Opening the database creates any missing tables.
	zap.L().Info("Initializing database schema",
		zap.String("driver", cfg.Database.Driver),
		zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	if *skipAdmins {
		zap.L().Info("Schema ready")
		return
	}

	roster, err := common.LoadAdminRoster(*adminsFlag)
	if err != nil {
		zap.L().Fatal("Failed to load admin roster", zap.Error(err))
	}
	zap.L().Info("Admin roster loaded", zap.Int("count", len(roster)))

	created, updated, err := seedAdmins(ctx, dbService, roster)
	if err != nil {
		zap.L().Fatal("Admin seeding failed", zap.Error(err))
	}

	common.Stdout().Footer(fmt.Sprintf("SETUP COMPLETE: %d admins created, %d updated", created, updated))
}
