package main

import (
	"context"
	"flag"
	"fmt"
	"regexp"
	"time"

	"trade-settlement-go/internal/auth"
	"trade-settlement-go/internal/common"
	"trade-settlement-go/internal/config"
	"trade-settlement-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9._:\-]{1,128}$`)

func validateId(id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("invalid id format: %s", id)
	}
	return nil
}

func parseRole(role string) (models.Role, error) {
	switch models.Role(role) {
	case models.RoleUser, models.RoleAdmin:
		return models.Role(role), nil
	}
	return "", fmt.Errorf("role must be %q or %q", models.RoleUser, models.RoleAdmin)
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	idFlag := flag.String("id", "", "Subject id; a new UUID is generated for users when empty")
	roleFlag := flag.String("role", string(models.RoleUser), "Role: user or admin")
	ttlFlag := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	role, err := parseRole(*roleFlag)
	if err != nil {
		zap.L().Fatal("Invalid role", zap.Error(err))
	}

	id := *idFlag
	if id == "" && role == models.RoleUser {
		id = uuid.New().String()
	}
	if err := validateId(id); err != nil {
		zap.L().Fatal("Invalid id", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	// Admin tokens are only issued for admins on the roster.
	if role == models.RoleAdmin {
		dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
		if err != nil {
			zap.L().Fatal("Failed to initialize database", zap.Error(err))
		}
		_, err = dbService.GetAdmin(ctx, id)
		dbService.Close()
		if err != nil {
			zap.L().Fatal("Admin not found, run setup with the roster first", zap.String("admin_id", id), zap.Error(err))
		}
	}

	verifier, err := auth.NewVerifier(cfg.Server.JwtSecret, cfg.Server.JwtIssuer)
	if err != nil {
		zap.L().Fatal("Invalid JWT_SECRET", zap.Error(err))
	}

	token, err := verifier.Issue(models.Principal{Id: id, Role: role}, *ttlFlag)
	if err != nil {
		zap.L().Fatal("Failed to issue token", zap.Error(err))
	}

	zap.L().Info("Issued token",
		zap.String("subject", id),
		zap.String("role", string(role)),
		zap.Duration("ttl", *ttlFlag))

	report := common.Stdout()
	report.Header(fmt.Sprintf("TOKEN FOR %s (%s)", id, role))
	report.Line("%s", token)
	report.Rule()
}
