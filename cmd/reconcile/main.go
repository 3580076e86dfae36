package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"trade-settlement-go/internal/common"
	"trade-settlement-go/internal/config"
	"trade-settlement-go/internal/formance"
	"trade-settlement-go/internal/jobs"
	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/notify"

	"go.uber.org/zap"
)

// compareMirror prints the Formance view next to every local balance. The mirror is
// informational, so differences are reported but never fail the run.
func compareMirror(ctx context.Context, report *common.Report, mirror *formance.Mirror, balances []models.Balance) int {
	differences := 0
	for _, b := range balances {
		mirrored, err := mirror.Balance(ctx, b.UserId, b.Currency)
		if err != nil {
			zap.L().Warn("Failed to read mirrored balance",
				zap.String("user_id", b.UserId),
				zap.String("currency", string(b.Currency)),
				zap.Error(err))
			continue
		}
		if !mirrored.Equal(b.Amount) {
			differences++
			report.Item(false, "%-24s local=%s formance=%s",
				b.UserId, common.Amount(b.Currency, b.Amount), common.Amount(b.Currency, mirrored))
		}
	}
	return differences
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	notifyFlag := flag.Bool("notify", false, "Send mismatches to the ops Telegram chat")
	mirrorFlag := flag.Bool("formance", false, "Also compare balances against the Formance mirror")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	var notifier notify.Notifier = notify.Log{}
	if *notifyFlag {
		notifier = notify.New(cfg.Telegram)
	}

	// Reconciliation never assigns trades, so no assigner is needed.
	j := jobs.NewJobs(dbService, nil, notifier, 0)

	report := common.Stdout()
	report.Header("LEDGER RECONCILIATION")
	mismatches, err := j.Reconcile(ctx)
	if err != nil {
		zap.L().Fatal("Reconciliation failed", zap.Error(err))
	}
	for i, m := range mismatches {
		report.Item(i == len(mismatches)-1, "%-24s stored=%s ledger=%s",
			m.UserId, common.Amount(m.Currency, m.Stored), common.Amount(m.Currency, m.Calculated))
	}

	if *mirrorFlag {
		mirror, err := formance.NewMirror(ctx, cfg.Formance)
		if err != nil {
			zap.L().Fatal("Failed to connect to Formance", zap.Error(err))
		}
		balances, err := dbService.ListAllBalances(ctx)
		if err != nil {
			zap.L().Fatal("Failed to list balances", zap.Error(err))
		}
		report.Divider()
		differences := compareMirror(ctx, report, mirror, balances)
		report.Line("Formance mirror: %d of %d balances differ", differences, len(balances))
	}

	report.Footer(fmt.Sprintf("RESULT: %d mismatch(es)", len(mismatches)))
	if len(mismatches) > 0 {
		loggerCleanup()
		os.Exit(2)
	}
}
