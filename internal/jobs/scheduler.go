// Package jobs runs the periodic maintenance work of the settlement core on cron
// schedules: retrying admin assignment, expiring admin presence and reconciling the
// ledger.
package jobs

import (
	"context"
	"fmt"
	"time"

	"trade-settlement-go/internal/metrics"
	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/notify"
	"trade-settlement-go/internal/store"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const assignBatch = 100

// Assigner hands unassigned trades to admins.
type Assigner interface {
	AssignPending(ctx context.Context, limit int) (assigned, waiting int, err error)
}

type Jobs struct {
	store        store.Store
	assigner     Assigner
	notifier     notify.Notifier
	heartbeatTTL time.Duration
	now          func() time.Time
}

func NewJobs(st store.Store, assigner Assigner, notifier notify.Notifier, heartbeatTTL time.Duration) *Jobs {
	return &Jobs{
		store:        st,
		assigner:     assigner,
		notifier:     notifier,
		heartbeatTTL: heartbeatTTL,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// AssignPending retries assignment for trades nobody picked up.
func (j *Jobs) AssignPending(ctx context.Context) error {
	assigned, waiting, err := j.assigner.AssignPending(ctx, assignBatch)
	if err != nil {
		return err
	}
	if assigned > 0 || waiting > 0 {
		zap.L().Info("Assignment sweep finished", zap.Int("assigned", assigned), zap.Int("waiting", waiting))
	}
	return nil
}

// ExpirePresence marks admins offline once their heartbeat is older than the TTL.
func (j *Jobs) ExpirePresence(ctx context.Context) error {
	if j.heartbeatTTL <= 0 {
		return nil
	}
	n, err := j.store.MarkStaleAdminsOffline(ctx, j.now().Add(-j.heartbeatTTL))
	if err != nil {
		return err
	}
	if n > 0 {
		zap.L().Info("Marked stale admins offline", zap.Int64("count", n))
	}
	return nil
}

// Reconcile checks every stored balance against its ledger entries and alerts ops
// about any mismatch. It never corrects balances.
func (j *Jobs) Reconcile(ctx context.Context) ([]models.Reconciliation, error) {
	balances, err := j.store.ListAllBalances(ctx)
	if err != nil {
		return nil, err
	}

	var mismatches []models.Reconciliation
	for _, b := range balances {
		if ctx.Err() != nil {
			return mismatches, ctx.Err()
		}
		rec, err := j.store.ReconcileBalance(ctx, b.UserId, b.Currency)
		if err != nil {
			return mismatches, err
		}
		if !rec.Matched {
			metrics.ReconcileMismatches.Inc()
			mismatches = append(mismatches, *rec)
			zap.L().Error("Balance does not match ledger",
				zap.String("user_id", rec.UserId),
				zap.String("currency", string(rec.Currency)),
				zap.String("stored", rec.Stored.String()),
				zap.String("calculated", rec.Calculated.String()))
		}
	}

	if len(mismatches) > 0 {
		text := fmt.Sprintf("Reconciliation found %d balance mismatch(es) out of %d", len(mismatches), len(balances))
		if err := j.notifier.Notify(ctx, text); err != nil {
			zap.L().Error("Failed to notify ops about reconciliation", zap.Error(err))
		}
	}
	zap.L().Info("Reconciliation finished", zap.Int("balances", len(balances)), zap.Int("mismatches", len(mismatches)))
	return mismatches, nil
}

// Scheduler runs Jobs on cron specs.
type Scheduler struct {
	cron *cron.Cron
	jobs *Jobs
	cfg  models.JobsConfig
}

func NewScheduler(jobs *Jobs, cfg models.JobsConfig) *Scheduler {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			zap.L().Warn("Unknown jobs timezone, using UTC", zap.String("timezone", cfg.Timezone), zap.Error(err))
		} else {
			loc = l
		}
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return &Scheduler{cron: c, jobs: jobs, cfg: cfg}
}

// Start registers every job with a non-empty spec and starts the scheduler. Jobs run
// with ctx so cancelling it aborts in-flight work.
func (s *Scheduler) Start(ctx context.Context) error {
	entries := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"assign_pending", s.cfg.AssignSpec, s.jobs.AssignPending},
		{"expire_presence", s.cfg.PresenceSpec, s.jobs.ExpirePresence},
		{"reconcile", s.cfg.ReconcileSpec, func(ctx context.Context) error {
			_, err := s.jobs.Reconcile(ctx)
			return err
		}},
	}

	for _, e := range entries {
		if e.spec == "" {
			continue
		}
		name, run := e.name, e.run
		if _, err := s.cron.AddFunc(e.spec, func() {
			if err := run(ctx); err != nil {
				zap.L().Error("Scheduled job failed", zap.String("job", name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule %s job (%q): %w", name, e.spec, err)
		}
		zap.L().Info("Scheduled job", zap.String("job", name), zap.String("schedule", e.spec))
	}

	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	zap.L().Info("Job scheduler stopped")
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	zap.L().Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	zap.L().Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
