package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/scopeguard/pkg/config"
	"github.com/platinummonkey/scopeguard/pkg/observability"
	"github.com/platinummonkey/scopeguard/pkg/rbac"
	"github.com/platinummonkey/scopeguard/pkg/storage"
)

var (
	schedule = flag.String("schedule", "", "Cron schedule for the backfill pass (default: SCOPEGUARD_BACKFILL_SCHEDULE)")
	runOnce  = flag.Bool("run-once", false, "Run one pass and exit")
	timeout  = flag.Duration("timeout", 30*time.Minute, "Upper bound for a single pass")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.Observability.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if *schedule == "" {
		*schedule = cfg.RBAC.BackfillSchedule
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenPostgres(ctx, cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	seederLogger := observability.NewLoggerWithHandler(cfg.Observability.Level(), newLogrusHandler(log))
	seeder := rbac.NewSeeder(rbac.NewStore(db), rbac.SeederConfig{
		Concurrency: cfg.RBAC.SeedConcurrency,
		PageSize:    cfg.RBAC.SeedPageSize,
	}, seederLogger, nil)

	job := &backfillJob{seeder: seeder, log: log, timeout: *timeout, ctx: ctx}

	if *runOnce {
		job.Run()
		return
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(log)),
		cron.SkipIfStillRunning(cron.PrintfLogger(log)),
	))
	if _, err := c.AddJob(*schedule, job); err != nil {
		log.WithError(err).Fatal("Failed to schedule template backfill")
	}

	c.Start()
	log.WithField("schedule", *schedule).Info("ScopeGuard backfill worker started")

	<-ctx.Done()
	log.Info("Shutting down gracefully...")

	// Wait for a running pass to observe cancellation and finish
	<-c.Stop().Done()
	log.Info("Backfill worker stopped")
}
