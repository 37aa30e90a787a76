package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/scopeguard/pkg/rbac"
)

type bootstrapper interface {
	Bootstrap(ctx context.Context) (rbac.BootstrapReport, error)
}

// backfillJob runs one cross-tenant seed and backfill pass per cron tick
type backfillJob struct {
	seeder  bootstrapper
	log     *logrus.Logger
	timeout time.Duration
	ctx     context.Context
}

// Run implements cron.Job
func (j *backfillJob) Run() {
	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	j.log.Info("Starting template backfill")
	report, err := j.seeder.Bootstrap(ctx)

	entry := j.log.WithFields(logrus.Fields{
		"tenants":         report.Tenants,
		"seeded":          report.Seeded,
		"rows_backfilled": report.RowsBackfilled,
		"failed":          report.Failed,
		"duration":        report.Duration.String(),
	})
	switch {
	case err != nil:
		entry.WithError(err).Error("Template backfill stopped early")
	case report.Failed > 0:
		entry.WithField("failed_tenants", report.FailedTenants).Warn("Template backfill finished with failures")
	default:
		entry.Info("Template backfill complete")
	}
}
