package rbac

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/scopeguard/pkg/observability"
)

// SeederConfig controls the cross-tenant bootstrap pass
type SeederConfig struct {
	// Concurrency is the number of tenants processed at once
	Concurrency int
	// PageSize is the number of tenant ids fetched per query
	PageSize int
}

// DefaultSeederConfig returns the default bootstrap settings
func DefaultSeederConfig() SeederConfig {
	return SeederConfig{
		Concurrency: 4,
		PageSize:    500,
	}
}

// BootstrapReport summarizes a cross-tenant seeding pass
type BootstrapReport struct {
	Tenants        int           `json:"tenants"`
	Seeded         int           `json:"seeded"`
	RowsBackfilled int           `json:"rows_backfilled"`
	Failed         int           `json:"failed"`
	FailedTenants  []int64       `json:"failed_tenants,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// Seeder creates the baseline template roles for tenants and keeps their
// permission matrix covering every entity type
type Seeder struct {
	store   *Store
	config  SeederConfig
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewSeeder creates a seeder. metrics may be nil.
func NewSeeder(store *Store, config SeederConfig, logger *observability.Logger, metrics *observability.Metrics) *Seeder {
	defaults := DefaultSeederConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}

	return &Seeder{
		store:   store,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// SeedTenant creates the template roles with their full permission matrix
// unless the tenant already has any template role. It reports whether roles
// were created.
func (s *Seeder) SeedTenant(ctx context.Context, tenantID int64) (bool, error) {
	seeded := false
	rows := 0

	err := s.store.InTx(ctx, func(tx *Store) error {
		exists, err := tx.HasTemplateRoles(ctx, tenantID)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		for _, tpl := range RoleTemplates() {
			role := &Role{
				TenantID:    tenantID,
				Name:        tpl.Name,
				Description: tpl.Description,
				IsSystem:    true,
				IsTemplate:  true,
			}
			if err := tx.CreateRole(ctx, role); err != nil {
				return fmt.Errorf("failed to create template role %q: %w", tpl.Name, err)
			}

			for _, perm := range TemplatePermissions(role.ID, role.Name) {
				inserted, err := tx.InsertRolePermissionIfMissing(ctx, perm)
				if err != nil {
					return err
				}
				if inserted {
					rows++
				}
			}
		}

		seeded = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to seed tenant %d: %w", tenantID, err)
	}

	if seeded {
		s.countRows("seed", rows)
		s.logger.WithFields(map[string]interface{}{
			"tenant_id": tenantID,
			"rows":      rows,
		}).Info("Seeded template roles")
	}
	return seeded, nil
}

// BackfillTenant inserts permission rows missing from the tenant's template
// roles. Existing rows are never changed, so administrator edits survive.
// It returns the number of rows inserted.
func (s *Seeder) BackfillTenant(ctx context.Context, tenantID int64) (int, error) {
	inserted := 0

	err := s.store.InTx(ctx, func(tx *Store) error {
		roles, err := tx.ListTemplateRoles(ctx, tenantID)
		if err != nil {
			return err
		}

		for _, role := range roles {
			existing, err := tx.ListRolePermissions(ctx, role.ID)
			if err != nil {
				return err
			}

			present := make(map[[2]string]struct{}, len(existing))
			for _, perm := range existing {
				present[[2]string{string(perm.EntityType), string(perm.Operation)}] = struct{}{}
			}

			for _, perm := range TemplatePermissions(role.ID, role.Name) {
				if _, ok := present[[2]string{string(perm.EntityType), string(perm.Operation)}]; ok {
					continue
				}
				ok, err := tx.InsertRolePermissionIfMissing(ctx, perm)
				if err != nil {
					return err
				}
				if ok {
					inserted++
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to backfill tenant %d: %w", tenantID, err)
	}

	if inserted > 0 {
		s.countRows("backfill", inserted)
		s.logger.WithFields(map[string]interface{}{
			"tenant_id": tenantID,
			"rows":      inserted,
		}).Info("Backfilled template permissions")
	}
	return inserted, nil
}

// Bootstrap seeds and backfills every tenant that has active users.
// Tenants are streamed page by page and each runs in its own transaction.
// A failing tenant is logged and counted without stopping the pass; only
// listing failures or context cancellation end it early.
func (s *Seeder) Bootstrap(ctx context.Context) (BootstrapReport, error) {
	start := time.Now()

	var (
		mu     sync.Mutex
		report BootstrapReport
	)

	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)

	listErr := s.store.ForEachTenantID(ctx, s.config.PageSize, func(tenantID int64) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		g.Go(func() error {
			seeded, rows, err := s.processTenant(ctx, tenantID)

			mu.Lock()
			defer mu.Unlock()
			report.Tenants++
			if err != nil {
				report.Failed++
				report.FailedTenants = append(report.FailedTenants, tenantID)
				return nil
			}
			if seeded {
				report.Seeded++
			}
			report.RowsBackfilled += rows
			return nil
		})
		return nil
	})

	_ = g.Wait()
	report.Duration = time.Since(start)
	if s.metrics != nil {
		s.metrics.SeedingRunDuration.Observe(report.Duration.Seconds())
	}

	logger := s.logger.WithFields(map[string]interface{}{
		"tenants":         report.Tenants,
		"seeded":          report.Seeded,
		"rows_backfilled": report.RowsBackfilled,
		"failed":          report.Failed,
		"duration_ms":     report.Duration.Milliseconds(),
	})

	if listErr != nil {
		logger.WithError(listErr).Error("Template bootstrap stopped early")
		return report, fmt.Errorf("failed to bootstrap tenants: %w", listErr)
	}

	logger.Info("Template bootstrap complete")
	return report, nil
}

func (s *Seeder) processTenant(ctx context.Context, tenantID int64) (bool, int, error) {
	logger := s.logger.WithField("tenant_id", tenantID)

	seeded, err := s.SeedTenant(ctx, tenantID)
	if err != nil {
		logger.WithError(err).Error("Template seeding failed")
		s.countTenant("failed")
		return false, 0, err
	}

	rows, err := s.BackfillTenant(ctx, tenantID)
	if err != nil {
		logger.WithError(err).Error("Template backfill failed")
		s.countTenant("failed")
		return seeded, 0, err
	}

	switch {
	case seeded:
		s.countTenant("seeded")
	case rows > 0:
		s.countTenant("backfilled")
	default:
		s.countTenant("unchanged")
	}
	return seeded, rows, nil
}

func (s *Seeder) countTenant(outcome string) {
	if s.metrics != nil {
		s.metrics.SeedingTenantsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Seeder) countRows(step string, n int) {
	if s.metrics != nil {
		s.metrics.SeedingRowsInserted.WithLabelValues(step).Add(float64(n))
	}
}
