package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

func newSeedCommand(open Opener, out io.Writer) *Command {
	cmd := &Command{
		Name:        "seed",
		Description: "Create template roles for one tenant, or bootstrap every tenant",
		Flags:       newFlagSet("seed", out),
	}
	tenant := cmd.Flags.Int64("tenant", 0, "Tenant id (default: all tenants with active users)")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		return withEnv(open, func(ctx context.Context, env *Env) error {
			if *tenant == 0 {
				return bootstrap(ctx, env, out)
			}

			seeded, err := env.Seeder.SeedTenant(ctx, *tenant)
			if err != nil {
				return err
			}
			if seeded {
				fmt.Fprintf(out, "Seeded template roles for tenant %d\n", *tenant)
			} else {
				fmt.Fprintf(out, "Tenant %d already has template roles\n", *tenant)
			}
			return nil
		})
	}
	return cmd
}

func newBackfillCommand(open Opener, out io.Writer) *Command {
	cmd := &Command{
		Name:        "backfill",
		Description: "Insert missing template permission rows for one tenant, or every tenant",
		Flags:       newFlagSet("backfill", out),
	}
	tenant := cmd.Flags.Int64("tenant", 0, "Tenant id (default: all tenants with active users)")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		return withEnv(open, func(ctx context.Context, env *Env) error {
			if *tenant == 0 {
				return bootstrap(ctx, env, out)
			}

			rows, err := env.Seeder.BackfillTenant(ctx, *tenant)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Backfilled %d permission rows for tenant %d\n", rows, *tenant)
			return nil
		})
	}
	return cmd
}

// bootstrap runs the cross-tenant pass and prints its report as JSON.
// Failed tenants make the command fail after the report is printed.
func bootstrap(ctx context.Context, env *Env, out io.Writer) error {
	report, err := env.Seeder.Bootstrap(ctx)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(report); encErr != nil {
		return encErr
	}

	if err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d tenants failed: %v", report.Failed, report.FailedTenants)
	}
	return nil
}
