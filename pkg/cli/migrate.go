package cli

import (
	"context"
	"fmt"
	"io"
)

func newMigrateCommand(open Opener, out io.Writer) *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply pending schema migrations, or roll one back",
		Flags:       newFlagSet("migrate", out),
	}
	rollback := cmd.Flags.Int("rollback", 0, "Revert this migration version instead of migrating up")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *rollback < 0 {
			return fmt.Errorf("rollback version must be positive")
		}

		return withEnv(open, func(ctx context.Context, env *Env) error {
			if *rollback > 0 {
				if err := env.Migrator.Rollback(ctx, *rollback); err != nil {
					return err
				}
				fmt.Fprintf(out, "Rolled back migration %d\n", *rollback)
				return nil
			}

			if err := env.Migrator.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "Migrations applied")
			return nil
		})
	}
	return cmd
}
