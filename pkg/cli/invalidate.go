package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

func newInvalidateCommand(open Opener, out io.Writer) *Command {
	cmd := &Command{
		Name:        "invalidate",
		Description: "Drop cached permissions for users",
		Flags:       newFlagSet("invalidate", out),
	}
	users := cmd.Flags.String("users", "", "Comma separated user ids")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		ids, err := parseUserIDs(*users)
		if err != nil {
			return err
		}

		return withEnv(open, func(ctx context.Context, env *Env) error {
			if env.Cache == nil {
				return fmt.Errorf("invalidate requires the redis cache backend")
			}

			for _, id := range ids {
				n, err := env.Cache.InvalidateUser(ctx, id)
				if err != nil {
					return fmt.Errorf("failed to invalidate user %d: %w", id, err)
				}
				fmt.Fprintf(out, "User %d: %d cached entries removed\n", id, n)
			}
			return nil
		})
	}
	return cmd
}

func parseUserIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid user id %q", part)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one user id is required")
	}
	return ids, nil
}
