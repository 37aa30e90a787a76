package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/platinummonkey/scopeguard/pkg/rbac"
)

func newResolveCommand(open Opener, out io.Writer) *Command {
	cmd := &Command{
		Name:        "resolve",
		Description: "Resolve a user's effective permissions from the database",
		Flags:       newFlagSet("resolve", out),
	}
	user := cmd.Flags.Int64("user", 0, "User id")
	entity := cmd.Flags.String("entity", "", "Entity type (with -operation or -field)")
	operation := cmd.Flags.String("operation", "", "Operation to resolve")
	field := cmd.Flags.String("field", "", "Field name to resolve the access level for")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *user <= 0 {
			return fmt.Errorf("user is required")
		}
		if *operation != "" && *field != "" {
			return fmt.Errorf("operation and field are mutually exclusive")
		}

		var entityType rbac.EntityType
		if *operation != "" || *field != "" {
			var err error
			if entityType, err = rbac.ParseEntityType(*entity); err != nil {
				return err
			}
		}

		var op rbac.Operation
		if *operation != "" {
			var err error
			if op, err = rbac.ParseOperation(*operation); err != nil {
				return err
			}
		}

		return withEnv(open, func(ctx context.Context, env *Env) error {
			var result interface{}
			switch {
			case op != "":
				perm, err := env.Resolver.GetEffectivePermission(ctx, *user, entityType, op)
				if err != nil {
					return err
				}
				result = perm
			case *field != "":
				level, err := env.Resolver.GetFieldAccessLevel(ctx, *user, entityType, *field)
				if err != nil {
					return err
				}
				result = map[string]interface{}{
					"entity_type":  entityType,
					"field_name":   *field,
					"access_level": level,
				}
			default:
				perms, err := env.Resolver.GetAllPermissions(ctx, *user)
				if err != nil {
					return err
				}
				result = rbac.NewPermissionMatrix(perms)
			}

			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		})
	}
	return cmd
}
