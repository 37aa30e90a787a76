// Package rbac resolves the effective permissions of CRM users.
//
// # Model
//
// Tenants own roles. A role grants a Scope (None < Own < Team < All) for each
// entity type and operation pair, and may override the AccessLevel
// (Hidden < ReadOnly < Editable) of individual fields. Users hold roles
// directly through assignments, or inherit the default role of every team
// they belong to.
//
// # Resolution
//
// The Resolver collects every role id of a user in a single UNION query and
// then takes the most permissive scope across the matching permission rows:
//
//	perm, err := resolver.GetEffectivePermission(ctx, userID, rbac.EntityDeal, rbac.OperationEdit)
//	if err != nil {
//		return err // store failure; fail closed
//	}
//	if !perm.Allowed() {
//		return errForbidden
//	}
//	query = filterByScope(query, perm.Scope)
//
// Missing permission rows mean ScopeNone. Missing field overrides mean
// AccessEditable, so field restrictions are opt-in.
//
// # Caching
//
// CachedResolver stores results in a permcache.Cache for a fixed TTL and
// records every key in the user's key set. Every Manager mutation that can
// change a user's permissions calls InvalidateUserPermissions for each
// affected user after the write commits:
//
//   - role permission or field edits: all holders of the role
//   - role deletion: holders collected before the delete
//   - assignment changes: that user
//   - team membership changes: that user
//   - team default role changes: every member of the team
//
// # Templates
//
// Seeder creates the Admin, Manager, Sales Rep and Viewer roles for tenants
// without template roles and backfills missing entity/operation rows into
// existing template roles. Backfill only inserts; it never rewrites a row an
// administrator changed. Bootstrap runs both steps for every tenant with
// active users, one transaction per tenant, with bounded parallelism.
//
// # Migrations
//
//	if err := rbac.RunMigrations(ctx, db, logger); err != nil {
//		log.Fatal(err)
//	}
package rbac
