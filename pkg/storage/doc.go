// Package storage opens the connections the permission service runs on: a
// PostgreSQL pool for the role store and a redis client for the shared
// permission cache and distributed rate limiting.
//
//	db, err := storage.OpenPostgres(ctx, cfg.Storage)
//	client, err := storage.NewRedisClient(ctx, cfg.Storage)
//
// Schema lives with its owner; see rbac.RunMigrations.
package storage
