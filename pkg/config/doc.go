// Package config loads service configuration from defaults, an optional
// YAML file and SCOPEGUARD_* environment variables, in that order.
//
// # Configuration Structure
//
// Server settings:
//
//	SCOPEGUARD_HOST="0.0.0.0"
//	SCOPEGUARD_PORT="8080"
//	SCOPEGUARD_HEALTH_PORT="9090"
//	SCOPEGUARD_READ_TIMEOUT="15s"
//
// Storage settings:
//
//	SCOPEGUARD_POSTGRES_URL="postgres://localhost/scopeguard"
//	SCOPEGUARD_POSTGRES_MAX_CONNS="20"
//	SCOPEGUARD_REDIS_URL="redis://localhost:6379/0"
//
// Permission cache and seeding:
//
//	SCOPEGUARD_CACHE_BACKEND="redis"  # memory, redis
//	SCOPEGUARD_CACHE_TTL="5m"
//	SCOPEGUARD_SEED_ON_STARTUP="true"
//	SCOPEGUARD_BACKFILL_SCHEDULE="0 * * * *"
//
// Authentication:
//
//	SCOPEGUARD_OIDC_ISSUER_URL="https://login.example.com"
//	SCOPEGUARD_OIDC_CLIENT_ID="scopeguard"
//	SCOPEGUARD_ADMIN_CLAIM="roles"
//	SCOPEGUARD_ADMIN_VALUES="rbac-admin"
//
// Observability settings:
//
//	SCOPEGUARD_LOG_LEVEL="info"  # debug, info, warn, error
//	SCOPEGUARD_OTEL_ENABLED="true"
//	SCOPEGUARD_OTEL_ENDPOINT="otel-collector:4317"
//
// The same keys can be set in the file named by SCOPEGUARD_CONFIG_FILE,
// using the yaml tags on Config. Environment variables win.
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/observability: Uses observability configuration
package config
