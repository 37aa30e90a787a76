// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here so their
// producers and consumers are discoverable in one place.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/scopeguard/pkg/contextkeys"
//	ctx = context.WithValue(ctx, contextkeys.PrincipalKey, principal)
//	principal, _ := ctx.Value(contextkeys.PrincipalKey).(*auth.Principal)
package contextkeys

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *auth.Principal
	// Set by: middleware.OIDCAuthenticator (pkg/middleware/auth.go)
	// Required by: authz.Middleware, permission read endpoints
	// Type: *auth.Principal
	PrincipalKey Key = "principal"

	// ScopeKey contains the rbac.Scope granted for the current request
	// Set by: authz.Middleware.WithScope (pkg/authz/middleware.go)
	// Used by: downstream query builders filtering rows by ownership
	// Type: rbac.Scope
	ScopeKey Key = "permission_scope"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: Logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: middleware.RequestID
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)
