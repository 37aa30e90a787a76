package authz

import (
	"context"
	"net/http"

	"github.com/platinummonkey/scopeguard/pkg/audit"
	"github.com/platinummonkey/scopeguard/pkg/auth"
	"github.com/platinummonkey/scopeguard/pkg/contextkeys"
	"github.com/platinummonkey/scopeguard/pkg/httputil"
	"github.com/platinummonkey/scopeguard/pkg/observability"
	"github.com/platinummonkey/scopeguard/pkg/rbac"
)

// Middleware enforces named policies on HTTP routes
type Middleware struct {
	policies    PolicyResolver
	logger      *observability.Logger
	auditLogger audit.Logger
}

// NewMiddleware creates the enforcement middleware
func NewMiddleware(policies PolicyResolver, logger *observability.Logger, auditLogger audit.Logger) *Middleware {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	return &Middleware{
		policies:    policies,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Require rejects requests that do not satisfy the named policy.
// Missing principal is 401, denial is 403 with a body that never names the
// failing rule, and resolution failures are 500.
func (m *Middleware) Require(policyName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := observability.LoggerFrom(ctx, m.logger).WithField("policy", policyName)

			principal, ok := auth.PrincipalFromContext(ctx)
			if !ok {
				httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
				return
			}

			policy, ok := m.policies.GetPolicy(policyName)
			if !ok {
				logger.Error("Unknown authorization policy")
				m.deny(w, r, principal, policyName)
				return
			}

			if pp, ok := policy.(*PermissionPolicy); ok {
				decision, err := pp.Decide(ctx, principal)
				if err != nil {
					logger.WithError(err).Error("Permission resolution failed")
					httputil.WriteErrorMessage(w, http.StatusInternalServerError, "authorization unavailable")
					return
				}
				if !decision.Granted {
					m.deny(w, r, principal, policyName)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithScope(ctx, decision.Scope)))
				return
			}

			allowed, err := policy.Evaluate(ctx, principal)
			if err != nil {
				logger.WithError(err).Error("Policy evaluation failed")
				httputil.WriteErrorMessage(w, http.StatusInternalServerError, "authorization unavailable")
				return
			}
			if !allowed {
				m.deny(w, r, principal, policyName)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) deny(w http.ResponseWriter, r *http.Request, principal *auth.Principal, policyName string) {
	var actorID *int64
	if id, ok := principal.UserID(); ok {
		actorID = &id
	}

	event := audit.NewEvent(r.Context(), audit.EventTypeAccessDenied, audit.EventStatusDenied)
	event.ActorID = actorID
	event.ResourceType = audit.ResourceTypePermission
	event.ResourceID = policyName
	event.Method = r.Method
	event.Path = r.URL.Path
	event.Message = "access denied"
	if err := m.auditLogger.Log(r.Context(), event); err != nil {
		m.logger.WithError(err).Warn("Failed to record access denial")
	}

	httputil.WriteErrorMessage(w, http.StatusForbidden, "access denied")
}

// WithScope stores the granted scope for downstream query builders
func WithScope(ctx context.Context, scope rbac.Scope) context.Context {
	return context.WithValue(ctx, contextkeys.ScopeKey, scope)
}

// ScopeFromContext returns the scope granted by the permission policy that
// admitted the request
func ScopeFromContext(ctx context.Context) (rbac.Scope, bool) {
	scope, ok := ctx.Value(contextkeys.ScopeKey).(rbac.Scope)
	return scope, ok
}
