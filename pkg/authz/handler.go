package authz

import (
	"context"
	"fmt"

	"github.com/platinummonkey/scopeguard/pkg/auth"
	"github.com/platinummonkey/scopeguard/pkg/observability"
	"github.com/platinummonkey/scopeguard/pkg/rbac"
)

// Decision is the outcome of evaluating a requirement
type Decision struct {
	Granted bool
	UserID  int64
	// Scope is the effective scope; downstream queries filter rows by it
	Scope rbac.Scope
}

// DecisionHandler grants a requirement when the caller's effective scope is
// anything other than None. It does not distinguish Own, Team and All.
type DecisionHandler struct {
	resolver     rbac.PermissionResolver
	userIDClaims []string
	metrics      *observability.Metrics
}

// NewDecisionHandler creates a handler. userIDClaims may be empty to use
// auth.DefaultUserIDClaims; metrics may be nil.
func NewDecisionHandler(resolver rbac.PermissionResolver, userIDClaims []string, metrics *observability.Metrics) *DecisionHandler {
	return &DecisionHandler{
		resolver:     resolver,
		userIDClaims: userIDClaims,
		metrics:      metrics,
	}
}

// Handle reports whether the requirement is met. A principal without a
// usable user id is denied without error; only resolver failures return one.
func (h *DecisionHandler) Handle(ctx context.Context, principal *auth.Principal, req Requirement) (bool, error) {
	decision, err := h.Decide(ctx, principal, req)
	if err != nil {
		return false, err
	}
	return decision.Granted, nil
}

// Decide evaluates the requirement and returns the resolved scope
func (h *DecisionHandler) Decide(ctx context.Context, principal *auth.Principal, req Requirement) (Decision, error) {
	userID, ok := principal.UserID(h.userIDClaims...)
	if !ok {
		h.count("unresolved_user")
		return Decision{}, nil
	}

	perm, err := h.resolver.GetEffectivePermission(ctx, userID, req.EntityType, req.Operation)
	if err != nil {
		h.count("error")
		return Decision{UserID: userID}, fmt.Errorf("failed to evaluate %s: %w", req.PolicyName(), err)
	}

	decision := Decision{
		Granted: perm.Allowed(),
		UserID:  userID,
		Scope:   perm.Scope,
	}
	if decision.Granted {
		h.count("granted")
	} else {
		h.count("denied")
	}
	return decision, nil
}

func (h *DecisionHandler) count(outcome string) {
	if h.metrics != nil {
		h.metrics.AuthorizationDecisions.WithLabelValues(outcome).Inc()
	}
}
