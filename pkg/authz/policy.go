package authz

import (
	"context"
	"strings"

	"github.com/platinummonkey/scopeguard/pkg/auth"
	"github.com/platinummonkey/scopeguard/pkg/rbac"
)

// PermissionPolicyPrefix marks policy names resolved into permission requirements
const PermissionPolicyPrefix = "Permission:"

// Requirement asks whether the caller may perform Operation on EntityType
type Requirement struct {
	EntityType rbac.EntityType
	Operation  rbac.Operation
}

// PolicyName renders the requirement as "Permission:<Entity>:<Operation>"
func (r Requirement) PolicyName() string {
	return PermissionPolicyPrefix + string(r.EntityType) + ":" + string(r.Operation)
}

// ParsePolicyName parses "Permission:<Entity>:<Operation>". ok is false for
// any other shape, which callers treat as "not a permission policy".
// Segments are not checked against known entity types; unknown ones simply
// resolve to no access.
func ParsePolicyName(name string) (Requirement, bool) {
	rest, found := strings.CutPrefix(name, PermissionPolicyPrefix)
	if !found {
		return Requirement{}, false
	}

	parts := strings.Split(rest, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Requirement{}, false
	}

	return Requirement{
		EntityType: rbac.EntityType(parts[0]),
		Operation:  rbac.Operation(parts[1]),
	}, true
}

// Policy decides whether a principal may proceed
type Policy interface {
	Evaluate(ctx context.Context, principal *auth.Principal) (bool, error)
}

// PolicyFunc adapts a function to Policy
type PolicyFunc func(ctx context.Context, principal *auth.Principal) (bool, error)

// Evaluate calls f
func (f PolicyFunc) Evaluate(ctx context.Context, principal *auth.Principal) (bool, error) {
	return f(ctx, principal)
}

// PolicyResolver looks policies up by name
type PolicyResolver interface {
	GetPolicy(name string) (Policy, bool)
}

// StaticPolicies is a fixed registry of named policies
type StaticPolicies map[string]Policy

// GetPolicy returns the registered policy
func (s StaticPolicies) GetPolicy(name string) (Policy, bool) {
	p, ok := s[name]
	return p, ok
}

// Authenticated allows any principal
var Authenticated Policy = PolicyFunc(func(ctx context.Context, principal *auth.Principal) (bool, error) {
	return principal != nil, nil
})

// ClaimPolicy allows principals whose Claim equals, or is a list containing,
// one of Values
type ClaimPolicy struct {
	Claim  string
	Values []string
}

// Evaluate checks the claim
func (c ClaimPolicy) Evaluate(ctx context.Context, principal *auth.Principal) (bool, error) {
	if principal == nil {
		return false, nil
	}

	switch v := principal.Claims[c.Claim].(type) {
	case string:
		return c.matches(v), nil
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && c.matches(s) {
				return true, nil
			}
		}
	case []string:
		for _, s := range v {
			if c.matches(s) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (c ClaimPolicy) matches(s string) bool {
	for _, want := range c.Values {
		if s == want {
			return true
		}
	}
	return false
}

// PermissionPolicy evaluates a parsed permission requirement
type PermissionPolicy struct {
	Requirement Requirement
	handler     *DecisionHandler
}

// Evaluate grants when the caller's effective scope is not None
func (p *PermissionPolicy) Evaluate(ctx context.Context, principal *auth.Principal) (bool, error) {
	return p.handler.Handle(ctx, principal, p.Requirement)
}

// Decide returns the full decision including the granted scope
func (p *PermissionPolicy) Decide(ctx context.Context, principal *auth.Principal) (Decision, error) {
	return p.handler.Decide(ctx, principal, p.Requirement)
}

// PolicyProvider builds permission policies on demand from their names and
// delegates every other name to a fallback resolver
type PolicyProvider struct {
	handler  *DecisionHandler
	fallback PolicyResolver
}

// NewPolicyProvider creates a provider. fallback may be nil.
func NewPolicyProvider(handler *DecisionHandler, fallback PolicyResolver) *PolicyProvider {
	return &PolicyProvider{handler: handler, fallback: fallback}
}

// GetPolicy resolves name
func (p *PolicyProvider) GetPolicy(name string) (Policy, bool) {
	if req, ok := ParsePolicyName(name); ok {
		return &PermissionPolicy{Requirement: req, handler: p.handler}, true
	}
	if p.fallback == nil {
		return nil, false
	}
	return p.fallback.GetPolicy(name)
}
