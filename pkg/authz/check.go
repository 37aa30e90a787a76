package authz

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/scopeguard/pkg/auth"
	"github.com/platinummonkey/scopeguard/pkg/httputil"
	"github.com/platinummonkey/scopeguard/pkg/observability"
	"github.com/platinummonkey/scopeguard/pkg/rbac"
)

type checkResponse struct {
	Policy  string      `json:"policy"`
	Allowed bool        `json:"allowed"`
	Scope   *rbac.Scope `json:"scope,omitempty"`
}

// RegisterCheckRoute exposes GET /authorize/{policy} so callers outside the
// process can ask for a decision without being blocked by it
func (m *Middleware) RegisterCheckRoute(router *mux.Router) {
	router.HandleFunc("/authorize/{policy}", m.Check).Methods("GET")
}

// Check evaluates the policy named in the path for the caller and reports the
// outcome with 200. Unknown policies report allowed=false. Resolution
// failures are 500, as with Require.
func (m *Middleware) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := mux.Vars(r)["policy"]

	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}

	resp := checkResponse{Policy: name}
	policy, ok := m.policies.GetPolicy(name)
	if !ok {
		_ = httputil.WriteSuccess(w, resp)
		return
	}

	logger := observability.LoggerFrom(ctx, m.logger).WithField("policy", name)
	if pp, ok := policy.(*PermissionPolicy); ok {
		decision, err := pp.Decide(ctx, principal)
		if err != nil {
			logger.WithError(err).Error("Permission resolution failed")
			httputil.WriteErrorMessage(w, http.StatusInternalServerError, "authorization unavailable")
			return
		}
		resp.Allowed = decision.Granted
		resp.Scope = &decision.Scope
		_ = httputil.WriteSuccess(w, resp)
		return
	}

	allowed, err := policy.Evaluate(ctx, principal)
	if err != nil {
		logger.WithError(err).Error("Policy evaluation failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "authorization unavailable")
		return
	}
	resp.Allowed = allowed
	_ = httputil.WriteSuccess(w, resp)
}
