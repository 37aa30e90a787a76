package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/platinummonkey/scopeguard/pkg/auth"
	"github.com/platinummonkey/scopeguard/pkg/httputil"
	"github.com/platinummonkey/scopeguard/pkg/observability"
)

// OIDCAuthenticator authenticates requests carrying an OIDC ID token as a
// bearer token and stores the resulting principal in the request context
type OIDCAuthenticator struct {
	verifier *oidc.IDTokenVerifier
	optional bool // If true, allow requests without a token
	logger   *observability.Logger
}

// NewOIDCAuthenticator creates an authenticator around a configured verifier
func NewOIDCAuthenticator(verifier *oidc.IDTokenVerifier, optional bool, logger *observability.Logger) *OIDCAuthenticator {
	return &OIDCAuthenticator{
		verifier: verifier,
		optional: optional,
		logger:   logger,
	}
}

// NewOIDCAuthenticatorFromIssuer discovers the issuer's signing keys and
// builds an authenticator for tokens issued to clientID
func NewOIDCAuthenticatorFromIssuer(ctx context.Context, issuerURL, clientID string, optional bool, logger *observability.Logger) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC issuer %s: %w", issuerURL, err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
	return NewOIDCAuthenticator(verifier, optional, logger), nil
}

// Handler wraps an HTTP handler with authentication
func (m *OIDCAuthenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				// Anonymous; the policy layer decides
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteErrorMessage(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			httputil.WriteErrorMessage(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		principal, err := m.authenticate(r.Context(), strings.TrimSpace(parts[1]))
		if err != nil {
			m.logger.WithError(err).WithField("request_id", observability.GetRequestID(r.Context())).Debug("Rejected bearer token")
			httputil.WriteErrorMessage(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (m *OIDCAuthenticator) authenticate(ctx context.Context, rawToken string) (*auth.Principal, error) {
	token, err := m.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	claims := make(map[string]interface{})
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode token claims: %w", err)
	}

	return &auth.Principal{
		Subject: token.Subject,
		Claims:  claims,
	}, nil
}
