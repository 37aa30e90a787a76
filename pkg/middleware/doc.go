// Package middleware provides the HTTP middleware in front of the
// permission API: request ids, OIDC bearer authentication and rate limiting.
//
// # Request IDs
//
// RequestID tags every request with an X-Request-ID (reusing a valid
// incoming one) and stores a logger carrying it in the context.
//
//	router.Use(middleware.RequestID(logger))
//
// # Authentication
//
// OIDCAuthenticator verifies ID tokens sent as bearer tokens and stores an
// auth.Principal in the context:
//
//	authn, err := middleware.NewOIDCAuthenticatorFromIssuer(ctx, issuer, clientID, false, logger)
//	router.Use(authn.Handler)
//
// # Rate Limiting
//
// RateLimit accepts any Limiter. RateLimiter is an in-process token bucket;
// DistributedRateLimiter keeps a fixed window counter in redis so replicas
// share a budget. Authenticated callers are keyed by user id, anonymous
// callers by client address. Limiter errors let the request through.
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, middleware.DefaultRateLimitConfig(), "")
//	router.Use(middleware.RateLimit(limiter, nil, logger))
//
// # Related Packages
//
//   - pkg/auth: Principal and user id claims
//   - pkg/authz: Policy evaluation after authentication
package middleware
