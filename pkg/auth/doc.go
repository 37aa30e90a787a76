// Package auth carries the authenticated caller through a request.
//
// A Principal is produced by the OIDC authenticator in pkg/middleware from a
// verified ID token and stored in the request context:
//
//	ctx = auth.WithPrincipal(ctx, principal)
//	principal, ok := auth.PrincipalFromContext(ctx)
//
// Permission checks need a numeric user id. UserID reads it from the first
// configured claim that holds one, falling back to the token subject for the
// "sub" claim:
//
//	userID, ok := principal.UserID("user_id", "sub")
package auth
