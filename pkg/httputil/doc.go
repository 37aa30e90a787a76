// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, role)
//	httputil.WriteErrorMessage(w, http.StatusForbidden, "access denied")
//
// 500 responses never carry the underlying error text.
//
// # Request Parsing
//
// Bodies are decoded strictly and validated with go-playground/validator
// struct tags:
//
//	var req struct {
//		Name string `json:"name" validate:"required,max=255"`
//	}
//	if !httputil.DecodeAndValidate(w, r, &req) {
//		return // 400 already written
//	}
//
// Path parameters:
//
//	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil
