// Package audit records who changed roles, assignments and teams, and which
// requests were denied by the permission layer.
//
// # Backends
//
// StructuredLogger writes events as JSON log lines through the service
// logger. DBLogger persists them in the audit_logs table. MultiLogger fans
// out to several backends.
//
// # Usage Example
//
//	auditLogger.LogDataMutation(ctx, audit.EventTypeRoleAssign, &actorID,
//		audit.ResourceTypeUser, "42", nil, "assigned role 7")
//
// Denials never include the rule that caused them in the response, but the
// audit event carries the policy name for investigators.
package audit
