// Package cli implements scopeguard-admin, the operator command line.
//
// Commands work directly against the database and, for invalidate, the
// shared redis permission cache:
//
//	scopeguard-admin migrate [-rollback VERSION]
//	scopeguard-admin seed [-tenant ID]
//	scopeguard-admin backfill [-tenant ID]
//	scopeguard-admin resolve -user ID [-entity TYPE (-operation OP | -field NAME)]
//	scopeguard-admin invalidate -users ID[,ID...]
//
// seed and backfill without -tenant run the cross-tenant bootstrap and print
// its report as JSON. resolve bypasses the cache, so it shows what the next
// cache miss will compute. Connection settings come from the service
// configuration (SCOPEGUARD_CONFIG_FILE and SCOPEGUARD_* variables).
package cli
