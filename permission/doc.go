// Package permission resolves and caches effective permissions for RBAC
// authorization checks.
//
// Permission codes take the form "module:action" ("inventory:read").
// Grants may carry two wildcard shapes: "module:*" covers every action in
// a module, and "*:*" covers everything. [Resolver.Check] tests exact
// match first, then the module wildcard, then the global wildcard.
//
// Resolved permission sets are cached per user with a short TTL. Every
// role or assignment mutation made through [Manager] invalidates the
// affected entries; [Broadcaster] extends invalidation across processes
// over Redis pub/sub.
package permission
