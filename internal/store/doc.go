// Package store provides durable, tenant-partitioned storage for the
// Reflex engine: domain configurations, derived proxies, the dependency
// graph, and the imported-event / field-operation journals.
//
// Storage is SQLite with WAL mode. Every write path is designed for
// at-least-once job delivery:
//   - event and field-operation journaling is content-addressed and
//     idempotent (ON CONFLICT DO NOTHING),
//   - proxy creation is unique per (tenant, domain, context key) and a
//     replayed create is a reported no-op,
//   - graph-node overwrite is version-gated inside a transaction, so a
//     reader observes one version in full, never a partial write.
package store
