// Package store provides SQLite-backed persistence for tessera entities.
//
// The store holds three tables:
//   - entity_values: attribute values of persisted entities, the backing
//     rows of the DB-backed source (see Fields)
//   - journal: the append-only change event log written by package journal
//   - snapshots: content-addressed entity snapshots
//
// # Values
//
// Every value is stored as RFC 8785 canonical JSON (model.MarshalCanonical).
// Refs are stored as {"$ref": "<handle>"} and are only meaningful to the
// runtime that wrote them; on read they are resolved through a
// model.Resolver, and unresolvable refs read back as null.
//
// # Ordering
//
// Journal reads are ORDER BY seq ASC; value iteration is ORDER BY position
// ASC. Neither depends on wall time.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
