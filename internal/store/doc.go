// Package store provides SQLite-backed durable storage for the provenance graph.
//
// The store holds:
//   - Nodes: data, calculation and workflow records with JSON attributes and extras
//   - Links: typed, labeled edges between nodes
//   - Groups, comments, users and computers
//   - Repository manifests: per-node file paths pointing into a
//     content-addressed object store (package repository)
//
// # Storage Rules
//
// Node attributes freeze on store. Process nodes keep a small set of
// updatable attributes until they are sealed; extras stay writable.
// Flushes merge dirty keys into the stored JSON with json_set/json_remove
// so writers of different keys never clobber each other.
//
// The INPUT_CALC/CREATE subgraph and the CALL subgraph are kept acyclic by
// two incremental topological indices (graph.TopoIndex) that are rebuilt
// on Open and updated inside write transactions. Rollback hooks undo index
// changes; commit hooks publish pks and clear dirty flags.
//
// # Deterministic Query Results
//
// Every query compiled by package querysql ends in ORDER BY on vertex and
// link ids so paging and repeated runs return identical results.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - case_sensitive_like=ON: like is exact, ilike lowers both sides
//
// Node hashes and object keys are computed by functions in internal/ir/hash.go
// using RFC 8785 canonical JSON and SHA-256 with domain separation.
package store
