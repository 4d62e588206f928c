// Package graph holds the in-memory provenance model: nodes, link rules,
// the incremental topological index that keeps the provenance and call
// subgraphs acyclic, and the traversal that computes deletion closures.
//
// Nothing here touches the database. The store package persists nodes and
// links and drives the index; graph only decides what is allowed.
package graph
