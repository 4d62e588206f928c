// Package queryir is the declarative query form for the provenance graph.
//
// A Path is an ordered list of vertices. Each vertex selects one entity
// table (node, group, comment, computer, user), optionally narrows node
// vertices by node type and subtype prefix, and joins to an earlier vertex
// through a Relation (input_of, ancestor_of, member_of, ...) or a signed
// distance. Filters are a sealed Predicate tree (And, Or, Not, Compare)
// over columns and JSON paths into attributes and extras.
//
// Resolve validates a path and makes everything implicit explicit: auto
// tags ("data", "data_1", "calculation", "group"), join indices, parsed
// projections, and the default projection. When no vertex projects
// anything, DefaultProjection ("*") is projected on the last vertex only
// and Resolved.DefaultProjectionApplied is set.
//
// The SQL backend lives in package querysql.
package queryir
