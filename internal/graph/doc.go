// Package graph derives typed relations between canonical items.
//
// Edges are never stored as facts of their own: every edge is recomputed from
// the current item set. A rebuild always covers a whole source system (the
// scope) and the caller diffs the result against the stored edges of that
// scope. Incremental patching is not an option because upstream deletions and
// relinks are invisible in additive payloads.
//
// Derivation runs in two passes:
//
//  1. Direct edges read from a single item's own fields (parent id,
//     container references, cross-system reference).
//  2. Two-hop edges joined from direct edges. A component belongs to a
//     product only through the features that sit under both of them.
//
// Output is sorted and deduplicated, so rebuilding an unchanged item set
// yields an identical edge list.
package graph
