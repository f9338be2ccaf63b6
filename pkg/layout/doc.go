// Package layout computes deterministic 2D coordinates for a task
// dependency graph using a layered (Sugiyama-style) algorithm.
//
// # Pipeline
//
// Layout runs in three stages:
//
//  1. Ranking: every task gets an integer rank equal to its longest-path
//     distance from a source, via topological traversal. Every edge points
//     from a strictly lower rank to a strictly higher one.
//  2. Ordering: tasks sharing a rank are ordered to reduce edge crossings
//     using an iterated median heuristic with a fixed pass count. Ties fall
//     back to creation time, then ID. Optimal crossing minimization is
//     NP-hard and out of scope.
//  3. Coordinates: rank maps to the primary axis (rank spacing), in-rank
//     order to the secondary axis (node spacing), with a fixed margin. The
//     axis projection is configurable in four directions.
//
// # Determinism
//
// Identical (snapshot, config) input always produces identical output, so
// re-layout is idempotent and testable. The input graph is expected to be
// acyclic by construction; a cyclic snapshot fails fast with
// [ErrInvalidGraph] instead of looping.
package layout
