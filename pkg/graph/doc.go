// Package graph implements the in-memory task dependency graph: tasks,
// "depends-on" edges, and the invariants that keep the edge set a DAG.
//
// The [Store] is the engine's single source of truth for a session. It owns
// the task and edge collections, gates every edge insertion through a
// reachability check so no mutation can introduce a directed cycle, and
// derives placement (placed vs pooled) purely from position presence.
//
// # Invariants
//
// Three invariants hold after every successful mutation:
//
//   - No edge connects a task to itself.
//   - No two edges share the same (From, To) pair.
//   - The edge set, viewed as a directed graph over task IDs, is acyclic.
//
// A rejected mutation leaves the store unchanged.
//
// # Concurrency
//
// Store is not safe for concurrent use without external synchronization.
// The reconcile package wraps it behind a single mutex per session.
package graph
