// Package reconcile keeps a session's in-memory task graph converged with
// the authoritative store.
//
// Mutations apply locally first and persist in the background. Each one is
// tracked Pending until the store confirms or rejects it; rejections roll
// the local change back and surface through Options.OnReject. Remote-origin
// changes merge last-writer-wins per entity, with per-entity sequence
// numbers guarding against stale confirmations overwriting newer state.
package reconcile
