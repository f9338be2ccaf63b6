// Package store defines the task/dependency persistence contract the
// reconcile layer talks to, plus reference backends: an in-process memory
// store for tests and development, a MongoDB-backed store (subpackage
// mongo), and a Redis pub/sub change notifier.
//
// Any networked store implementing [Store] suffices. The engine treats the
// implementation as a black box; what matters is that a backend's conflict
// decisions are semantically equivalent to the local acyclicity guard's -
// both reject self edges, duplicate (from, to) pairs, and cycle-closing
// edges, reported through pkg/errors codes so local and remote rejections
// are one tagged result.
package store

import (
	"context"

	"github.com/taskdeck/taskgraph/pkg/graph"
)

// DependencyRecord is a persisted dependency edge within a scope
// (a project or board - the partition key for one graph).
type DependencyRecord struct {
	EdgeID string `json:"edge_id" bson:"edge_id"`
	From   string `json:"from" bson:"from"`
	To     string `json:"to" bson:"to"`
}

// PositionRecord is a persisted task position within a scope.
type PositionRecord struct {
	TaskID string      `json:"task_id" bson:"task_id"`
	Pos    graph.Point `json:"pos" bson:"pos"`
}

// Store is the authoritative persistence service for dependency edges and
// task positions. Implementations must validate CreateDependency the same
// way the client-side guard does and report rejections with the matching
// pkg/errors codes (SELF_DEPENDENCY, DUPLICATE_EDGE, CYCLE_REJECTED).
//
// All methods honor context cancellation. Transient failures should be
// reported with the PERSISTENCE_FAILURE code so callers know to retry.
type Store interface {
	// ListDependencies returns every edge in the scope.
	ListDependencies(ctx context.Context, scopeID string) ([]DependencyRecord, error)

	// ListPositions returns every saved task position in the scope.
	ListPositions(ctx context.Context, scopeID string) ([]PositionRecord, error)

	// CreateDependency persists a new edge and returns its server-assigned
	// edge ID. Fails with a validation code when the pair already exists or
	// would close a cycle.
	CreateDependency(ctx context.Context, scopeID, fromTaskID, toTaskID string) (string, error)

	// DeleteDependency removes an edge by ID. Deleting an unknown edge
	// fails with NOT_FOUND; callers treat that as already-gone.
	DeleteDependency(ctx context.Context, scopeID, edgeID string) error

	// UpdateTaskPosition saves a task's position. A nil position clears
	// placement, moving the task back to the pool.
	UpdateTaskPosition(ctx context.Context, scopeID, taskID string, pos *graph.Point) error
}

// Watcher is the optional push channel for remote-origin changes. Backends
// without push support simply don't implement it; the reconcile layer then
// falls back to polling, which is the correctness path either way.
type Watcher interface {
	// Watch delivers events for the scope until ctx is cancelled.
	// The returned channel is closed when the subscription ends.
	Watch(ctx context.Context, scopeID string) (<-chan Event, error)
}
