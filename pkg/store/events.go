package store

import (
	"context"

	"github.com/taskdeck/taskgraph/pkg/graph"
)

// EventKind identifies what changed in a scope.
type EventKind string

const (
	EventDependencyCreated EventKind = "dependency_created"
	EventDependencyDeleted EventKind = "dependency_deleted"
	EventPositionUpdated   EventKind = "position_updated"
	EventPositionCleared   EventKind = "position_cleared"
)

// originKey carries the mutating session's ID through a request context,
// so a server-side notifier can tag events with the client that caused
// them rather than with the server's own identity.
type originKey struct{}

// WithOrigin returns a context carrying the mutating session's ID.
func WithOrigin(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, originKey{}, sessionID)
}

// OriginFrom extracts the session ID from ctx, or fallback when none is
// attached.
func OriginFrom(ctx context.Context, fallback string) string {
	if id, ok := ctx.Value(originKey{}).(string); ok && id != "" {
		return id
	}
	return fallback
}

// Event describes one remote-origin change. Exactly the fields relevant to
// the kind are set: edge fields for dependency events, task fields for
// position events.
type Event struct {
	Kind    EventKind    `json:"kind"`
	ScopeID string       `json:"scope_id"`
	EdgeID  string       `json:"edge_id,omitempty"`
	From    string       `json:"from,omitempty"`
	To      string       `json:"to,omitempty"`
	TaskID  string       `json:"task_id,omitempty"`
	Pos     *graph.Point `json:"pos,omitempty"`

	// Origin identifies the session that caused the change, so a client
	// can skip echoes of its own mutations.
	Origin string `json:"origin,omitempty"`
}
