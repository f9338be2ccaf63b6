package reconcile

import (
	"time"

	"github.com/taskdeck/taskgraph/pkg/graph"
)

// mutationState tracks one in-flight optimistic mutation.
// Every mutation moves Pending → Confirmed or Pending → RolledBack exactly
// once; the correlation ID ties the eventual store response back to the
// mutation it belongs to.
type mutationState int

const (
	statePending mutationState = iota
	stateConfirmed
	stateRolledBack
)

func (s mutationState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateConfirmed:
		return "confirmed"
	case stateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Operation names for hooks, logs, and rejection callbacks.
const (
	OpConnect    = "connect"
	OpDisconnect = "disconnect"
	OpPlace      = "place"
	OpUnplace    = "unplace"
)

// mutation is the per-attempt record for the optimistic-update state
// machine. seq captures the target entity's local sequence number at apply
// time: a confirmation or rejection whose seq no longer matches the
// entity's current sequence is stale and must not touch the graph.
type mutation struct {
	id       string // correlation ID (client-generated)
	op       string
	entityID string
	seq      uint64
	state    mutationState
	started  time.Time
}

// tombstone records a disconnect raced against its own edge's in-flight
// create: the local removal already happened, but the remote delete waits
// for the create to resolve so it can target the server-assigned ID.
type tombstone struct {
	m *mutation
	d graph.Dependency
}
