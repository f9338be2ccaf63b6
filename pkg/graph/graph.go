package graph

import (
	"errors"
	"slices"
	"strings"
)

var (
	// ErrInvalidTaskID is returned by [Store.UpsertTask] when the task ID is
	// empty. The store never fabricates identifiers.
	ErrInvalidTaskID = errors.New("task ID must not be empty")

	// ErrUnknownTask is returned when an operation references a task that is
	// not present in the store.
	ErrUnknownTask = errors.New("unknown task")

	// ErrUnknownEdge is returned when an operation references a dependency
	// edge that is not present in the store.
	ErrUnknownEdge = errors.New("unknown dependency edge")

	// ErrInvalidEdgeID is returned by [Store.AddDependency] when the edge ID
	// is empty.
	ErrInvalidEdgeID = errors.New("edge ID must not be empty")

	// ErrDuplicateEdgeID is returned by [Store.AddDependency] when an edge
	// with the same ID already exists.
	ErrDuplicateEdgeID = errors.New("duplicate edge ID")

	// ErrSelfDependency is returned when a proposed edge has identical
	// endpoints. Rejected before any reachability work.
	ErrSelfDependency = errors.New("task cannot depend on itself")

	// ErrDuplicateEdge is returned when an edge with the same (From, To)
	// pair already exists.
	ErrDuplicateEdge = errors.New("dependency already exists")

	// ErrCycle is returned when a proposed edge would close a directed
	// cycle. The store is left unchanged.
	ErrCycle = errors.New("dependency would create a cycle")
)

// Store is the in-memory representation of the dependency graph for one
// session. It exposes mutation primitives gated by the acyclicity guard and
// never performs I/O - persistence is the reconcile package's concern.
//
// The zero value is not usable - use NewStore.
type Store struct {
	tasks    map[string]*Task
	edges    map[string]Dependency // edge ID -> edge
	pairs    map[[2]string]string  // (from, to) -> edge ID
	outgoing map[string][]string   // task ID -> dependent task IDs
}

// NewStore creates an empty graph store.
func NewStore() *Store {
	return &Store{
		tasks:    make(map[string]*Task),
		edges:    make(map[string]Dependency),
		pairs:    make(map[[2]string]string),
		outgoing: make(map[string][]string),
	}
}

// UpsertTask inserts a task or replaces an existing task's payload and
// position. Returns ErrInvalidTaskID if the ID is empty. Edges touching an
// existing task are unaffected.
func (s *Store) UpsertTask(t Task) error {
	if t.ID == "" {
		return ErrInvalidTaskID
	}
	t.Payload = copyPayload(t.Payload)
	t.Pos = copyPoint(t.Pos)
	s.tasks[t.ID] = &t
	return nil
}

// RemoveTask removes the task and cascades removal of every edge touching
// it. Returns ErrUnknownTask if the task is not present.
func (s *Store) RemoveTask(id string) error {
	if _, ok := s.tasks[id]; !ok {
		return ErrUnknownTask
	}
	for _, e := range s.EdgesTouching(id) {
		s.removeEdge(e)
	}
	delete(s.tasks, id)
	return nil
}

// Task returns a copy of the task with the given ID and true, or a zero
// Task and false if not found. Mutating the copy does not affect the store.
func (s *Store) Task(id string) (Task, bool) {
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	out := *t
	out.Payload = copyPayload(t.Payload)
	out.Pos = copyPoint(t.Pos)
	return out, true
}

// AddDependency inserts an edge only if the acyclicity guard approves.
//
// Returns ErrInvalidEdgeID or ErrDuplicateEdgeID for malformed identity,
// ErrUnknownTask if either endpoint is missing, and the guard's rejection
// (ErrSelfDependency, ErrDuplicateEdge, ErrCycle) otherwise. On any error
// the store is left unchanged.
func (s *Store) AddDependency(d Dependency) error {
	if d.ID == "" {
		return ErrInvalidEdgeID
	}
	if _, exists := s.edges[d.ID]; exists {
		return ErrDuplicateEdgeID
	}
	if _, ok := s.tasks[d.From]; !ok {
		return ErrUnknownTask
	}
	if _, ok := s.tasks[d.To]; !ok {
		return ErrUnknownTask
	}
	if err := s.CanAdd(d.From, d.To); err != nil {
		return err
	}
	s.edges[d.ID] = d
	s.pairs[[2]string{d.From, d.To}] = d.ID
	s.outgoing[d.From] = append(s.outgoing[d.From], d.To)
	return nil
}

// CanAdd reports whether an edge from -> to would be accepted, without
// mutating the store. This is the client-side mirror of the persistence
// service's own validation - the two must agree.
func (s *Store) CanAdd(from, to string) error {
	if from == to {
		return ErrSelfDependency
	}
	if _, dup := s.pairs[[2]string{from, to}]; dup {
		return ErrDuplicateEdge
	}
	if Reachable(to, from, s.Children) {
		return ErrCycle
	}
	return nil
}

// RemoveDependency removes the edge with the given ID. Removal only shrinks
// the graph, so it cannot violate acyclicity. Returns ErrUnknownEdge if the
// edge is not present.
func (s *Store) RemoveDependency(id string) error {
	d, ok := s.edges[id]
	if !ok {
		return ErrUnknownEdge
	}
	s.removeEdge(d)
	return nil
}

// ReplaceDependencyID renames an edge, keeping its endpoints. Used by the
// reconcile layer to back-fill server-assigned IDs over client-generated
// ones. Returns ErrUnknownEdge if oldID is not present or
// ErrDuplicateEdgeID if newID is already in use.
func (s *Store) ReplaceDependencyID(oldID, newID string) error {
	if newID == "" {
		return ErrInvalidEdgeID
	}
	d, ok := s.edges[oldID]
	if !ok {
		return ErrUnknownEdge
	}
	if _, exists := s.edges[newID]; exists && newID != oldID {
		return ErrDuplicateEdgeID
	}
	delete(s.edges, oldID)
	d.ID = newID
	s.edges[newID] = d
	s.pairs[[2]string{d.From, d.To}] = newID
	return nil
}

// Dependency returns the edge with the given ID and true, or a zero edge
// and false if not found.
func (s *Store) Dependency(id string) (Dependency, bool) {
	d, ok := s.edges[id]
	return d, ok
}

// DependencyBetween returns the edge connecting from -> to and true, or a
// zero edge and false if no such edge exists.
func (s *Store) DependencyBetween(from, to string) (Dependency, bool) {
	id, ok := s.pairs[[2]string{from, to}]
	if !ok {
		return Dependency{}, false
	}
	return s.edges[id], true
}

// EdgesTouching returns every edge with the given task as either endpoint.
func (s *Store) EdgesTouching(id string) []Dependency {
	var out []Dependency
	for _, d := range s.edges {
		if d.From == id || d.To == id {
			out = append(out, d)
		}
	}
	return out
}

// Children returns the IDs of tasks that depend on this task.
// The returned slice is a read-only view - callers must not modify it.
func (s *Store) Children(id string) []string { return s.outgoing[id] }

// TaskCount returns the number of tasks in the store.
func (s *Store) TaskCount() int { return len(s.tasks) }

// EdgeCount returns the number of dependency edges in the store.
func (s *Store) EdgeCount() int { return len(s.edges) }

// SetPosition assigns a position to the task, transitioning it from pool to
// placed if it had none. Returns ErrUnknownTask if the task is not present.
func (s *Store) SetPosition(id string, p Point) error {
	t, ok := s.tasks[id]
	if !ok {
		return ErrUnknownTask
	}
	t.Pos = &p
	return nil
}

// ClearPosition removes the task's position, moving it back to the pool.
// Edges touching the task are not deleted - a pooled task with edges is
// simply excluded from the visible graph until placed again.
// Returns ErrUnknownTask if the task is not present.
func (s *Store) ClearPosition(id string) error {
	t, ok := s.tasks[id]
	if !ok {
		return ErrUnknownTask
	}
	t.Pos = nil
	return nil
}

// Snapshot returns an immutable copy of all tasks and edges. Tasks are
// sorted by ID and edges by ID for deterministic output.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Tasks:        make([]Task, 0, len(s.tasks)),
		Dependencies: make([]Dependency, 0, len(s.edges)),
	}
	for _, t := range s.tasks {
		c := *t
		c.Payload = copyPayload(t.Payload)
		c.Pos = copyPoint(t.Pos)
		snap.Tasks = append(snap.Tasks, c)
	}
	for _, d := range s.edges {
		snap.Dependencies = append(snap.Dependencies, d)
	}
	slices.SortFunc(snap.Tasks, func(a, b Task) int {
		return strings.Compare(a.ID, b.ID)
	})
	slices.SortFunc(snap.Dependencies, func(a, b Dependency) int {
		return strings.Compare(a.ID, b.ID)
	})
	return snap
}

func (s *Store) removeEdge(d Dependency) {
	delete(s.edges, d.ID)
	delete(s.pairs, [2]string{d.From, d.To})
	s.outgoing[d.From] = slices.DeleteFunc(s.outgoing[d.From], func(id string) bool { return id == d.To })
}
