package graph

import "time"

// Payload stores arbitrary key-value pairs attached to a task (status, title,
// assignee, and whatever else the product layer carries). The engine treats
// it as opaque and never inspects individual keys.
type Payload map[string]any

// Point is a 2D position in layout coordinates.
type Point struct {
	X float64 `json:"x" bson:"x"`
	Y float64 `json:"y" bson:"y"`
}

// Task represents a vertex in the dependency graph.
//
// ID is an opaque identifier supplied by the task backend and stable across
// sessions. CreatedAt is used as a deterministic tie-break when ordering
// nodes that are otherwise equivalent during layout. Pos is nil for pooled
// (unplaced) tasks.
//
// The zero value is not usable - ID must be set before adding to a Store.
type Task struct {
	ID        string    `json:"id" bson:"id"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	Pos       *Point    `json:"pos,omitempty" bson:"pos,omitempty"`
	Payload   Payload   `json:"payload,omitempty" bson:"payload,omitempty"`
}

// Placed reports whether the task has an assigned position.
// Placement is derived from position presence only - a pooled task may still
// have edges, and a placed task may have none.
func (t Task) Placed() bool { return t.Pos != nil }

// Dependency is a directed edge meaning "To cannot start until From
// completes". From is the prerequisite, To the dependent.
//
// The edge ID is independent of its endpoints so the UI layer keeps
// referential identity when an edge is replaced. Endpoints are immutable -
// to move a dependency, delete it and create a new one.
type Dependency struct {
	ID   string `json:"id" bson:"id"`
	From string `json:"from" bson:"from"`
	To   string `json:"to" bson:"to"`
}

// Snapshot is an immutable view of the store's tasks and edges, used as the
// input to layout computation and as the JSON serialization format for
// API payloads and offline tooling. Tasks and edges are both sorted by ID
// for deterministic output.
//
// Callers must not mutate a snapshot they did not build themselves.
type Snapshot struct {
	Tasks        []Task       `json:"tasks" bson:"tasks"`
	Dependencies []Dependency `json:"dependencies" bson:"dependencies"`
}

// Task returns the snapshot task with the given ID and true, or a zero Task
// and false if not present.
func (s Snapshot) Task(id string) (Task, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// Children returns a from-ID -> to-IDs adjacency map over the snapshot's
// edges. The map is rebuilt on each call.
func (s Snapshot) Children() map[string][]string {
	m := make(map[string][]string, len(s.Tasks))
	for _, d := range s.Dependencies {
		m[d.From] = append(m[d.From], d.To)
	}
	return m
}

func copyPayload(p Payload) Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func copyPoint(p *Point) *Point {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
