package graph

// Placement partitioning is derived state: a task is placed iff its
// position is non-nil. Nothing here is stored separately, so pool/placed
// classification can never drift from the positions themselves.

// Placed returns the tasks that have an assigned position, sorted by ID.
func (s *Store) Placed() []Task {
	return s.partition(true)
}

// Pooled returns the tasks with no assigned position, sorted by ID.
// Pooled tasks may still have edges; they are simply excluded from the
// visible graph and from layout until placed.
func (s *Store) Pooled() []Task {
	return s.partition(false)
}

// VisibleSubgraph returns the snapshot rendered inside the graph view:
// placed tasks plus the edges whose both endpoints are placed. Edges
// touching a pooled task remain in the store but are excluded here.
func (s *Store) VisibleSubgraph() Snapshot {
	full := s.Snapshot()
	placed := make(map[string]bool, len(full.Tasks))
	out := Snapshot{}
	for _, t := range full.Tasks {
		if t.Placed() {
			placed[t.ID] = true
			out.Tasks = append(out.Tasks, t)
		}
	}
	for _, d := range full.Dependencies {
		if placed[d.From] && placed[d.To] {
			out.Dependencies = append(out.Dependencies, d)
		}
	}
	return out
}

func (s *Store) partition(placed bool) []Task {
	var out []Task
	for _, t := range s.Snapshot().Tasks {
		if t.Placed() == placed {
			out = append(out, t)
		}
	}
	return out
}
