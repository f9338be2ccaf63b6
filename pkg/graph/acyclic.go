package graph

// Reachable reports whether a directed path exists from src to dst,
// following edges through the children adjacency function.
//
// The search is an iterative depth-first traversal that visits only the
// subgraph reachable from src, so a proposed-edge check stays proportional
// to the affected region rather than the whole graph. This is the core of
// the acyclicity guard: adding an edge from -> to is safe iff to cannot
// already reach from.
//
// The children function must return the outgoing neighbor IDs for a task,
// or nil for unknown IDs. It is shared with the store backends so the
// server-side cycle check and the local optimistic check cannot diverge.
func Reachable(src, dst string, children func(string) []string) bool {
	if src == dst {
		return true
	}
	seen := map[string]bool{src: true}
	stack := []string{src}
	for len(stack) > 0 {
		curr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range children(curr) {
			if next == dst {
				return true
			}
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// ValidateAcyclic checks that the edge set contains no directed cycle,
// using depth-first search with white/gray/black coloring. The layout
// engine runs it as a fail-fast precondition, since snapshots can come
// from files or stale remote state rather than a guard-gated store.
//
// Returns nil for an acyclic edge set. Runs in O(V+E).
func ValidateAcyclic(deps []Dependency) error {
	const (
		white = iota
		gray
		black
	)

	children := make(map[string][]string)
	for _, d := range deps {
		children[d.From] = append(children[d.From], d.To)
	}

	color := make(map[string]int, len(children))
	var hasCycle bool

	var dfs func(id string)
	dfs = func(id string) {
		color[id] = gray
		for _, child := range children[id] {
			switch color[child] {
			case white:
				dfs(child)
			case gray:
				hasCycle = true
				return
			}
			if hasCycle {
				return
			}
		}
		color[id] = black
	}

	for id := range children {
		if color[id] == white {
			dfs(id)
			if hasCycle {
				return ErrCycle
			}
		}
	}
	return nil
}
