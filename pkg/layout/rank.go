package layout

import "github.com/taskdeck/taskgraph/pkg/graph"

// assignRanks computes each task's longest-path distance from any source
// via topological traversal (Kahn's algorithm). Sources and isolated tasks
// land at rank 0; every other task sits one past its deepest prerequisite,
// so every edge points from a strictly lower rank to a strictly higher one.
//
// If the queue drains before every task is processed, some subset never
// reached zero in-degree - the edge set contains a cycle - and the
// function fails fast with ErrInvalidGraph rather than producing ranks
// that would loop downstream passes. Runs in O(V+E).
func assignRanks(snap graph.Snapshot) (map[string]int, error) {
	inDegree := make(map[string]int, len(snap.Tasks))
	children := snap.Children()
	for _, t := range snap.Tasks {
		inDegree[t.ID] = 0
	}
	for _, d := range snap.Dependencies {
		inDegree[d.To]++
	}

	queue := make([]string, 0, len(snap.Tasks))
	for _, t := range snap.Tasks {
		if inDegree[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}

	ranks := make(map[string]int, len(snap.Tasks))
	processed := 0
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		processed++

		for _, child := range children[curr] {
			if r := ranks[curr] + 1; r > ranks[child] {
				ranks[child] = r
			}
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if processed != len(snap.Tasks) {
		return nil, ErrInvalidGraph
	}
	for _, t := range snap.Tasks {
		if _, ok := ranks[t.ID]; !ok {
			ranks[t.ID] = 0
		}
	}
	return ranks, nil
}
