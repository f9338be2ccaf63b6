package layout

import (
	"slices"

	"github.com/taskdeck/taskgraph/pkg/graph"
)

// Crossing counting drives the ordering heuristic's keep-best step. Edges
// are grouped by their (rank(from), rank(to)) pair and counted as
// inversions in the target-position sequence using a Fenwick tree, the
// same O(E log V) approach used for layered dependency towers: two edges
// (u1,v1), (u2,v2) in a group cross iff pos(u1) < pos(u2) and
// pos(v1) > pos(v2).

// countAllCrossings returns the total crossing count over all rank pairs
// for the given orders.
func countAllCrossings(deps []graph.Dependency, ranks map[string]int, orders [][]string) int {
	pos := make(map[string]int)
	for _, row := range orders {
		for i, id := range row {
			pos[id] = i
		}
	}

	groups := make(map[[2]int][][2]int)
	for _, d := range deps {
		key := [2]int{ranks[d.From], ranks[d.To]}
		groups[key] = append(groups[key], [2]int{pos[d.From], pos[d.To]})
	}

	total := 0
	for key, edges := range groups {
		width := 0
		if key[1] < len(orders) {
			width = len(orders[key[1]])
		}
		total += countInversions(edges, width)
	}
	return total
}

// countInversions counts crossing pairs among edges between one rank pair.
// Edges are sorted by source position (target position breaking ties, so
// edges sharing a source never count against each other), then target
// positions are inserted into a Fenwick tree while counting how many
// already-inserted targets lie strictly to the right.
func countInversions(edges [][2]int, width int) int {
	if len(edges) < 2 {
		return 0
	}
	slices.SortFunc(edges, func(a, b [2]int) int {
		if a[0] != b[0] {
			return a[0] - b[0]
		}
		return a[1] - b[1]
	})

	ft := newFenwick(width)
	crossings := 0
	for i, e := range edges {
		crossings += i - ft.prefixSum(e[1])
		ft.add(e[1])
	}
	return crossings
}

// fenwick is a binary indexed tree over positions [0, width).
type fenwick []int

func newFenwick(width int) fenwick { return make(fenwick, width+1) }

// add increments the count at position p.
func (f fenwick) add(p int) {
	for i := p + 1; i < len(f); i += i & (-i) {
		f[i]++
	}
}

// prefixSum returns the number of recorded positions <= p.
func (f fenwick) prefixSum(p int) int {
	s := 0
	for i := p + 1; i > 0; i -= i & (-i) {
		s += f[i]
	}
	return s
}
