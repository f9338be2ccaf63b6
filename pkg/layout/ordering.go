package layout

import (
	"slices"
	"sort"
	"strings"

	"github.com/taskdeck/taskgraph/pkg/graph"
)

// orderRanks produces a left-to-right order for every rank, minimizing edge
// crossings with an iterated median heuristic.
//
// The initial order within each rank is creation time, then ID - a stable,
// caller-independent tie-break. Each pass sweeps down (ordering each rank
// by the median position of its prerequisites) and back up (by dependents),
// keeping the best ordering seen so far by total crossing count. The pass
// count is fixed, so the whole phase is deterministic.
func orderRanks(snap graph.Snapshot, ranks map[string]int) [][]string {
	maxRank := 0
	for _, r := range ranks {
		maxRank = max(maxRank, r)
	}
	if len(snap.Tasks) == 0 {
		return nil
	}

	orders := make([][]string, maxRank+1)
	byID := make(map[string]graph.Task, len(snap.Tasks))
	for _, t := range snap.Tasks {
		byID[t.ID] = t
		orders[ranks[t.ID]] = append(orders[ranks[t.ID]], t.ID)
	}
	for _, row := range orders {
		slices.SortFunc(row, func(a, b string) int {
			ta, tb := byID[a], byID[b]
			if !ta.CreatedAt.Equal(tb.CreatedAt) {
				if ta.CreatedAt.Before(tb.CreatedAt) {
					return -1
				}
				return 1
			}
			return strings.Compare(a, b)
		})
	}

	parents := make(map[string][]string, len(snap.Tasks))
	children := make(map[string][]string, len(snap.Tasks))
	for _, d := range snap.Dependencies {
		parents[d.To] = append(parents[d.To], d.From)
		children[d.From] = append(children[d.From], d.To)
	}

	best := cloneOrders(orders)
	bestCrossings := countAllCrossings(snap.Dependencies, ranks, best)

	for pass := 0; pass < orderingPasses && bestCrossings > 0; pass++ {
		for r := 1; r <= maxRank; r++ {
			medianSort(orders[r], orders, ranks, parents)
		}
		for r := maxRank - 1; r >= 0; r-- {
			medianSort(orders[r], orders, ranks, children)
		}
		if c := countAllCrossings(snap.Dependencies, ranks, orders); c < bestCrossings {
			bestCrossings = c
			best = cloneOrders(orders)
		}
	}
	return best
}

// medianSort reorders row in place by the median position of each node's
// neighbors. Nodes without neighbors keep their current relative position
// as the sort key, and the sort is stable, so ties never reshuffle.
func medianSort(row []string, orders [][]string, ranks map[string]int, neighbors map[string][]string) {
	if len(row) < 2 {
		return
	}
	pos := make(map[string]int)
	for _, other := range orders {
		for i, id := range other {
			pos[id] = i
		}
	}

	keys := make(map[string]float64, len(row))
	for i, id := range row {
		keys[id] = medianPosition(neighbors[id], pos, float64(i))
	}
	sort.SliceStable(row, func(i, j int) bool {
		return keys[row[i]] < keys[row[j]]
	})
}

// medianPosition returns the median in-rank position of the given neighbor
// IDs, or fallback when there are none. For an even count the two middle
// values are averaged, which keeps keys comparable across odd and even
// degrees.
func medianPosition(ids []string, pos map[string]int, fallback float64) float64 {
	if len(ids) == 0 {
		return fallback
	}
	ps := make([]int, 0, len(ids))
	for _, id := range ids {
		ps = append(ps, pos[id])
	}
	slices.Sort(ps)
	mid := len(ps) / 2
	if len(ps)%2 == 1 {
		return float64(ps[mid])
	}
	return float64(ps[mid-1]+ps[mid]) / 2
}

func cloneOrders(orders [][]string) [][]string {
	out := make([][]string, len(orders))
	for i, row := range orders {
		out[i] = slices.Clone(row)
	}
	return out
}
