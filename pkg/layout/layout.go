package layout

import (
	"errors"
	"fmt"

	"github.com/taskdeck/taskgraph/pkg/graph"
)

// ErrInvalidGraph is returned when layout is invoked on a snapshot that
// contains a directed cycle. The store's guard makes this unreachable in
// normal operation; hitting it means local state went stale against a
// concurrent remote change, and the caller should keep its previous
// known-good positions.
var ErrInvalidGraph = errors.New("graph contains a cycle")

// Layout directions: which way ranks grow on screen.
const (
	DirectionTB = "tb" // ranks grow top to bottom (default)
	DirectionBT = "bt" // ranks grow bottom to top
	DirectionLR = "lr" // ranks grow left to right
	DirectionRL = "rl" // ranks grow right to left
)

// Defaults applied by Config.Validate for unset options.
const (
	DefaultNodeSpacing = 160.0 // gap between slots within a rank
	DefaultRankSpacing = 120.0 // gap between consecutive ranks

	// margin is the fixed padding around the whole layout.
	margin = 40.0

	// nodeExtent is the fixed size a node occupies along the primary axis.
	nodeExtent = 48.0

	// orderingPasses bounds the median heuristic. Four alternating sweeps
	// is enough for graphs of a few hundred nodes; beyond that the gain
	// per pass drops off sharply.
	orderingPasses = 4
)

var validDirections = map[string]bool{
	DirectionTB: true,
	DirectionBT: true,
	DirectionLR: true,
	DirectionRL: true,
}

// Config controls coordinate assignment. The zero value is usable:
// Validate fills in defaults.
type Config struct {
	Direction   string  `json:"direction,omitempty" toml:"direction"`
	NodeSpacing float64 `json:"node_spacing,omitempty" toml:"node_spacing"`
	RankSpacing float64 `json:"rank_spacing,omitempty" toml:"rank_spacing"`
}

// Validate applies defaults for unset fields and rejects invalid values:
// unknown directions and non-positive spacings.
func (c *Config) Validate() error {
	if c.Direction == "" {
		c.Direction = DirectionTB
	}
	if !validDirections[c.Direction] {
		return fmt.Errorf("invalid direction: %q (must be one of: tb, bt, lr, rl)", c.Direction)
	}
	if c.NodeSpacing == 0 {
		c.NodeSpacing = DefaultNodeSpacing
	}
	if c.NodeSpacing < 0 {
		return fmt.Errorf("node spacing must be positive, got %v", c.NodeSpacing)
	}
	if c.RankSpacing == 0 {
		c.RankSpacing = DefaultRankSpacing
	}
	if c.RankSpacing < 0 {
		return fmt.Errorf("rank spacing must be positive, got %v", c.RankSpacing)
	}
	return nil
}

// Result carries the computed positions plus the intermediate structure
// (ranks and in-rank orders) for callers that need it, like the DOT
// exporter and tests.
type Result struct {
	Positions map[string]graph.Point
	Ranks     map[string]int
	Orders    [][]string // index = rank, values = task IDs left to right
}

// Compute lays out every task in the snapshot and returns one position per
// input task ID. Tasks absent from the snapshot are never invented, and no
// input task is dropped.
//
// Returns ErrInvalidGraph if the snapshot's edge set contains a cycle, or
// a validation error from cfg. The input snapshot is not modified.
func Compute(snap graph.Snapshot, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	// Snapshots can arrive from files or stale remote state, not just the
	// guard-gated store; fail fast before the ranking passes touch them.
	if graph.ValidateAcyclic(snap.Dependencies) != nil {
		return Result{}, ErrInvalidGraph
	}

	ranks, err := assignRanks(snap)
	if err != nil {
		return Result{}, err
	}
	orders := orderRanks(snap, ranks)
	positions := assignCoordinates(orders, cfg)

	return Result{Positions: positions, Ranks: ranks, Orders: orders}, nil
}

// assignCoordinates maps rank to the primary axis and in-rank index to the
// secondary axis, then projects both onto (x, y) per the direction. For the
// reversed directions (bt, rl) the rank index is inverted so rank 0 lands
// at the far edge; ordering logic is untouched.
func assignCoordinates(orders [][]string, cfg Config) map[string]graph.Point {
	maxRank := len(orders) - 1
	positions := make(map[string]graph.Point)

	for rank, row := range orders {
		effective := rank
		if cfg.Direction == DirectionBT || cfg.Direction == DirectionRL {
			effective = maxRank - rank
		}
		primary := margin + float64(effective)*(nodeExtent+cfg.RankSpacing)

		for i, id := range row {
			secondary := margin + float64(i)*cfg.NodeSpacing
			switch cfg.Direction {
			case DirectionLR, DirectionRL:
				positions[id] = graph.Point{X: primary, Y: secondary}
			default: // tb, bt
				positions[id] = graph.Point{X: secondary, Y: primary}
			}
		}
	}
	return positions
}
