package layout

import (
	"fmt"
	"strings"

	"github.com/taskdeck/taskgraph/pkg/graph"
)

// ExportDOT renders a laid-out snapshot as a Graphviz DOT digraph for
// debugging layout decisions. Ranks become same-rank groups and positions
// are attached as pos attributes, so the output reflects this engine's
// layout rather than asking dot to compute its own.
//
// Output is deterministic for a deterministic Result.
func ExportDOT(snap graph.Snapshot, res Result, cfg Config) string {
	if err := cfg.Validate(); err != nil {
		cfg = Config{Direction: DirectionTB, NodeSpacing: DefaultNodeSpacing, RankSpacing: DefaultRankSpacing}
	}

	var b strings.Builder
	b.WriteString("digraph taskgraph {\n")
	fmt.Fprintf(&b, "  rankdir=%s;\n", rankdir(cfg.Direction))
	b.WriteString("  node [shape=box];\n")

	for _, row := range res.Orders {
		b.WriteString("  { rank=same;")
		for _, id := range row {
			fmt.Fprintf(&b, " %q;", id)
		}
		b.WriteString(" }\n")
	}
	for _, t := range snap.Tasks {
		if p, ok := res.Positions[t.ID]; ok {
			fmt.Fprintf(&b, "  %q [pos=\"%g,%g\"];\n", t.ID, p.X, p.Y)
		}
	}
	for _, d := range snap.Dependencies {
		fmt.Fprintf(&b, "  %q -> %q;\n", d.From, d.To)
	}
	b.WriteString("}\n")
	return b.String()
}

func rankdir(direction string) string {
	switch direction {
	case DirectionBT:
		return "BT"
	case DirectionLR:
		return "LR"
	case DirectionRL:
		return "RL"
	default:
		return "TB"
	}
}
