package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskdeck/taskgraph/pkg/graph"
	"github.com/taskdeck/taskgraph/pkg/layout"
)

// layoutOpts holds the command-line flags for the layout command.
type layoutOpts struct {
	direction   string  // rank growth direction: tb, bt, lr, rl
	nodeSpacing float64 // gap between slots within a rank
	rankSpacing float64 // gap between consecutive ranks
	output      string  // output file path (stdout if empty)
	dot         bool    // emit Graphviz DOT instead of a snapshot
}

func (o *layoutOpts) config() layout.Config {
	return layout.Config{
		Direction:   o.direction,
		NodeSpacing: o.nodeSpacing,
		RankSpacing: o.rankSpacing,
	}
}

// newLayoutCmd creates the layout command for offline layout runs: read a
// snapshot file, compute positions, and write the result without a server.
func newLayoutCmd() *cobra.Command {
	opts := layoutOpts{direction: layout.DirectionTB}

	cmd := &cobra.Command{
		Use:   "layout <snapshot.json>",
		Short: "Compute a layered layout for a graph snapshot file",
		Long: `Compute a layered layout for a graph snapshot file.

The snapshot is read as JSON, every task is assigned a position, and the
updated snapshot is written back out. Identical input always produces
identical output.

Examples:
  taskgraph layout graph.json                      # positions to stdout
  taskgraph layout graph.json -o placed.json       # write a snapshot file
  taskgraph layout graph.json --dot -o graph.dot   # Graphviz DOT export
  taskgraph layout graph.json --direction lr       # ranks grow rightward`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runLayout(c, &opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.direction, "direction", opts.direction, "layout direction (tb, bt, lr, rl)")
	cmd.Flags().Float64Var(&opts.nodeSpacing, "node-spacing", 0, "gap between nodes within a rank (0 = default)")
	cmd.Flags().Float64Var(&opts.rankSpacing, "rank-spacing", 0, "gap between ranks (0 = default)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (stdout if empty)")
	cmd.Flags().BoolVar(&opts.dot, "dot", false, "emit Graphviz DOT instead of a snapshot")
	return cmd
}

func runLayout(c *cobra.Command, opts *layoutOpts, path string) error {
	ctx := c.Context()
	logger := loggerFromContext(ctx)

	g, err := graph.ReadSnapshotFile(path)
	if err != nil {
		return err
	}
	snap := g.Snapshot()
	logger.Infof("Loaded %d tasks and %d dependencies from %s", len(snap.Tasks), len(snap.Dependencies), path)

	prog := newProgress(logger)
	res, err := layout.Compute(snap, opts.config())
	if err != nil {
		return err
	}
	prog.done(fmt.Sprintf("Laid out %d tasks across %d ranks", len(res.Positions), len(res.Orders)))

	out, err := openOutput(opts.output)
	if err != nil {
		return err
	}
	defer out.Close()

	if opts.dot {
		if _, err := io.WriteString(out, layout.ExportDOT(snap, res, opts.config())); err != nil {
			return err
		}
	} else {
		for id, p := range res.Positions {
			if err := g.SetPosition(id, p); err != nil {
				return err
			}
		}
		if err := graph.WriteSnapshot(g.Snapshot(), out); err != nil {
			return err
		}
	}

	if opts.output != "" {
		logger.Infof("Wrote layout to %s", opts.output)
	}
	return nil
}

// nopCloser wraps an io.Writer with a no-op Close method, making
// os.Stdout compatible with io.WriteCloser.
type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// openOutput returns a WriteCloser for the given path, or os.Stdout when
// path is empty.
func openOutput(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(path)
}
