package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ride-compare/rideops/internal/engine"
)

var graphFormat string

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Output the resource dependency graph",
	Long: `Renders the order deploy follows as a Graphviz DOT or Mermaid graph,
with resources grouped by kind. Pipe DOT output to 'dot' to generate an image:

  rideops graph | dot -Tpng > graph.png`,
	Args: cobra.NoArgs,
	RunE: runGraph,
}

func init() {
	graphCmd.Flags().StringVar(&graphFormat, "format", string(engine.FormatDOT), "Output format: dot or mermaid")
}

func runGraph(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := desiredStack(ctx, cfg, "")
	if err != nil {
		return err
	}

	dag, err := engine.BuildDAG(engine.Steps(st))
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}
	return dag.Render(cmd.OutOrStdout(), engine.GraphFormat(graphFormat))
}
