package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ride-compare/rideops/internal/engine"
	"github.com/ride-compare/rideops/internal/ir"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what deploy would change without changing anything",
	Long: `Runs every existence check of deploy and reports the outcome each
resource would have. Identifiers of resources that do not exist yet are shown
as "(known after apply)".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReconcile(cmd, true, false, func(ctx context.Context, e *engine.Engine) (*ir.Report, error) {
			return e.Deploy(ctx)
		})
	},
}
