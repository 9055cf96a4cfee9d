package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ride-compare/rideops/internal/engine"
	"github.com/ride-compare/rideops/internal/ir"
)

var fixTriggersCmd = &cobra.Command{
	Use:   "fix-triggers",
	Short: "Repair the triggers and permissions of deployed functions",
	Long: `Re-enables the SQS trigger and corrects its batch size, re-asserts the
RabbitMQ polling schedule and its target, and re-adds every invoke permission.
The functions must already exist; fix-triggers never creates them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReconcile(cmd, false, true, func(ctx context.Context, e *engine.Engine) (*ir.Report, error) {
			return e.FixTriggers(ctx)
		})
	},
}
