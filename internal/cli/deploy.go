package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/ride-compare/rideops/internal/engine"
	"github.com/ride-compare/rideops/internal/ir"
)

var deployRepair bool

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Create or update every resource of the stack",
	Long: `Ensures every function, trigger, schedule, permission and API resource
exists with the configured settings. Resources that already match are left
unchanged. A drifted SQS trigger is reported but only repaired with --repair
or by fix-triggers.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReconcile(cmd, false, deployRepair, func(ctx context.Context, e *engine.Engine) (*ir.Report, error) {
			return e.Deploy(ctx)
		})
	},
}

func init() {
	deployCmd.Flags().BoolVar(&deployRepair, "repair", false, "Also enable and resize a drifted SQS trigger")
}

// runReconcile runs one engine command, streaming results as they are recorded.
// The summary and report are produced for failed runs as well.
func runReconcile(cmd *cobra.Command, preview, repair bool, run func(ctx context.Context, e *engine.Engine) (*ir.Report, error)) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	s, err := newSession(ctx)
	if err != nil {
		return err
	}

	var r *ir.Report
	reconcile := func() error {
		e := s.engine(preview, repair)
		e.OnResult(func(res *ir.Result) {
			renderResult(out, res)
		})
		var err error
		r, err = run(ctx, e)
		return err
	}

	var runErr error
	if preview {
		runErr = reconcile()
	} else {
		runErr = s.withLock(ctx, reconcile)
	}

	if r != nil {
		renderSummary(out, r)
	}
	if err := s.writeReport(ctx, r); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}
