package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// errDrift is returned when diagnose finds anything out of place.
var errDrift = errors.New("drift detected")

var diagnoseJSON bool

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Check the deployed resources without changing them",
	Long: `Reads every function, the SQS trigger, the schedule and its target, the
invoke permissions and the API paths, and prints one line per check. Exits
non-zero when anything is missing or drifted.`,
	Args: cobra.NoArgs,
	RunE: runDiagnose,
}

func init() {
	diagnoseCmd.Flags().BoolVar(&diagnoseJSON, "json", false, "Print findings as JSON")
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	s, err := newSession(ctx)
	if err != nil {
		return err
	}

	d, err := s.engine(true, false).Diagnose(ctx)
	if err != nil {
		return fmt.Errorf("diagnose failed: %w", err)
	}

	if diagnoseJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("failed to encode findings: %w", err)
		}
	} else if err := renderFindings(out, d); err != nil {
		return err
	}

	if problems := d.Problems(); len(problems) > 0 {
		return fmt.Errorf("%w: %d check(s) failed, run fix-triggers or deploy", errDrift, len(problems))
	}
	return nil
}
