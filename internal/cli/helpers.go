package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/ride-compare/rideops/internal/engine"
	"github.com/ride-compare/rideops/internal/ir"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

// colorize returns the escape code unless colors are disabled.
func colorize(code string) string {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return ""
	}
	return code
}

func outcomeStyle(o ir.Outcome) (symbol, color string) {
	switch o {
	case ir.OutcomeCreated:
		return "+", colorGreen
	case ir.OutcomeUpdated:
		return "~", colorYellow
	case ir.OutcomeFailed:
		return "!", colorRed
	default:
		return " ", ""
	}
}

// renderResult prints one result line as it is recorded.
func renderResult(w io.Writer, res *ir.Result) {
	symbol, color := outcomeStyle(res.Outcome)
	line := fmt.Sprintf("%s %s %s", symbol, res.Address, res.Outcome)
	if res.Detail != "" {
		line += " (" + res.Detail + ")"
	}
	if res.Outcome == ir.OutcomeFailed && res.Err != nil {
		line += ": " + res.Err.Error()
	}
	if color == "" {
		fmt.Fprintln(w, line)
		return
	}
	fmt.Fprintf(w, "%s%s%s\n", colorize(color), line, colorize(colorReset))
}

// renderSummary prints the per-outcome counts and the run outputs.
func renderSummary(w io.Writer, r *ir.Report) {
	verb := "complete"
	if r.Preview {
		verb = "preview complete"
	}
	fmt.Fprintf(w, "\n%s %s! Resources: %d created, %d updated, %d unchanged, %d failed.\n",
		r.Command, verb, r.Summary.Created, r.Summary.Updated, r.Summary.Unchanged, r.Summary.Failed)

	if len(r.Outputs) == 0 {
		return
	}
	keys := make([]string, 0, len(r.Outputs))
	for k := range r.Outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(w, "\nOutputs:")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %s\n", k, r.Outputs[k])
	}
}

// renderFindings prints the diagnose table.
func renderFindings(w io.Writer, d *engine.Diagnosis) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOURCE\tCHECK\tSTATUS\tDETAIL")
	for _, f := range d.Findings {
		status := string(f.Status)
		switch f.Status {
		case engine.StatusDrift:
			status = colorize(colorYellow) + status + colorize(colorReset)
		case engine.StatusMissing:
			status = colorize(colorRed) + status + colorize(colorReset)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Resource, f.Check, status, f.Detail)
	}
	return tw.Flush()
}
