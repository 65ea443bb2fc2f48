package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/kasuganosora/gamedb/game/sim"
	"github.com/spf13/cobra"
)

func simulateCmd(open opener) *cobra.Command {
	var times int
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the simulation plan and save",
		Long: `Runs the steps of simulation.steps in order (dump Items, bump a random
value, dump again when none are configured), refreshes the configured
binders and saves the repository.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.LoadRepo(); err != nil {
				return err
			}
			hub, err := a.Hub()
			if err != nil {
				return err
			}
			runner, err := a.Runner(hub)
			if err != nil {
				return err
			}
			for i := 0; i < times; i++ {
				report, err := runner.Run(cmd.Context())
				if err != nil {
					return err
				}
				printReport(a.out, report)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&times, "times", "n", 1, "number of runs")
	return cmd
}

func printReport(w io.Writer, r *sim.Report) {
	tableColor.Fprintf(w, "run %s", r.TraceID)
	dimColor.Fprintf(w, " (%d ms)\n", r.DurationMs)
	for _, s := range r.Steps {
		fmt.Fprintf(w, "  %-10s %-12s", s.Kind, s.Table)
		switch {
		case s.Skipped != "":
			warnColor.Fprintf(w, " %s\n", s.Skipped)
		case s.Total != nil:
			fmt.Fprintf(w, " total=%g\n", *s.Total)
		case s.Leveled > 0:
			fmt.Fprintf(w, " rows=%d leveled=%d\n", s.Rows, s.Leveled)
		default:
			fmt.Fprintf(w, " rows=%d\n", s.Rows)
		}
	}
	names := make([]string, 0, len(r.Binders))
	for n := range r.Binders {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "  binder %s: %s\n", n, r.Binders[n])
	}
	if r.Saved {
		okColor.Fprintln(w, "  saved")
	}
}
