package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pdf-checker/app"
	"pdf-checker/services"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var batch int

	cmd := &cobra.Command{
		Use:       "sweep analysis|summaries|all",
		Short:     "Claim and process pending or stale work once",
		Long:      "Runs one sweep, for cron or systemd timers when SWEEP_ENABLED=false on the server.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"analysis", "summaries", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			stage := args[0]
			switch stage {
			case "analysis", "summaries", "all":
			default:
				return fmt.Errorf("unknown sweep %q (want analysis, summaries or all)", stage)
			}
			return ctx.withApp(cmd.Context(), func(a *app.App, _ *zap.Logger) error {
				opts := a.SweepOptions()
				if batch > 0 {
					opts.BatchSize = batch
				}

				var reports []services.SweepReport
				switch stage {
				case "analysis":
					r, err := a.Selector.SweepDocuments(cmd.Context(), opts)
					if err != nil {
						return err
					}
					reports = append(reports, r)
				case "summaries":
					r, err := a.Selector.SweepSummaries(cmd.Context(), opts)
					if err != nil {
						return err
					}
					reports = append(reports, r)
				case "all":
					docs, sums, err := a.Selector.SweepAll(cmd.Context(), opts)
					if err != nil {
						return err
					}
					reports = append(reports, docs, sums)
				}
				printSweepReports(cmd.OutOrStdout(), reports)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "Maximum items to claim (defaults to SWEEP_BATCH_SIZE)")
	return cmd
}

func printSweepReports(out io.Writer, reports []services.SweepReport) {
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		rows = append(rows, []string{
			r.Stage,
			strconv.Itoa(r.Claimed),
			formatOutcomes(r.Outcomes),
			r.Duration.Round(time.Millisecond).String(),
		})
	}
	fmt.Fprint(out, renderTable([]string{"Stage", "Claimed", "Outcomes", "Duration"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight}))
}

func formatOutcomes(outcomes map[services.Outcome]int) string {
	if len(outcomes) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(outcomes))
	for o, n := range outcomes {
		parts = append(parts, fmt.Sprintf("%s=%d", o, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
