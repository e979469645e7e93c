package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pdf-checker/app"
	"pdf-checker/models"
)

var statusOrder = []models.Status{
	models.StatusPending,
	models.StatusProcessing,
	models.StatusCompleted,
	models.StatusFailed,
	models.StatusSkipped,
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status [document-id...]",
		Short: "Show pipeline totals, or the status of specific documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.App, _ *zap.Logger) error {
				out := cmd.OutOrStdout()
				if len(args) == 0 {
					documents, err := a.Documents.Counts(cmd.Context())
					if err != nil {
						return err
					}
					summaries, err := a.Summaries.Counts(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprint(out, renderTable([]string{"Status", "Documents", "Summaries"}, buildCountRows(documents, summaries),
						[]columnAlignment{alignLeft, alignRight, alignRight}))
					return nil
				}

				rows := make([][]string, 0, len(args))
				for _, id := range args {
					snap, err := a.Projector.Snapshot(cmd.Context(), id)
					if err != nil {
						return fmt.Errorf("%s: %w", id, err)
					}
					rows = append(rows, snapshotRow(snap))
				}
				fmt.Fprint(out, renderTable([]string{"ID", "Status", "Accessible", "Summary", "Terminal", "Error"}, rows, nil))
				return nil
			})
		},
	}
}

func buildCountRows(documents, summaries map[models.Status]int) [][]string {
	var rows [][]string
	for _, s := range statusOrder {
		d, sum := documents[s], summaries[s]
		if d == 0 && sum == 0 {
			continue
		}
		rows = append(rows, []string{string(s), strconv.Itoa(d), strconv.Itoa(sum)})
	}
	return rows
}

func snapshotRow(snap models.Snapshot) []string {
	accessible := "-"
	if snap.IsAccessible != nil {
		accessible = strconv.FormatBool(*snap.IsAccessible)
	}
	summary := string(snap.SummaryStatus)
	if summary == "" {
		summary = "-"
	}
	return []string{snap.ID, string(snap.Status), accessible, summary, strconv.FormatBool(snap.Terminal), snap.Error}
}
