package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pdf-checker/app"
)

func newResetCommand(ctx *commandContext) *cobra.Command {
	var summary bool

	cmd := &cobra.Command{
		Use:   "reset <document-id>...",
		Short: "Return failed documents (or their summaries) to pending",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.App, logger *zap.Logger) error {
				out := cmd.OutOrStdout()
				for _, id := range args {
					var (
						changed bool
						err     error
					)
					if summary {
						changed, err = a.Summaries.Reset(cmd.Context(), id)
					} else {
						changed, err = a.Documents.Reset(cmd.Context(), id)
					}
					if err != nil {
						return fmt.Errorf("%s: %w", id, err)
					}
					if changed {
						logger.Info("Operator reset", zap.String("document_id", id), zap.Bool("summary", summary))
						fmt.Fprintf(out, "%s reset to pending\n", id)
					} else {
						fmt.Fprintf(out, "%s is not failed, nothing to do\n", id)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&summary, "summary", false, "Reset the summary artifact instead of the document")
	return cmd
}
