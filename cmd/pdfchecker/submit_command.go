package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pdf-checker/app"
	"pdf-checker/models"
	"pdf-checker/services"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		url    string
		email  string
		inline bool
	)

	cmd := &cobra.Command{
		Use:   "submit [file.pdf...]",
		Short: "Register PDFs from disk or a URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && url == "" {
				return fmt.Errorf("give at least one file or --url")
			}
			return ctx.withApp(cmd.Context(), func(a *app.App, _ *zap.Logger) error {
				var results []*services.SubmitResult
				for _, path := range args {
					data, err := os.ReadFile(path)
					if err != nil {
						return err
					}
					res, err := a.Submissions.Submit(cmd.Context(), services.Upload{
						Filename: filepath.Base(path),
						Data:     data,
						Email:    email,
					})
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					results = append(results, res)
				}
				if url != "" {
					res, err := a.Submissions.SubmitURL(cmd.Context(), a.Fetcher, url, services.Upload{Email: email})
					if err != nil {
						return fmt.Errorf("%s: %w", url, err)
					}
					results = append(results, res)
				}

				rows := make([][]string, 0, len(results))
				for _, res := range results {
					id := res.Document.ID
					if inline && res.Document.Status == models.StatusPending {
						if _, err := a.Orchestrator.RunInline(cmd.Context(), id, a.InlineDeadlines()); err != nil {
							return err
						}
					}
					snap, err := a.Projector.Snapshot(cmd.Context(), id)
					if err != nil {
						return err
					}
					state := "new"
					if !res.Created {
						state = "known"
					}
					rows = append(rows, []string{id, res.Document.OriginalFilename, state, string(snap.Status)})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"ID", "File", "Submission", "Status"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Download the PDF from this URL")
	cmd.Flags().StringVar(&email, "email", "", "Submitter email")
	cmd.Flags().BoolVar(&inline, "inline", false, "Run the analysis right away with inline deadlines")
	return cmd
}
