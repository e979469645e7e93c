package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pdf-checker/app"
	"pdf-checker/backup"
	"pdf-checker/storage"
)

func newBackupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Dump the state database to BACKUP_S3_BUCKET and rotate old dumps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.App, logger *zap.Logger) error {
				client, err := storage.NewS3Client(cmd.Context(), a.Config)
				if err != nil {
					return err
				}
				runner := &backup.Runner{Config: a.Config, DB: a.DB, Client: client, Logger: logger}
				res, err := runner.Run(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
}
