package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			app, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			if app.Config.Database.Driver == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no database configured, nothing to migrate")
				return nil
			}
			applied, err := app.Migrate(ctx)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, id := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", id)
			}
			return nil
		},
	}
}
