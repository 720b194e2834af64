package main

import (
	"github.com/spf13/cobra"
)

func newServeCmd(configPath *string) *cobra.Command {
	var (
		addr        string
		skipMigrate bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat endpoints",
		Long: `Serve the WebSocket (/v1/chat/ws) and server-sent events (/v1/chat/stream)
chat endpoints together with /healthz and /metrics. Pending migrations are
applied first unless --skip-migrate is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			app, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			if addr != "" {
				app.Config.Server.Addr = addr
			}
			if !skipMigrate {
				applied, err := app.Migrate(ctx)
				if err != nil {
					return err
				}
				if len(applied) > 0 {
					app.Logger.Info("kgassist.migrate.applied", "migrations", applied)
				}
			}
			return app.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply pending migrations on start")
	return cmd
}
