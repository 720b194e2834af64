package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/hupe1980/kgassist/config"
	"github.com/hupe1980/kgassist/router"
)

func newRouteCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "route <origin>",
		Short: "Print the routing context an origin resolves to",
		Example: `  kgassist route https://admin.sunflower.edu.cn
  kgassist route localhost:3000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			catalog, err := router.NewCatalog(cmd.Context(), cfg.CatalogSource())
			if err != nil {
				return err
			}
			routing, _ := catalog.Resolve(args[0])

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(routing)
		},
	}
}
