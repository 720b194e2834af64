// Package main provides the CLI entry point for the kindergarten assistant
// service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/kgassist"
	"github.com/hupe1980/kgassist/config"
)

// Version information (set at build time)
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "kgassist",
		Short: "AI assistant backend for the kindergarten admin app",
		Long: `kgassist runs the assistant that answers staff questions, calls admin
tools and streams its progress to the browser.

Configuration is read from --config, ./kgassist.yaml or /etc/kgassist/kgassist.yaml
and can be overridden with KGASSIST_ environment variables
(for example KGASSIST_SERVER_ADDR).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
		newRouteCmd(&configPath),
		newVersionCmd(),
	)
	return rootCmd
}

// openApp loads the configuration and assembles the service.
func openApp(ctx context.Context, configPath string) (*kgassist.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return kgassist.New(ctx, cfg)
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
