package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/infra-api/internal/config"
	"github.com/JakeFAU/infra-api/internal/server"
)

// runner is what serve needs from the built application.
type runner interface {
	Run(ctx context.Context) error
}

// buildApp is a variable so tests can swap in a fake application.
var buildApp = func(ctx context.Context, cfg config.Config) (runner, error) {
	return server.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "infraapi",
		Short: "REST API for VM and network router lifecycle actions.",
		Long: `infraapi serves a REST API over an infrastructure inventory. Lifecycle
actions are authorized, validated against provider capabilities, recorded as
tasks and executed asynchronously by a worker pool.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env INFRA_* overrides)")

	cmd.AddCommand(newServeCmd(&cfgFile))
	cmd.AddCommand(newHashPasswordCmd())
	return cmd
}

func newServeCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and worker pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			app, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}
