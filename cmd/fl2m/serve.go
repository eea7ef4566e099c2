package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fl2m/platform/internal/app/runtime"
)

func serveCmd() *cobra.Command {
	var dev bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled jobs",
		Long: `Run the HTTP API and the scheduled jobs until interrupted.

With --dev the required production settings are not enforced: missing
DATABASE_URL selects the in-memory stores and a missing Stripe key selects
the local Stripe fake.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := runtime.LoadConfig()
			if err != nil {
				return err
			}
			if !dev {
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			application, err := runtime.NewApplication(cfg, true)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := application.Run(ctx); err != nil {
				_ = application.Shutdown(context.Background())
				return err
			}
			<-ctx.Done()
			return application.Shutdown(context.Background())
		},
	}
	cmd.Flags().BoolVar(&dev, "dev", false, "allow missing production settings")
	return cmd
}
