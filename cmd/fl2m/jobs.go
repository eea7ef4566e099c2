package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	app "github.com/fl2m/platform/internal/app"
	"github.com/fl2m/platform/internal/app/runtime"
)

// withApplication builds the services without the HTTP server or the cron
// scheduler and runs fn against them.
func withApplication(ctx context.Context, fn func(ctx context.Context, a *app.Application) error) error {
	cfg, err := runtime.LoadConfig()
	if err != nil {
		return err
	}
	application, err := runtime.NewApplication(cfg, false)
	if err != nil {
		return err
	}
	defer application.Shutdown(context.Background())
	if err := application.Run(ctx); err != nil {
		return err
	}
	return fn(ctx, application.App())
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func payoutsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payouts",
		Short: "Practitioner payouts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Transfer every eligible transaction now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd.Context(), func(ctx context.Context, a *app.Application) error {
				report, err := a.Payments.ProcessPayouts(ctx, time.Now())
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	})
	return cmd
}

func contractsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contracts",
		Short: "Practitioner contracts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "activate",
		Short: "Activate pending contracts whose start date has come",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd.Context(), func(ctx context.Context, a *app.Application) error {
				n, err := a.Contracts.ActivateDue(ctx, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d contract(s) activated\n", n)
				return nil
			})
		},
	})
	return cmd
}

func drawsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draws",
		Short: "Daily draw messages",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Import or update daily draw messages from a YAML file",
		Long: `Import or update daily draw messages from a YAML file of the form:

  messages:
    - id: n1-start
      number: 1
      title: Un départ
      body: Lancez ce qui attendait.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withApplication(cmd.Context(), func(ctx context.Context, a *app.Application) error {
				n, err := a.Draws.ImportMessages(ctx, data)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d message(s) imported\n", n)
				return nil
			})
		},
	})
	return cmd
}
