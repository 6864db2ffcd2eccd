package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SyN415/local-marketplace-lister-sub003/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the enrichment HTTP service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		return a.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
