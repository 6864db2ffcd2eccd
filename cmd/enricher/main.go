// Command enricher runs the competitor-price enrichment service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SyN415/local-marketplace-lister-sub003/internal/config"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/logging"
)

var (
	cfgPath string
	cfg     config.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "enricher",
	Short: "Competitor-price enrichment service for marketplace matches",
	Long: "Ingests candidate-match events from the listing scanners and enriches them\n" +
		"with competitor pricing fetched through a metered scraping API, with\n" +
		"deduplication, circuit breaking, and a durable result cache.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger, err = logging.New("enricher", cfg.Logging.Development)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
