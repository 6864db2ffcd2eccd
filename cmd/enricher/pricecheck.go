package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SyN415/local-marketplace-lister-sub003/internal/enrich"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/fetcher/unlocker"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/storage/memory"
)

var priceCheckCmd = &cobra.Command{
	Use:   "price-check <query...>",
	Short: "Run a one-off competitor price lookup",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")

		client := unlocker.New(unlocker.Config{
			Endpoint:      cfg.Upstream.Endpoint,
			Zone:          cfg.Upstream.Zone,
			Token:         cfg.Upstream.Token,
			Timeout:       time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			LookupTimeout: time.Duration(cfg.Upstream.LookupTimeoutSeconds) * time.Second,
			MaxRetries:    cfg.Upstream.MaxRetries,
			BackoffBase:   time.Duration(cfg.Upstream.BackoffBaseMs) * time.Millisecond,
			BackoffFactor: cfg.Upstream.BackoffFactor,
			RPS:           cfg.Upstream.RPS,
		}, logger)

		// A one-shot lookup has no cache to share; use a throwaway store.
		cache := enrich.NewResultCache(memory.New(), enrich.ResultCacheConfig{}, nil)
		breaker := enrich.NewBreaker(enrich.BreakerConfig{
			Threshold: cfg.Enrichment.BreakerThreshold,
			Reset:     cfg.Enrichment.BreakerReset(),
		}, logger)
		checker := enrich.NewPriceChecker(
			cfg.Enrichment.CompetitorPlatform,
			cfg.Enrichment.CompetitorCountry,
			cache, client, enrich.RegexPriceParser{}, breaker, logger,
		)

		result, _, err := checker.Check(cmd.Context(), query)
		if errors.Is(err, enrich.ErrNoComps) {
			fmt.Fprintln(os.Stderr, "no comparable prices found")
			return nil
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	rootCmd.AddCommand(priceCheckCmd)
}
