package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/medchat/internal/analytics"
)

func summaryCmd(logLevel *string) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the analytics summary",
		Long: `Print the aggregate analytics summary as JSON.

By default it is fetched from ANALYTICS_URL and falls back to all zeros
when the ledger cannot be reached. With --local the ledger file at
LEDGER_PATH is read directly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(*logLevel)
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			var sum analytics.Summary
			if local {
				var err error
				sum, err = analytics.NewLedger(cfg.LedgerPath).Summarize(ctx)
				if err != nil {
					return err
				}
			} else {
				sum = analytics.NewCollector(cfg.AnalyticsURL, nil, nil).FetchSummary(ctx)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Read the ledger file directly instead of the HTTP endpoint")
	return cmd
}
