package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRefreshCmd() *cobra.Command {
	var (
		count  int
		reset  bool
		ticker string
	)

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Force-refresh or reset the filing caches",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if reset {
				if ticker != "" {
					if err := a.engine.ResetEntity(ctx, ticker); err != nil {
						return err
					}
					fmt.Printf("Cache for %s reset.\n", ticker)
					return nil
				}
				if err := a.engine.ResetGlobal(ctx); err != nil {
					return err
				}
				fmt.Println("Global cache reset.")
				return nil
			}

			target := count
			if target <= 0 {
				target = a.cfg.DefaultFilingTarget
			}
			result, err := a.engine.EnsureGlobalCoverage(ctx, target, true)
			if err != nil {
				return err
			}
			fmt.Printf("Refreshed: %d fetched, %d already cached, %d parse failures\n",
				result.Report.FilingsFetched,
				result.Report.FilingsSkipped,
				result.Report.ParseFailures,
			)
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 0, "number of filings to re-scan (default from config)")
	cmd.Flags().BoolVar(&reset, "reset", false, "wipe the cache instead of refreshing")
	cmd.Flags().StringVar(&ticker, "ticker", "", "with --reset, wipe only this company's cache")
	return cmd
}
