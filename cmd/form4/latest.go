package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"insidertrack/pkg/core/query"
	"insidertrack/pkg/render"
)

func newLatestCmd() *cobra.Command {
	var (
		count       int
		days        int
		hidePlanned bool
		minNet      string
		minBuy      string
		minSell     string
		sortMode    string
		limit       int
		refresh     bool
	)

	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Show aggregated insider activity across the market",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			target := count
			if target <= 0 {
				target = a.cfg.DefaultFilingTarget
			}

			result, err := a.engine.EnsureGlobalCoverage(ctx, target, refresh)
			if err != nil && result.State == nil {
				return err
			}
			if err != nil {
				fmt.Printf("[WARNING] Sync incomplete: %v\n", err)
			}

			opts := query.Options{
				HidePlanned: hidePlanned,
				WithinDays:  days,
				Sort:        query.SortMode(sortMode),
				Limit:       limit,
			}
			if minNet != "" {
				d, err := decimal.NewFromString(minNet)
				if err != nil {
					return fmt.Errorf("invalid --min: %s", minNet)
				}
				opts.MinAmount = &query.MinAmount{Threshold: d, Sign: query.SignNet}
			} else if minBuy != "" {
				d, err := decimal.NewFromString(minBuy)
				if err != nil {
					return fmt.Errorf("invalid --min-buy: %s", minBuy)
				}
				opts.MinAmount = &query.MinAmount{Threshold: d, Sign: query.SignBuy}
			} else if minSell != "" {
				d, err := decimal.NewFromString(minSell)
				if err != nil {
					return fmt.Errorf("invalid --min-sell: %s", minSell)
				}
				opts.MinAmount = &query.MinAmount{Threshold: d, Sign: query.SignSell}
			}

			rows := query.QueryGlobal(result.State, opts, time.Now())
			fmt.Println(render.MarketReport(rows, time.Now()))
			if result.Report.ParseFailures > 0 {
				fmt.Printf("(%d filings could not be parsed and were skipped)\n", result.Report.ParseFailures)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 0, "number of filings to cover (default from config)")
	cmd.Flags().IntVar(&days, "days", 0, "only include transactions from the last N days")
	cmd.Flags().BoolVar(&hidePlanned, "hide-planned", false, "exclude 10b5-1 trading-plan transactions")
	cmd.Flags().StringVar(&minNet, "min", "", "minimum absolute net amount in dollars, either direction")
	cmd.Flags().StringVar(&minBuy, "min-buy", "", "minimum aggregated buy amount in dollars")
	cmd.Flags().StringVar(&minSell, "min-sell", "", "minimum aggregated sell amount in dollars")
	cmd.Flags().StringVar(&sortMode, "sort", "net", "sort order: net or activity")
	cmd.Flags().IntVar(&limit, "limit", 0, "cap the number of entities shown")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "re-scan the feed even if the cache covers the target")
	return cmd
}
