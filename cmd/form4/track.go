package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"insidertrack/pkg/core/config"
	"insidertrack/pkg/core/form4"
	"insidertrack/pkg/core/syncer"
	"insidertrack/pkg/core/tracker"
	"insidertrack/pkg/render"
)

// trackOptions carries the track command's independent force flags: one
// re-surfaces filings the tracker already knows, the other re-runs the
// per-filing summary even when it was produced before.
type trackOptions struct {
	ForceDownload bool
	ForceAnalysis bool
}

type trackOutcome struct {
	NewFilings int
	Analyzed   int
}

func newTrackCmd() *cobra.Command {
	var (
		days int
		opts trackOptions
	)

	cmd := &cobra.Command{
		Use:   "track",
		Short: "Check the watchlist for new filings",
		Long: `Syncs every watchlist company and reports which filings are new since
the last check. Already-seen filings stay known permanently, so repeated
runs only surface genuinely new activity.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			wl, err := config.LoadWatchlist(a.cfg.WatchlistPath)
			if err != nil {
				return err
			}
			tickers := wl.Tickers()
			if len(tickers) == 0 {
				return fmt.Errorf("watchlist is empty")
			}

			win := syncer.Window{Days: days}
			if win.Days <= 0 {
				win.Days = a.cfg.DefaultLookbackDays
			}

			totalNew := 0
			for _, ticker := range tickers {
				result, err := a.engine.EnsureEntityCoverage(ctx, ticker, win)
				if err != nil {
					fmt.Printf("[WARNING] %s: sync failed: %v\n", ticker, err)
					if result.State == nil {
						continue
					}
				}
				if result.Report.Partial {
					fmt.Printf("[WARNING] %s: listing may not cover the full window\n", ticker)
				}

				outcome, err := processEntityFilings(ctx, a.tracker, ticker, result.State.Transactions, opts, os.Stdout)
				if err != nil {
					return err
				}
				if outcome.NewFilings == 0 {
					fmt.Printf("[OK]  %s: no new filings\n", ticker)
				}
				totalNew += outcome.NewFilings
			}

			fmt.Printf("\nChecked at: %s\n", time.Now().UTC().Format(time.RFC3339))
			fmt.Printf("%d new filings across %d companies\n", totalNew, len(tickers))
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "lookback window in days (default from config)")
	cmd.Flags().BoolVar(&opts.ForceDownload, "force-download", false, "reprocess filings even if already known")
	cmd.Flags().BoolVar(&opts.ForceAnalysis, "force-analysis", false, "re-run filing summaries even if already analyzed")
	return cmd
}

// processEntityFilings walks one company's cached transactions filing by
// filing. The tracker decides each step: whether a filing's line items are
// surfaced at all, and whether its summary still needs to run. The two
// decisions are forced independently.
func processEntityFilings(ctx context.Context, tr *tracker.Tracker, ticker string, txns []form4.Transaction, opts trackOptions, w io.Writer) (trackOutcome, error) {
	var out trackOutcome

	groups, order := groupByAccession(txns)
	for _, acc := range order {
		group := groups[acc]

		status, err := tr.Classify(ctx, ticker, acc)
		if err != nil {
			return out, err
		}
		needDownload, err := tr.NeedsDownload(ctx, ticker, acc, opts.ForceDownload)
		if err != nil {
			return out, err
		}
		if needDownload {
			if status == tracker.StatusNew {
				out.NewFilings++
			}
			for _, t := range group {
				fmt.Fprintf(w, "[%s] %s %s %s %s %s shares\n",
					status,
					ticker,
					t.TransactionDate.Format("2006-01-02"),
					t.OwnerName,
					t.Type,
					t.Shares.StringFixed(0),
				)
			}
			meta := form4.FilingMeta{
				AccessionNumber: acc,
				Ticker:          ticker,
				CompanyName:     group[0].CompanyName,
				FilingDate:      group[0].FilingDate,
			}
			if err := tr.MarkProcessed(ctx, meta); err != nil {
				return out, err
			}
		}

		needAnalysis, err := tr.NeedsAnalysis(ctx, ticker, acc, opts.ForceAnalysis)
		if err != nil {
			return out, err
		}
		if needAnalysis {
			fmt.Fprintf(w, "      %s: net %s over %d line item(s)\n",
				acc, render.FormatAmount(filingNet(group)), len(group))
			if err := tr.MarkAnalyzed(ctx, ticker, acc); err != nil {
				return out, err
			}
			out.Analyzed++
		}
	}
	return out, nil
}

// groupByAccession buckets transactions per filing, preserving the cached
// newest-first order.
func groupByAccession(txns []form4.Transaction) (map[string][]form4.Transaction, []string) {
	groups := make(map[string][]form4.Transaction)
	var order []string
	for _, t := range txns {
		if _, ok := groups[t.AccessionNumber]; !ok {
			order = append(order, t.AccessionNumber)
		}
		groups[t.AccessionNumber] = append(groups[t.AccessionNumber], t)
	}
	return groups, order
}

// filingNet sums one filing's dollar flow: buys and grants in, sells out.
func filingNet(txns []form4.Transaction) decimal.Decimal {
	net := decimal.Zero
	for _, t := range txns {
		if !t.Amount.Valid {
			continue
		}
		switch t.Type {
		case form4.TypeBuy, form4.TypeGrant:
			net = net.Add(t.Amount.Decimal)
		case form4.TypeSell:
			net = net.Sub(t.Amount.Decimal)
		}
	}
	return net
}
