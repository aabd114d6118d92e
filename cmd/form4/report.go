package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"insidertrack/pkg/core/query"
	"insidertrack/pkg/core/syncer"
	"insidertrack/pkg/render"
)

func newReportCmd() *cobra.Command {
	var (
		days        int
		start       string
		end         string
		hidePlanned bool
		htmlOut     string
	)

	cmd := &cobra.Command{
		Use:   "report TICKER",
		Short: "Show one company's insider activity report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			win := syncer.Window{Days: days}
			if win.Days <= 0 {
				win.Days = a.cfg.DefaultLookbackDays
			}
			opts := query.Options{HidePlanned: hidePlanned, WithinDays: win.Days}

			if start != "" {
				t, err := time.Parse("2006-01-02", start)
				if err != nil {
					return fmt.Errorf("invalid --start: %s", start)
				}
				win.Start = t
				opts.Start = t
				opts.WithinDays = 0
			}
			if end != "" {
				t, err := time.Parse("2006-01-02", end)
				if err != nil {
					return fmt.Errorf("invalid --end: %s", end)
				}
				win.End = t
				opts.End = t
			}

			result, err := a.engine.EnsureEntityCoverage(ctx, args[0], win)
			if err != nil && result.State == nil {
				return err
			}
			if err != nil {
				fmt.Printf("[WARNING] Sync incomplete: %v\n", err)
			}

			rep := query.QueryEntity(result.State, opts, time.Now())
			md := render.EntityReport(rep, time.Now())
			fmt.Println(md)

			if htmlOut != "" {
				html, err := render.ToHTML(md)
				if err != nil {
					return err
				}
				if err := os.WriteFile(htmlOut, []byte(html), 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", htmlOut, err)
				}
				fmt.Printf("HTML report written to %s\n", htmlOut)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "lookback window in days (default from config)")
	cmd.Flags().StringVar(&start, "start", "", "window start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "window end date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&hidePlanned, "hide-planned", false, "exclude 10b5-1 trading-plan transactions")
	cmd.Flags().StringVar(&htmlOut, "html", "", "also write an HTML report to this path")
	return cmd
}
