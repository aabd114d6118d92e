package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newTrackerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tracker",
		Short: "Show filing tracker status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			entities, err := a.tracker.Entities(ctx)
			if err != nil {
				return err
			}
			if len(entities) == 0 {
				fmt.Println("No tracked companies yet.")
				return nil
			}

			total := 0
			for _, entity := range entities {
				known, err := a.tracker.KnownCount(ctx, entity)
				if err != nil {
					return err
				}
				last, err := a.tracker.LastCheck(ctx, entity)
				if err != nil {
					return err
				}
				checked := "never"
				if !last.IsZero() {
					checked = last.Format(time.RFC3339)
				}
				fmt.Printf("%-8s %4d filings  last check %s\n", entity, known, checked)
				total += known
			}
			fmt.Printf("\n%d known filings across %d companies\n", total, len(entities))
			return nil
		},
	}
}
