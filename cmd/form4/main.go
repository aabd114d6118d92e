// Command form4 is the insider-activity CLI: market scans, per-company
// reports, watchlist tracking, and cache maintenance.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"insidertrack/pkg/core/config"
	"insidertrack/pkg/core/edgar"
	"insidertrack/pkg/core/store"
	"insidertrack/pkg/core/syncer"
	"insidertrack/pkg/core/tracker"
)

type app struct {
	cfg     config.Config
	logger  *logrus.Logger
	store   store.Store
	engine  *syncer.Engine
	tracker *tracker.Tracker
}

var (
	flagConfig  string
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:   "form4",
		Short: "Track SEC Form 4 insider transactions",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config YAML")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newLatestCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newTrackCmd())
	root.AddCommand(newRefreshCmd())
	root.AddCommand(newTrackerCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp wires the shared stack for one command invocation.
func newApp(ctx context.Context) (*app, error) {
	godotenv.Load()

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	if flagVerbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	st, err := store.Open(ctx, cfg.DatabaseURL, cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	client := edgar.NewClient(edgar.Config{
		UserAgent:         cfg.UserAgent,
		RequestsPerSecond: cfg.RequestsPerSecond,
		MaxRetries:        cfg.MaxRetries,
		Timeout:           cfg.RequestTimeout(),
		Logger:            logger,
	})

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		engine:  syncer.New(client, st, syncer.Options{Logger: logger}),
		tracker: tracker.New(st, logger),
	}, nil
}

func (a *app) close() {
	store.Close()
}
