package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	apiform4 "insidertrack/pkg/api/form4"
	"insidertrack/pkg/core/config"
	"insidertrack/pkg/core/edgar"
	"insidertrack/pkg/core/store"
	"insidertrack/pkg/core/syncer"
)

func main() {
	// Load environment variables
	godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Printf("[FATAL] Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.DatabaseURL, cfg.StateDir)
	if err != nil {
		fmt.Printf("[FATAL] Failed to open state store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	client := edgar.NewClient(edgar.Config{
		UserAgent:         cfg.UserAgent,
		RequestsPerSecond: cfg.RequestsPerSecond,
		MaxRetries:        cfg.MaxRetries,
		Timeout:           cfg.RequestTimeout(),
		Logger:            logger,
	})
	engine := syncer.New(client, st, syncer.Options{Logger: logger})

	handler := apiform4.NewHandler(engine, logger, cfg.DefaultFilingTarget, cfg.DefaultLookbackDays)
	http.HandleFunc("/api/form4/market", handler.HandleMarket)
	http.HandleFunc("/api/form4/company", handler.HandleCompany)
	http.HandleFunc("/api/form4/report", handler.HandleCompanyReport)
	http.HandleFunc("/api/form4/refresh", handler.HandleRefresh)

	fmt.Printf("API server starting on %s...\n", cfg.ListenAddr)
	fmt.Println("  - GET  /api/form4/market   (aggregated market activity)")
	fmt.Println("  - GET  /api/form4/company  (per-company activity)")
	fmt.Println("  - GET  /api/form4/report   (markdown/html report)")
	fmt.Println("  - POST /api/form4/refresh  (force re-scan or reset)")

	if err := http.ListenAndServe(cfg.ListenAddr, nil); err != nil {
		fmt.Printf("[FATAL] Server failed to start: %v\n", err)
		os.Exit(1)
	}
}
