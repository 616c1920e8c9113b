package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/book-catalog/config"
	"github.com/aluiziolira/book-catalog/ingest"
	"github.com/aluiziolira/book-catalog/scraper"
	"github.com/aluiziolira/book-catalog/store"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	maxPages := flag.Int("pages", 0, "Maximum catalog pages to crawl")
	delayMs := flag.Int("delay", -1, "Delay between page fetches (milliseconds)")
	maxRetries := flag.Int("max-retries", -1, "Maximum retry attempts per page")
	retryBackoffMs := flag.Int("retry-backoff", -1, "Initial retry backoff (milliseconds)")
	retryBackoffMaxMs := flag.Int("retry-backoff-max", -1, "Maximum retry backoff (milliseconds)")
	respectRobots := flag.Bool("respect-robots", false, "Respect robots.txt directives")
	dbPath := flag.String("db", "", "SQLite database path")
	exportFile := flag.String("output", "", "Optional export file path")
	exportFormat := flag.String("format", "", "Export format: csv, json, or dual")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	baseURL := flag.String("base-url", "", "Seed URL of the catalog listing")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "pages":
			cfg.MaxPages = *maxPages
		case "delay":
			cfg.Delay = time.Duration(*delayMs) * time.Millisecond
		case "max-retries":
			cfg.MaxRetries = *maxRetries
		case "retry-backoff":
			cfg.RetryBackoff = time.Duration(*retryBackoffMs) * time.Millisecond
		case "retry-backoff-max":
			cfg.RetryBackoffMax = time.Duration(*retryBackoffMaxMs) * time.Millisecond
		case "respect-robots":
			cfg.RespectRobotsTxt = *respectRobots
		case "db":
			cfg.DatabasePath = *dbPath
		case "output":
			cfg.ExportFile = *exportFile
		case "format":
			cfg.ExportFormat = strings.ToLower(*exportFormat)
		case "v":
			cfg.Verbose = *verbose
		case "base-url":
			cfg.BaseURL = *baseURL
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		}
	})
	if cfg.ExportFile != "" && cfg.ExportFormat == "" {
		cfg.ExportFormat = "csv"
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, persisting what was crawled so far")
	}()

	var db store.Store
	db, err = store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		slog.Error("opening store", slog.String("path", cfg.DatabasePath), slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("close store", slog.Any("error", err))
		}
	}()

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	slog.Info("starting ingestion",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("max_pages", cfg.MaxPages),
		slog.Duration("delay", cfg.Delay),
		slog.String("db", cfg.DatabasePath),
	)

	runner := ingest.NewRunner(cfg, s, db)
	report, runErr := runner.RunSync(ctx)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	if report != nil {
		printSummary(report, cfg)
	}
	if runErr != nil {
		slog.Error("ingestion failed", slog.Any("error", runErr))
		os.Exit(1)
	}
}

func printSummary(report *ingest.Report, cfg *config.Config) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Printf("Ingestion %s\n", report.Task.Status)

	fmt.Printf("  Crawled:       %d\n", report.Task.Crawled)
	fmt.Printf("  Stored:        %d\n", report.Task.Stored)
	fmt.Printf("  Failed:        %d\n", report.Task.Failed)

	if result := report.Crawl; result != nil {
		fmt.Printf("  Pages:         %d\n", result.PageCount)
		fmt.Printf("  Skipped items: %d\n", result.SkippedCount)
		fmt.Printf("  Requests:      %d\n", result.RequestCount)
		fmt.Printf("  Retries:       %d\n", result.RetryCount)
		fmt.Printf("  Stop reason:   %s\n", result.StopReason)
		if len(result.FailedURLs) > 0 {
			fmt.Printf("  Failed URLs:   %v\n", result.FailedURLs)
		}
		if len(result.ErrorsByType) > 0 {
			fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
		}
		duration := result.Duration()
		fmt.Printf("  Duration:      %v\n", duration)
		if duration.Seconds() > 0 {
			fmt.Printf("  Items/sec:     %.2f\n", float64(result.TotalCount)/duration.Seconds())
		}
	}
	if valErrors, ok := report.Pipeline["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	fmt.Printf("  Database:      %s\n", cfg.DatabasePath)
	if cfg.ExportFile != "" {
		fmt.Printf("  Export file:   %s\n", cfg.ExportFile)
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
