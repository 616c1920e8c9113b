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
	"syscall"
	"time"

	"github.com/aluiziolira/book-catalog/api"
	"github.com/aluiziolira/book-catalog/config"
	"github.com/aluiziolira/book-catalog/ingest"
	"github.com/aluiziolira/book-catalog/query"
	"github.com/aluiziolira/book-catalog/scraper"
	"github.com/aluiziolira/book-catalog/store"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	listenAddr := flag.String("addr", "", "HTTP listen address (default from config)")
	dbPath := flag.String("db", "", "SQLite database path")
	refreshOnStart := flag.Bool("refresh", false, "Trigger an ingestion run at startup")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	}
	if *verbose {
		cfg.Verbose = true
	}

	logger := newLogger(cfg.Verbose)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	runner := ingest.NewRunner(cfg, s, db)
	engine := query.NewEngine(db, cfg)
	srv := api.NewServer(ctx, engine, runner, s.Metrics.Registry)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("api listening", slog.String("addr", cfg.ListenAddr), slog.String("db", cfg.DatabasePath))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", slog.Any("error", err))
			stop()
		}
	}()

	if *refreshOnStart {
		task, _ := runner.Trigger(ctx)
		slog.Info("startup refresh triggered", slog.String("task_id", task.ID))
	}

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", slog.Any("error", err))
	}
	runner.Wait()
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	info, err := os.Stdout.Stat()
	if err == nil && info.Mode()&os.ModeCharDevice != 0 {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
