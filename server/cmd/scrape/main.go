// Command scrape runs one full directory scrape and writes the result to the
// cache file the server loads at startup.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clubindex/clubindex/server/internal/config"
	"github.com/clubindex/clubindex/server/internal/persist"
	"github.com/clubindex/clubindex/server/internal/scraper"
)

func main() {
	configPath := flag.String("config", "", "path to config file; empty uses defaults and environment only")
	out := flag.String("out", "", "cache file to write; defaults to cache.file from config")
	flag.Parse()

	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Log.SlogLevel())

	path := cfg.Cache.File
	if *out != "" {
		path = *out
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sc, err := scraper.New(cfg.Scraper)
	if err != nil {
		slog.Error("failed to build scraper", "err", err)
		os.Exit(1)
	}

	start := time.Now()
	snap, err := sc.ScrapeAll(ctx)
	if err != nil {
		slog.Error("scrape failed", "err", err)
		os.Exit(1)
	}
	if len(snap) == 0 {
		slog.Error("scrape returned no clubs, cache file left untouched", "path", path)
		os.Exit(1)
	}

	at := time.Now().UTC()
	if err := persist.New(path).Save(snap, at); err != nil {
		slog.Error("failed to write cache file", "path", path, "err", err)
		os.Exit(1)
	}
	slog.Info("cache file written",
		"path", path,
		"records", len(snap),
		"duration", time.Since(start),
	)
}
