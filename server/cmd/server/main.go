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

	"github.com/clubindex/clubindex/server/internal/api"
	"github.com/clubindex/clubindex/server/internal/auth"
	"github.com/clubindex/clubindex/server/internal/config"
	"github.com/clubindex/clubindex/server/internal/directory"
	"github.com/clubindex/clubindex/server/internal/metrics"
	"github.com/clubindex/clubindex/server/internal/notify"
	"github.com/clubindex/clubindex/server/internal/persist"
	"github.com/clubindex/clubindex/server/internal/refresh"
	"github.com/clubindex/clubindex/server/internal/scraper"
	"github.com/clubindex/clubindex/server/internal/store"
	"github.com/clubindex/clubindex/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file; empty uses defaults and environment only")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("clubindex-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Log.SlogLevel())

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"cache_file", cfg.Cache.File,
		"ttl_minutes", cfg.Cache.TTLMinutes,
		"max_stale_minutes", cfg.Cache.MaxStaleMinutes,
		"list_url", cfg.Scraper.ListURL,
	)
	if cfg.Server.Auth.Mode == "apikey" && cfg.Server.Auth.Key() == "" {
		slog.Warn("auth mode is apikey but the key variable is empty; admin routes will reject every request",
			"key_env", cfg.Server.Auth.KeyEnv)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sc, err := scraper.New(cfg.Scraper)
	if err != nil {
		slog.Error("failed to build scraper", "err", err)
		os.Exit(1)
	}

	st := store.New()
	coord := refresh.New(sc, st, persist.New(cfg.Cache.File), refresh.WithPolicy(cfg.Cache.Policy()))
	dir := directory.New(st, coord)

	// Webhook notifications on refresh failure and recovery.
	alerts := notify.New(cfg.Notify)
	coord.Subscribe(alerts.Observe)

	// WebSocket hub: status on every tick and right after each refresh.
	hub := ws.New(dir, cfg.Server.StatusInterval)
	coord.Subscribe(func(refresh.Result) { hub.Notify() })
	go hub.Run(ctx)

	// An unusable cache plus a failed first scrape is not fatal: reads answer
	// 503 until a later refresh succeeds.
	if err := coord.LoadInitial(ctx); err != nil {
		slog.Error("initial snapshot build failed, serving without data", "err", err)
	}

	go coord.Run(ctx, cfg.Cache.CheckInterval)

	if *configPath != "" {
		go func() {
			if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
				coord.SetPolicy(updated.Cache.Policy())
				level.Set(updated.Log.SlogLevel())
				slog.Info("config hot-reloaded",
					"ttl_minutes", updated.Cache.TTLMinutes,
					"max_stale_minutes", updated.Cache.MaxStaleMinutes,
					"log_level", updated.Log.Level,
				)
			}); err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	handler := api.New(api.Deps{
		Directory: dir,
		Refresher: coord,
		Metrics:   metrics.New(st, coord),
		Status:    hub,
		Auth: auth.APIKey(
			cfg.Server.Auth.Mode,
			cfg.Server.Auth.EffectiveHeader(),
			cfg.Server.Auth.Key(),
		),
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("clubindex-server shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	coord.Close()
	alerts.Wait()
}
