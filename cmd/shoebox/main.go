package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shoebox-app/shoebox/internal/analyzer"
	"github.com/shoebox-app/shoebox/internal/api"
	"github.com/shoebox-app/shoebox/internal/config"
	"github.com/shoebox-app/shoebox/internal/db"
	"github.com/shoebox-app/shoebox/internal/ingest"
	"github.com/shoebox-app/shoebox/internal/scheduler"
	"github.com/shoebox-app/shoebox/internal/store"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── Logging (initial — overridden below once config is loaded) ─────────
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// ── Config ─────────────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("shoebox starting",
		"version", version,
		"log_level", cfg.LogLevel,
		"http_addr", cfg.HTTPAddr,
		"db_path", cfg.DBPath,
		"media_dir", cfg.MediaDir)

	// ── Database ───────────────────────────────────────────────────────────
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.RunMigrations(database); err != nil {
		slog.Error("run migrations", "error", err)
		os.Exit(1)
	}

	st := store.New(database, cfg.MediaDir)

	// Mark any sessions that were 'running' when last process exited as failed.
	if err := st.MarkStaleSessionsFailed(context.Background()); err != nil {
		slog.Warn("mark stale sessions", "error", err)
	}

	// ── Ingest manager ─────────────────────────────────────────────────────
	an := analyzer.New(cfg.Analyzer.BaseURL, cfg.Analyzer.APIKey, cfg.Analyzer.Model)
	ingestCfg := ingest.Config{
		BatchSize:         cfg.Ingest.BatchSize,
		BatchDelay:        cfg.Ingest.BatchDelay(),
		MaxAttempts:       cfg.Ingest.MaxAttempts,
		RetryBase:         cfg.Ingest.RetryBase(),
		RateLimitCooldown: cfg.Ingest.RateLimitCooldown(),
		MaxDimension:      cfg.Ingest.MaxDimension,
		JPEGQuality:       cfg.Ingest.JPEGQuality,
		ThumbWidth:        512,
		ThumbHeight:       512,
		TopThreshold:      cfg.Scoring.TopThreshold,
		HighThreshold:     cfg.Scoring.HighThreshold,
		CostPerImage:      cfg.Scoring.CostPerImage,
		SecondsPerBatch:   cfg.Scoring.SecondsPerBatch,
	}
	defaults := ingest.Options{
		SkipSmall:       cfg.Filter.SkipSmall,
		MinSizeKB:       cfg.Filter.MinSizeKB,
		SkipScreenshots: cfg.Filter.SkipScreenshots,
		SkipExisting:    cfg.Filter.SkipExisting,
	}
	mgr := ingest.NewManager(st, an, ingestCfg, defaults)

	// ── Scheduler ──────────────────────────────────────────────────────────
	sched := scheduler.New()
	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	if err := sched.AddJob(cfg.PurgeSchedule, func() {
		n, err := st.PurgeHistory(context.Background(), retention)
		if err != nil {
			slog.Error("history purge failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("history purge", "sessions_removed", n)
		}
	}); err != nil {
		slog.Warn("failed to register purge job", "error", err)
	}
	sched.Start()
	defer sched.Stop()

	// ── HTTP server ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := api.New(cfg.HTTPAddr, st, mgr, cfg.Ingest.IntakeWorkers, version)
	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("shoebox stopped")
}

// parseLogLevel converts a config string ("debug", "info", "warn", "error")
// to its slog.Level equivalent. Unknown values default to Info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
