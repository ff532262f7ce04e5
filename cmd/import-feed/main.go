// Command import-feed merges a flattened comment feed (the JSON array
// produced by the external scraping tooling) into the relational store.
//
// Usage:
//
//	import-feed -feed comments.json
//
// The feed shares upsert semantics with the integrated-document path, so
// importing the same feed twice yields identical row counts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/onnwee/chat-archive/config"
	"github.com/onnwee/chat-archive/db"
	"github.com/onnwee/chat-archive/importer"
	"github.com/onnwee/chat-archive/telemetry"
)

func main() {
	_ = godotenv.Load()

	feedPath := flag.String("feed", "", "path to the flattened comment feed (required)")
	flag.Parse()
	if *feedPath == "" {
		fmt.Fprintln(os.Stderr, "usage: import-feed -feed <comments.json>")
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	telemetry.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open relational store", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations unavailable, using embedded schema", slog.Any("err", err))
		if err := db.Migrate(ctx, database); err != nil {
			slog.Error("migration failed", slog.Any("err", err))
			os.Exit(1)
		}
	}

	stats, err := importer.New(database, cfg.TrackedSet()).ImportFeed(ctx, *feedPath)
	if err != nil {
		slog.Error("feed import failed", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("feed import summary",
		slog.String("feed", *feedPath),
		slog.Int("broadcasts", stats.Broadcasts),
		slog.Int("comments", stats.Comments))
}
