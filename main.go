// Command chat-archive is the one-shot archiver for a single broadcast. It:
//   - Loads configuration and initializes structured logging.
//   - Normalizes the raw chat-log document into canonical comment records.
//   - Writes the integrated record to the staging area.
//   - Opens the relational store, runs idempotent migrations, and merges the
//     broadcast and its comments under upsert semantics.
//   - Optionally runs the embedding pipeline afterwards (-embed).
//
// Runs are batch and synchronous; SIGINT/SIGTERM cancel the run context.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/onnwee/chat-archive/chatlog"
	"github.com/onnwee/chat-archive/config"
	"github.com/onnwee/chat-archive/db"
	"github.com/onnwee/chat-archive/embed"
	"github.com/onnwee/chat-archive/importer"
	"github.com/onnwee/chat-archive/record"
	"github.com/onnwee/chat-archive/telemetry"
	"github.com/onnwee/chat-archive/vector"
)

func main() {
	// Load .env file if present (local dev convenience only; production
	// relies on real env)
	_ = godotenv.Load()

	setupLogging()

	logPath := flag.String("log", "", "path to the raw chat-log XML document (required)")
	broadcastKey := flag.String("lv", "", "broadcast key, e.g. lv123456789 (required)")
	groupLabel := flag.String("group", "default", "grouping label for the staging layout")
	runEmbed := flag.Bool("embed", false, "run the embedding pipeline after import")
	flag.Parse()

	if *logPath == "" || *broadcastKey == "" {
		fmt.Fprintln(os.Stderr, "usage: chat-archive -log <chatlog.xml> -lv <broadcast_key> [-group label] [-embed]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("chat-archive", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	telemetry.ServeMetrics(ctx, cfg.MetricsAddr)

	if err := run(ctx, cfg, *logPath, *broadcastKey, *groupLabel, *runEmbed); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("archive run failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logPath, broadcastKey, groupLabel string, runEmbed bool) error {
	logger := telemetry.LoggerWithCorr(ctx)
	ctx, span := telemetry.StartSpan(ctx, "chat-archive", "archive_run")
	defer span.End()

	// Normalize
	res, err := chatlog.ParseFile(logPath)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.CommentsParsed.Add(float64(len(res.Comments)))
	telemetry.CommentsSkipped.Add(float64(res.Skipped))
	logger.Info("chat log normalized",
		slog.String("broadcast_key", broadcastKey),
		slog.Int("comments", len(res.Comments)),
		slog.Int("skipped", res.Skipped))

	// Integrated record
	doc := record.Build(res.Meta, res.Comments, broadcastKey, groupLabel, time.Now())
	dir, err := record.Write(cfg.DataDir, doc, res.Comments)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	// Relational import
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open relational store: %w", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("err", err))
		}
	}()
	if err := db.RunMigrations(database); err != nil {
		// Versioned migrations need the migrations directory; fall back to
		// the embedded SQL when running from an installed binary.
		logger.Warn("versioned migrations unavailable, using embedded schema", slog.Any("err", err))
		if err := db.Migrate(ctx, database); err != nil {
			telemetry.RecordError(span, err)
			return err
		}
	} else if err := db.EnsureCommentColumns(ctx, database); err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	stats, err := importer.New(database, cfg.TrackedSet()).ImportIntegrated(ctx, dir)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	logger.Info("archive run complete",
		slog.String("broadcast_key", broadcastKey),
		slog.Int("broadcasts", stats.Broadcasts),
		slog.Int("comments", stats.Comments),
		slog.String("staging_dir", dir))

	if !runEmbed {
		return nil
	}

	// Embedding pipeline
	store, err := vector.Open(cfg.VectorDBPath)
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close vector store", slog.Any("err", err))
		}
	}()
	if err := store.Migrate(ctx); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	embedder, err := embed.NewOpenAIEmbedder(cfg)
	if err != nil {
		return err
	}
	pipeline := &embed.Pipeline{
		DB:            database,
		Vectors:       store,
		Embedder:      embedder,
		ModelName:     cfg.EmbeddingModel,
		MinTextLength: cfg.MinCommentLength,
		Delay:         cfg.EmbedDelay,
	}
	runStats, err := pipeline.Run(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	logger.Info("embedding pipeline complete",
		slog.Int("embedded", runStats.Embedded),
		slog.Int("already_embedded", runStats.AlreadyEmbedded),
		slog.Int("failed", runStats.Failed))
	return nil
}

// setupLogging configures level + format. Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}
