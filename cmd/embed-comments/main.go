// Command embed-comments runs the embedding pipeline as a standalone batch.
//
// Usage:
//
//	embed-comments [-limit N] [-status]
//
// Flags:
//
//	-limit: cap how many comments are selected this run (manual batching)
//	-status: report progress (total tracked / vectorized / remaining) and exit
//
// Configuration comes from the archive config file and environment; see the
// config package. The embedding credential is required unless -status is set.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/onnwee/chat-archive/config"
	"github.com/onnwee/chat-archive/db"
	"github.com/onnwee/chat-archive/embed"
	"github.com/onnwee/chat-archive/telemetry"
	"github.com/onnwee/chat-archive/vector"
)

func main() {
	_ = godotenv.Load()

	limit := flag.Int("limit", 0, "max comments to embed this run (0 = unlimited)")
	statusOnly := flag.Bool("status", false, "report progress without embedding")
	flag.Parse()

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
	telemetry.ServeMetrics(ctx, cfg.MetricsAddr)

	// The pipeline only reads the relational store; a missing store means the
	// importer never ran and the run must not silently create an empty one.
	if _, err := os.Stat(cfg.DBPath); err != nil {
		slog.Error("relational store not found, run the importer first", slog.String("path", cfg.DBPath))
		os.Exit(1)
	}
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

	store, err := vector.Open(cfg.VectorDBPath)
	if err != nil {
		slog.Error("failed to open vector store", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close vector store", slog.Any("err", err))
		}
	}()
	if err := store.Migrate(ctx); err != nil {
		slog.Error("vector store migration failed", slog.Any("err", err))
		os.Exit(1)
	}

	pipeline := &embed.Pipeline{
		DB:            database,
		Vectors:       store,
		ModelName:     cfg.EmbeddingModel,
		MinTextLength: cfg.MinCommentLength,
		Delay:         cfg.EmbedDelay,
		Limit:         *limit,
	}

	if *statusOnly {
		st, err := pipeline.Status(ctx)
		if err != nil {
			slog.Error("status query failed", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("embedding progress",
			slog.Int("total_tracked", st.TotalTracked),
			slog.Int("vectorized", st.TotalVectorized),
			slog.Int("remaining", st.Remaining))
		return
	}

	embedder, err := embed.NewOpenAIEmbedder(cfg)
	if err != nil {
		slog.Error("embedder setup failed", slog.Any("err", err))
		os.Exit(1)
	}
	pipeline.Embedder = embedder

	stats, err := pipeline.Run(ctx)
	if err != nil {
		slog.Error("embedding run failed", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("embedding run summary",
		slog.Int("selected", stats.Selected),
		slog.Int("already_embedded", stats.AlreadyEmbedded),
		slog.Int("embedded", stats.Embedded),
		slog.Int("duplicates", stats.Duplicates),
		slog.Int("failed", stats.Failed))
}
