// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	// Counters
	CommentsParsed     prometheus.Counter
	CommentsSkipped    prometheus.Counter
	CommentsUpserted   prometheus.Counter
	BroadcastsUpserted prometheus.Counter
	EmbeddingsCreated  prometheus.Counter
	EmbeddingsSkipped  prometheus.Counter
	EmbeddingsFailed   prometheus.Counter

	// Histograms (seconds)
	EmbedCallDuration prometheus.Observer
	ImportDuration    prometheus.Observer

	// Gauges
	BacklogGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CommentsParsed = promauto.NewCounter(prometheus.CounterOpts{Name: "archive_comments_parsed_total", Help: "Number of chat entries normalized into comments"})
		CommentsSkipped = promauto.NewCounter(prometheus.CounterOpts{Name: "archive_comments_skipped_total", Help: "Number of chat entries discarded during normalization"})
		CommentsUpserted = promauto.NewCounter(prometheus.CounterOpts{Name: "archive_comments_upserted_total", Help: "Number of comment rows written to the relational store"})
		BroadcastsUpserted = promauto.NewCounter(prometheus.CounterOpts{Name: "archive_broadcasts_upserted_total", Help: "Number of broadcast rows inserted or updated"})
		EmbeddingsCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "archive_embeddings_created_total", Help: "Number of new comment vectors saved"})
		EmbeddingsSkipped = promauto.NewCounter(prometheus.CounterOpts{Name: "archive_embeddings_skipped_total", Help: "Number of comments skipped as already vectorized"})
		EmbeddingsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "archive_embeddings_failed_total", Help: "Number of per-comment embedding failures"})
		EmbedCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "archive_embed_call_duration_seconds", Help: "Embedding provider call duration seconds", Buckets: prometheus.DefBuckets})
		ImportDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "archive_import_duration_seconds", Help: "Relational import run duration seconds", Buckets: prometheus.DefBuckets})
		BacklogGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "archive_embed_backlog", Help: "Tracked comments not yet vectorized"})
	})
}

// SetBacklog records the current not-yet-vectorized comment count.
func SetBacklog(n int) {
	if BacklogGauge != nil {
		BacklogGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// ServeMetrics exposes /metrics on addr until ctx is done. Intended for long
// backlog runs where an operator wants live progress; errors are logged, not
// returned, since metrics are never load-bearing.
func ServeMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		slog.Info("metrics listener starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Warn("metrics listener failed", slog.Any("err", err))
		}
	}()
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
