// Package embed incrementally vectorizes tracked-author comments from the
// relational store into the vector store. Runs are one-shot and resumable:
// already-vectorized comments are filtered out up front and a uniqueness
// constraint in the store backstops the filter, so a comment is embedded at
// most once across any number of runs.
package embed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/onnwee/chat-archive/config"
)

// Embedder generates a vector embedding for one text. The provider is an
// opaque external capability; implementations wrap whatever API serves it.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder implements Embedder against any OpenAI-compatible
// embeddings API.
type OpenAIEmbedder struct {
	embedder embeddings.Embedder
	logger   *slog.Logger
}

// NewOpenAIEmbedder builds the provider client from config. A host without a
// credential gets a placeholder token, which local OpenAI-compatible servers
// ignore.
func NewOpenAIEmbedder(cfg *config.Config) (*OpenAIEmbedder, error) {
	if err := cfg.ValidateEmbedReady(); err != nil {
		return nil, err
	}
	token := cfg.EmbeddingAPIKey
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	}
	if cfg.EmbeddingHost != "" {
		opts = append(opts, openai.WithBaseURL(cfg.EmbeddingHost))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("wrap embedder: %w", err)
	}
	return &OpenAIEmbedder{
		embedder: emb,
		logger:   slog.Default().With(slog.String("component", "embedder")),
	}, nil
}

// EmbedText generates one embedding.
func (e *OpenAIEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		e.logger.Warn("provider returned empty embedding result")
		return nil, fmt.Errorf("empty embedding result")
	}
	return vecs[0], nil
}
