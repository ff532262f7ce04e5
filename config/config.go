// Package config loads the archive configuration and provides a typed Config
// passed to each component at construction time. Values come from an optional
// JSON config file, then environment variables, then defaults, so the binaries
// can run locally with minimal setup. For the embedding credential, use
// ValidateEmbedReady before starting the pipeline.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultConfigFile is consulted when ARCHIVE_CONFIG is not set. A missing
// file is not an error; the environment covers everything it would provide.
const DefaultConfigFile = "archive.json"

type Config struct {
	// Stores
	DBPath       string
	VectorDBPath string

	// Staging area for integrated documents
	DataDir string

	// Embedding provider
	EmbeddingAPIKey string
	EmbeddingHost   string
	EmbeddingModel  string
	EmbedDelay      time.Duration

	// Selection
	TrackedAuthorIDs []string
	MinCommentLength int

	// Observability
	MetricsAddr string
}

// fileConfig mirrors the JSON config file surface. Every field is optional;
// the environment fills any gap.
type fileConfig struct {
	DBPath           string   `json:"db_path"`
	VectorDBPath     string   `json:"vector_db_path"`
	DataDir          string   `json:"data_dir"`
	EmbeddingAPIKey  string   `json:"embedding_api_key"`
	EmbeddingHost    string   `json:"embedding_host"`
	EmbeddingModel   string   `json:"embedding_model"`
	EmbedDelay       string   `json:"embed_delay"`
	TrackedAuthorIDs []string `json:"tracked_author_ids"`
	// Pointer so an explicit 0 ("embed everything") is distinguishable from
	// the field being absent.
	MinCommentLength *int `json:"min_comment_length"`
}

// Load reads the config file (if present) and environment variables and
// applies defaults. It doesn't fail if the embedding credential is missing;
// use ValidateEmbedReady when you require the embedding provider.
func Load() (*Config, error) {
	cfg := &Config{}

	path := os.Getenv("ARCHIVE_CONFIG")
	explicit := path != ""
	if path == "" {
		path = DefaultConfigFile
	}
	var fc fileConfig
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	} else if explicit {
		// An explicitly named config file must exist.
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg.DBPath = firstOf(fc.DBPath, os.Getenv("ARCHIVE_DB_PATH"), "archive.db")
	cfg.VectorDBPath = firstOf(fc.VectorDBPath, os.Getenv("VECTOR_DB_PATH"), "vectors.db")
	cfg.DataDir = firstOf(fc.DataDir, os.Getenv("DATA_DIR"), "data")

	// Credential order: config file field, then environment.
	cfg.EmbeddingAPIKey = firstOf(fc.EmbeddingAPIKey, os.Getenv("OPENAI_API_KEY"), "")
	cfg.EmbeddingHost = firstOf(fc.EmbeddingHost, os.Getenv("EMBEDDING_HOST"), "")
	cfg.EmbeddingModel = firstOf(fc.EmbeddingModel, os.Getenv("EMBEDDING_MODEL"), "text-embedding-3-small")

	cfg.EmbedDelay = time.Second
	if v := firstOf(fc.EmbedDelay, os.Getenv("EMBED_DELAY"), ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid EMBED_DELAY %q", v)
		}
		cfg.EmbedDelay = d
	}

	cfg.TrackedAuthorIDs = fc.TrackedAuthorIDs
	if len(cfg.TrackedAuthorIDs) == 0 {
		cfg.TrackedAuthorIDs = splitList(os.Getenv("TRACKED_AUTHOR_IDS"))
	}

	switch {
	case fc.MinCommentLength != nil:
		if *fc.MinCommentLength < 0 {
			return nil, fmt.Errorf("invalid min_comment_length %d", *fc.MinCommentLength)
		}
		cfg.MinCommentLength = *fc.MinCommentLength
	case os.Getenv("MIN_COMMENT_LENGTH") != "":
		s := os.Getenv("MIN_COMMENT_LENGTH")
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid MIN_COMMENT_LENGTH %q", s)
		}
		cfg.MinCommentLength = n
	default:
		cfg.MinCommentLength = 10
	}

	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	return cfg, nil
}

// ValidateEmbedReady checks required fields when the embedding pipeline runs.
// A custom host without a key is allowed (local OpenAI-compatible servers
// typically ignore the token).
func (c *Config) ValidateEmbedReady() error {
	if c.EmbeddingAPIKey == "" && c.EmbeddingHost == "" {
		return fmt.Errorf("missing embedding credential: set embedding_api_key in %s or OPENAI_API_KEY", DefaultConfigFile)
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("missing embedding model name")
	}
	return nil
}

// TrackedSet returns the tracked author ids as a lookup set.
func (c *Config) TrackedSet() map[string]bool {
	set := make(map[string]bool, len(c.TrackedAuthorIDs))
	for _, id := range c.TrackedAuthorIDs {
		if id != "" {
			set[id] = true
		}
	}
	return set
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
