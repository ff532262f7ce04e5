// Package record builds the integrated broadcast document from normalizer
// output and persists it to the staging file layout. This stage is a pure
// structural transform: no dedup happens here, and writing the same broadcast
// again simply overwrites the prior artifacts at the same path.
package record

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/onnwee/chat-archive/chatlog"
)

const (
	// DocumentFile holds the integrated metadata document.
	DocumentFile = "integrated.json"
	// CommentsFile holds the raw comment array alongside it.
	CommentsFile = "comments.json"
)

// IntegratedDocument is the self-describing broadcast record written to the
// staging area. Analysis is a reserved slot for downstream derived results;
// it is always present and initially empty.
type IntegratedDocument struct {
	BroadcastKey        string                `json:"broadcast_key"`
	GroupLabel          string                `json:"group_label"`
	GeneratedAt         string                `json:"generated_at"`
	Broadcast           chatlog.BroadcastMeta `json:"broadcast"`
	TotalCommentsParsed int                   `json:"total_comments_parsed"`
	Analysis            map[string]any        `json:"analysis"`
}

// Build merges normalizer output with the caller identifiers.
func Build(meta chatlog.BroadcastMeta, comments []chatlog.Comment, broadcastKey, groupLabel string, now time.Time) IntegratedDocument {
	return IntegratedDocument{
		BroadcastKey:        broadcastKey,
		GroupLabel:          groupLabel,
		GeneratedAt:         now.UTC().Format(time.RFC3339),
		Broadcast:           meta,
		TotalCommentsParsed: len(comments),
		Analysis:            map[string]any{},
	}
}

// Dir returns the deterministic staging path for a broadcast.
func Dir(dataDir, groupLabel, broadcastKey string) string {
	return filepath.Join(dataDir, groupLabel, broadcastKey)
}

// Write persists the integrated document and the comment array under the
// staging path derived from the grouping label and broadcast key, creating
// directories as needed and replacing any prior artifacts.
func Write(dataDir string, doc IntegratedDocument, comments []chatlog.Comment) (string, error) {
	dir := Dir(dataDir, doc.GroupLabel, doc.BroadcastKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, DocumentFile), doc); err != nil {
		return "", err
	}
	if comments == nil {
		comments = []chatlog.Comment{}
	}
	if err := writeJSON(filepath.Join(dir, CommentsFile), comments); err != nil {
		return "", err
	}
	slog.Info("integrated record written",
		slog.String("component", "record"),
		slog.String("dir", dir),
		slog.Int("comments", len(comments)))
	return dir, nil
}

// Load reads both artifacts back from a staging directory. A missing artifact
// is a precondition failure for the importer and is surfaced as an error.
func Load(dir string) (IntegratedDocument, []chatlog.Comment, error) {
	var doc IntegratedDocument
	if err := readJSON(filepath.Join(dir, DocumentFile), &doc); err != nil {
		return doc, nil, err
	}
	var comments []chatlog.Comment
	if err := readJSON(filepath.Join(dir, CommentsFile), &comments); err != nil {
		return doc, nil, err
	}
	return doc, comments, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
