package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/onnwee/chat-archive/db"
	"github.com/onnwee/chat-archive/telemetry"
	"github.com/onnwee/chat-archive/vector"
)

// SetupArchiveDB creates a temp-file relational store and runs migrations.
func SetupArchiveDB(t *testing.T) *sql.DB {
	t.Helper()
	telemetry.Init()
	database, err := db.Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

// SetupVectorStore creates a temp-file vector store and runs migrations.
func SetupVectorStore(t *testing.T) *vector.Store {
	t.Helper()
	telemetry.Init()
	s, err := vector.Open(filepath.Join(t.TempDir(), "vectors.db"))
	if err != nil {
		t.Fatalf("failed to open vector store: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		s.Close()
		t.Fatalf("failed to migrate vector store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}
