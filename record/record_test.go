package record

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/onnwee/chat-archive/chatlog"
)

func sampleComments() []chatlog.Comment {
	return []chatlog.Comment{
		{SequenceNo: 1, AuthorID: "u1", Text: "hello", PostedAt: 50},
		{SequenceNo: 2, AuthorID: "u2", Text: "world", PostedAt: 75},
	}
}

func TestBuildCountsAndReservedSlot(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	doc := Build(chatlog.BroadcastMeta{Title: "T"}, sampleComments(), "lv100", "groupA", now)
	if doc.TotalCommentsParsed != 2 {
		t.Errorf("TotalCommentsParsed = %d, want 2", doc.TotalCommentsParsed)
	}
	if doc.GeneratedAt != "2025-06-01T12:00:00Z" {
		t.Errorf("GeneratedAt = %q", doc.GeneratedAt)
	}
	if doc.Analysis == nil || len(doc.Analysis) != 0 {
		t.Errorf("Analysis slot should be present and empty, got %v", doc.Analysis)
	}
}

func TestWriteAndLoadRoundTrip(t *testing.T) {
	dataDir := t.TempDir()
	doc := Build(chatlog.BroadcastMeta{Title: "T", Broadcaster: "alice"}, sampleComments(), "lv100", "groupA", time.Now())
	dir, err := Write(dataDir, doc, sampleComments())
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if want := Dir(dataDir, "groupA", "lv100"); dir != want {
		t.Errorf("dir = %q, want %q", dir, want)
	}
	got, comments, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got.BroadcastKey != "lv100" || got.Broadcast.Title != "T" {
		t.Errorf("unexpected document: %+v", got)
	}
	if len(comments) != 2 || comments[1].Text != "world" {
		t.Errorf("unexpected comments: %+v", comments)
	}
}

func TestWriteOverwritesPriorArtifacts(t *testing.T) {
	dataDir := t.TempDir()
	doc := Build(chatlog.BroadcastMeta{Title: "old"}, sampleComments(), "lv100", "g", time.Now())
	if _, err := Write(dataDir, doc, sampleComments()); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	doc2 := Build(chatlog.BroadcastMeta{Title: "new"}, sampleComments()[:1], "lv100", "g", time.Now())
	dir, err := Write(dataDir, doc2, sampleComments()[:1])
	if err != nil {
		t.Fatalf("second Write: %v", err)
	}
	got, comments, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got.Broadcast.Title != "new" || got.TotalCommentsParsed != 1 {
		t.Errorf("overwrite did not replace document: %+v", got)
	}
	if len(comments) != 1 {
		t.Errorf("overwrite did not replace comments: %d rows", len(comments))
	}
}

func TestWriteEmptyCommentArray(t *testing.T) {
	dataDir := t.TempDir()
	doc := Build(chatlog.BroadcastMeta{}, nil, "lv1", "g", time.Now())
	dir, err := Write(dataDir, doc, nil)
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, CommentsFile))
	if err != nil {
		t.Fatalf("read comments artifact: %v", err)
	}
	if string(data) != "[]\n" {
		t.Errorf("empty comment array should serialize as [], got %q", string(data))
	}
}

func TestLoadMissingArtifactFails(t *testing.T) {
	if _, _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected error for missing artifacts")
	}
}
