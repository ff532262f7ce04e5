package embed

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/onnwee/chat-archive/testutil"
	"github.com/onnwee/chat-archive/vector"
)

type fakeEmbedder struct {
	calls   []string
	failFor map[string]bool
	onEmbed func(text string)
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	f.calls = append(f.calls, text)
	if f.onEmbed != nil {
		f.onEmbed(text)
	}
	if f.failFor[text] {
		return nil, fmt.Errorf("provider unavailable")
	}
	return []float32{float32(len(text))}, nil
}

func seedComment(t *testing.T, database *sql.DB, id int64, authorID, text string, postedAt int64, tracked bool) {
	t.Helper()
	trackedInt := 0
	if tracked {
		trackedInt = 1
	}
	_, err := database.Exec(
		`INSERT INTO comments (id, broadcast_id, author_id, author_name, text, sequence_no, posted_at, is_tracked_author) VALUES (?,?,?,?,?,?,?,?)`,
		id, 1, authorID, authorID, text, id, postedAt, trackedInt)
	if err != nil {
		t.Fatalf("seed comment %d: %v", id, err)
	}
}

func setupPipeline(t *testing.T) (*Pipeline, *sql.DB, *vector.Store, *fakeEmbedder) {
	t.Helper()
	database := testutil.SetupArchiveDB(t)
	if _, err := database.Exec(`INSERT INTO broadcasts (id, broadcast_key, title) VALUES (1,'lv100','Show')`); err != nil {
		t.Fatalf("seed broadcast: %v", err)
	}
	store := testutil.SetupVectorStore(t)
	fe := &fakeEmbedder{failFor: map[string]bool{}}
	p := &Pipeline{
		DB:            database,
		Vectors:       store,
		Embedder:      fe,
		ModelName:     "test-model",
		MinTextLength: 5,
		Delay:         0,
	}
	return p, database, store, fe
}

func TestRunSkipsAlreadyEmbedded(t *testing.T) {
	ctx := context.Background()
	p, database, store, fe := setupPipeline(t)
	seedComment(t, database, 7, "u1", "comment seven", 100, true)
	seedComment(t, database, 8, "u1", "comment eight", 200, true)

	// id 7 is already vectorized before the run.
	if err := store.SaveCommentVector(ctx, vector.CommentVector{CommentID: 7, Vector: []float32{1}}); err != nil {
		t.Fatalf("pre-seed vector: %v", err)
	}

	stats, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Selected != 2 || stats.AlreadyEmbedded != 1 || stats.Embedded != 1 {
		t.Errorf("stats = %+v, want selected 2, already 1, embedded 1", stats)
	}
	if len(fe.calls) != 1 || fe.calls[0] != "comment eight" {
		t.Errorf("provider calls = %v, want only comment eight", fe.calls)
	}
	n, err := store.CountCommentVectors(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("vectors = %d, want 2", n)
	}
}

func TestRunIsIncrementalAcrossRuns(t *testing.T) {
	ctx := context.Background()
	p, database, _, fe := setupPipeline(t)
	seedComment(t, database, 1, "u1", "first tracked comment", 10, true)
	seedComment(t, database, 2, "u1", "second tracked comment", 20, true)

	if _, err := p.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	stats, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Embedded != 0 || stats.AlreadyEmbedded != 2 {
		t.Errorf("second run stats = %+v, want nothing new", stats)
	}
	if len(fe.calls) != 2 {
		t.Errorf("provider called %d times total, want 2", len(fe.calls))
	}
}

func TestRunSelectsOnlyTrackedAndLongEnough(t *testing.T) {
	ctx := context.Background()
	p, database, _, fe := setupPipeline(t)
	seedComment(t, database, 1, "u1", "long enough tracked", 30, true)
	seedComment(t, database, 2, "u2", "untracked but long enough", 10, false)
	seedComment(t, database, 3, "u1", "hi", 20, true) // below MinTextLength

	stats, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Selected != 1 || stats.Embedded != 1 {
		t.Errorf("stats = %+v, want exactly one selection", stats)
	}
	if len(fe.calls) != 1 || fe.calls[0] != "long enough tracked" {
		t.Errorf("provider calls = %v", fe.calls)
	}
}

func TestRunOrdersByPostedAtAndHonorsLimit(t *testing.T) {
	ctx := context.Background()
	p, database, _, fe := setupPipeline(t)
	seedComment(t, database, 1, "u1", "posted last!", 300, true)
	seedComment(t, database, 2, "u1", "posted first", 100, true)
	seedComment(t, database, 3, "u1", "posted middle", 200, true)

	p.Limit = 2
	stats, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Selected != 2 {
		t.Errorf("selected = %d, want limit of 2", stats.Selected)
	}
	want := []string{"posted first", "posted middle"}
	if len(fe.calls) != 2 || fe.calls[0] != want[0] || fe.calls[1] != want[1] {
		t.Errorf("provider calls = %v, want %v", fe.calls, want)
	}
}

func TestRunContinuesPastProviderFailure(t *testing.T) {
	ctx := context.Background()
	p, database, store, fe := setupPipeline(t)
	seedComment(t, database, 1, "u1", "this one fails", 10, true)
	seedComment(t, database, 2, "u1", "this one works", 20, true)
	fe.failFor["this one fails"] = true

	stats, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("run should not abort on per-item failure: %v", err)
	}
	if stats.Failed != 1 || stats.Embedded != 1 {
		t.Errorf("stats = %+v, want 1 failed / 1 embedded", stats)
	}
	n, _ := store.CountCommentVectors(ctx)
	if n != 1 {
		t.Errorf("vectors = %d, want 1", n)
	}
}

func TestRunCountsRacingDuplicateAsSkip(t *testing.T) {
	ctx := context.Background()
	p, database, store, fe := setupPipeline(t)
	seedComment(t, database, 1, "u1", "racy comment here", 10, true)

	// Simulate a concurrent writer landing between the filter step and the
	// save: the constraint is the backstop.
	fe.onEmbed = func(text string) {
		if err := store.SaveCommentVector(ctx, vector.CommentVector{CommentID: 1, Vector: []float32{9}}); err != nil {
			t.Errorf("racing save: %v", err)
		}
	}

	stats, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Duplicates != 1 || stats.Embedded != 0 {
		t.Errorf("stats = %+v, want the conflict counted as a skip", stats)
	}
}

func TestStatusReportsProgressWithoutWrites(t *testing.T) {
	ctx := context.Background()
	p, database, store, _ := setupPipeline(t)
	seedComment(t, database, 1, "u1", "tracked comment one", 10, true)
	seedComment(t, database, 2, "u1", "tracked comment two", 20, true)
	seedComment(t, database, 3, "u2", "untracked comment", 30, false)
	if err := store.SaveCommentVector(ctx, vector.CommentVector{CommentID: 1, Vector: []float32{1}}); err != nil {
		t.Fatalf("seed vector: %v", err)
	}

	st, err := p.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.TotalTracked != 2 || st.TotalVectorized != 1 || st.Remaining != 1 {
		t.Errorf("status = %+v, want 2/1/1", st)
	}
	n, _ := store.CountCommentVectors(ctx)
	if n != 1 {
		t.Errorf("status performed writes: %d vectors", n)
	}
}
