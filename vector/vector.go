// Package vector owns the vector store: one embedding per comment, keyed by
// the relational store's comment id. The store never assigns identity of its
// own beyond the local rowid; broadcast_id and comment_id always reference
// rows owned by the relational store.
package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// ErrDuplicate reports that a comment already has an embedding. The UNIQUE
// constraint on comment_id is the correctness backstop behind the pipeline's
// optimistic filter; callers treat this as a skip, not a failure.
var ErrDuplicate = errors.New("comment already vectorized")

// Store wraps the vector database for the scope of one run.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the vector store at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty vector store path")
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	database, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	return &Store{db: database}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// Migrate applies idempotent schema changes. comment_vectors holds one row
// per embedded comment; analysis_vectors mirrors it for derived-text
// embeddings keyed by analysis result id.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS comment_vectors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			broadcast_id INTEGER,
			comment_id INTEGER UNIQUE,
			author_id TEXT,
			text TEXT,
			vector_bytes BLOB NOT NULL,
			model_name TEXT,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS analysis_vectors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			broadcast_id INTEGER,
			analysis_id INTEGER UNIQUE,
			author_id TEXT,
			text TEXT,
			vector_bytes BLOB NOT NULL,
			model_name TEXT,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_comment_vectors_author ON comment_vectors(author_id)`,
		`CREATE INDEX IF NOT EXISTS idx_comment_vectors_broadcast ON comment_vectors(broadcast_id)`,
	}
	for i, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("vector migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// CommentVector is one embedding record. Text is a copy of the embedded
// source text, kept for audit and debugging.
type CommentVector struct {
	BroadcastID int64
	CommentID   int64
	AuthorID    string
	Text        string
	Vector      []float32
	ModelName   string
}

// SaveCommentVector persists one embedding. Records are created once per
// comment_id and never updated; a second save for the same id returns
// ErrDuplicate.
func (s *Store) SaveCommentVector(ctx context.Context, cv CommentVector) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO comment_vectors (broadcast_id, comment_id, author_id, text, vector_bytes, model_name) VALUES (?,?,?,?,?,?)`,
		cv.BroadcastID, cv.CommentID, cv.AuthorID, cv.Text, EncodeVector(cv.Vector), cv.ModelName)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("save comment vector %d: %w", cv.CommentID, err)
	}
	return nil
}

// ExistingCommentIDs returns the set of comment ids already vectorized, used
// by the pipeline's filter step.
func (s *Store) ExistingCommentIDs(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT comment_id FROM comment_vectors`)
	if err != nil {
		return nil, fmt.Errorf("list vectorized comments: %w", err)
	}
	defer rows.Close()
	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// CountCommentVectors reports how many comments have been vectorized.
func (s *Store) CountCommentVectors(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comment_vectors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count comment vectors: %w", err)
	}
	return n, nil
}

// GetCommentVector loads one embedding record by comment id.
func (s *Store) GetCommentVector(ctx context.Context, commentID int64) (CommentVector, error) {
	var cv CommentVector
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT broadcast_id, comment_id, author_id, text, vector_bytes, model_name FROM comment_vectors WHERE comment_id=?`,
		commentID).Scan(&cv.BroadcastID, &cv.CommentID, &cv.AuthorID, &cv.Text, &blob, &cv.ModelName)
	if err != nil {
		return cv, err
	}
	cv.Vector, err = DecodeVector(blob)
	return cv, err
}

// SaveAnalysisVector persists a derived-text embedding keyed by analysis id,
// with the same create-once semantics as comment vectors.
func (s *Store) SaveAnalysisVector(ctx context.Context, analysisID int64, cv CommentVector) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_vectors (broadcast_id, analysis_id, author_id, text, vector_bytes, model_name) VALUES (?,?,?,?,?,?)`,
		cv.BroadcastID, analysisID, cv.AuthorID, cv.Text, EncodeVector(cv.Vector), cv.ModelName)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("save analysis vector %d: %w", analysisID, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqErr sqlite3.Error
	if !errors.As(err, &sqErr) {
		return false
	}
	return sqErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// EncodeVector packs a float32 vector as little-endian bytes for the
// vector_bytes BLOB column.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector unpacks a vector_bytes BLOB.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
