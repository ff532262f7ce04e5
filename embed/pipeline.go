package embed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/chat-archive/telemetry"
	"github.com/onnwee/chat-archive/vector"
)

// Pipeline runs one incremental vectorization pass. Both stores are opened
// and owned by the caller for the scope of the run; the pipeline assumes
// single-writer access to the vector store for its duration.
type Pipeline struct {
	DB        *sql.DB
	Vectors   *vector.Store
	Embedder  Embedder
	ModelName string

	// MinTextLength filters out comments too short to embed usefully.
	MinTextLength int
	// Delay paces provider calls to respect external rate limits. This is a
	// cooperative policy, not a hard concurrency control.
	Delay time.Duration
	// Limit caps how many comments one run selects; 0 means unlimited.
	Limit int
}

// RunStats summarizes one pipeline run.
type RunStats struct {
	Selected        int // tracked comments matching the predicate
	AlreadyEmbedded int // removed by the filter step
	Embedded        int // new vectors saved
	Duplicates      int // constraint conflicts counted as skips
	Failed          int // per-comment provider failures
}

type selectedComment struct {
	ID          int64
	BroadcastID int64
	AuthorID    string
	Text        string
}

// Run selects tracked comments, subtracts those already vectorized, and
// embeds the remainder. A single comment's failure never aborts the batch:
// provider errors are logged and skipped, duplicate conflicts are counted.
func (p *Pipeline) Run(ctx context.Context) (RunStats, error) {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "embed_pipeline"))
	var stats RunStats

	comments, err := p.selectTracked(ctx)
	if err != nil {
		return stats, err
	}
	stats.Selected = len(comments)

	existing, err := p.Vectors.ExistingCommentIDs(ctx)
	if err != nil {
		return stats, err
	}

	pending := comments[:0]
	for _, c := range comments {
		if _, ok := existing[c.ID]; ok {
			stats.AlreadyEmbedded++
			continue
		}
		pending = append(pending, c)
	}
	logger.Info("starting embedding run",
		slog.Int("selected", stats.Selected),
		slog.Int("already_embedded", stats.AlreadyEmbedded),
		slog.Int("pending", len(pending)))

	for i, c := range pending {
		if i > 0 && p.Delay > 0 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(p.Delay):
			}
		}
		var vec []float32
		var embedErr error
		telemetry.TimeFunc(telemetry.EmbedCallDuration, func() {
			vec, embedErr = p.Embedder.EmbedText(ctx, c.Text)
		})
		if embedErr != nil {
			logger.Warn("embedding failed, skipping comment",
				slog.Int64("comment_id", c.ID), slog.Any("err", embedErr))
			telemetry.EmbeddingsFailed.Inc()
			stats.Failed++
			continue
		}
		err := p.Vectors.SaveCommentVector(ctx, vector.CommentVector{
			BroadcastID: c.BroadcastID,
			CommentID:   c.ID,
			AuthorID:    c.AuthorID,
			Text:        c.Text,
			Vector:      vec,
			ModelName:   p.ModelName,
		})
		switch {
		case errors.Is(err, vector.ErrDuplicate):
			// The filter raced a concurrent writer; the constraint held.
			logger.Warn("comment already vectorized, skipping", slog.Int64("comment_id", c.ID))
			telemetry.EmbeddingsSkipped.Inc()
			stats.Duplicates++
		case err != nil:
			return stats, err
		default:
			telemetry.EmbeddingsCreated.Inc()
			stats.Embedded++
		}
	}
	logger.Info("embedding run finished",
		slog.Int("embedded", stats.Embedded),
		slog.Int("duplicates", stats.Duplicates),
		slog.Int("failed", stats.Failed))
	return stats, nil
}

// selectTracked queries tracked comments above the length threshold, ordered
// by original posting time.
func (p *Pipeline) selectTracked(ctx context.Context) ([]selectedComment, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := p.DB.QueryContext(ctx,
		`SELECT id, broadcast_id, author_id, text FROM comments
		 WHERE is_tracked_author=1 AND length(text) >= ?
		 ORDER BY posted_at ASC LIMIT ?`,
		p.MinTextLength, limit)
	if err != nil {
		return nil, fmt.Errorf("select tracked comments: %w", err)
	}
	defer rows.Close()
	var out []selectedComment
	for rows.Next() {
		var c selectedComment
		if err := rows.Scan(&c.ID, &c.BroadcastID, &c.AuthorID, &c.Text); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Status reports progress without performing any writes.
type Status struct {
	TotalTracked    int
	TotalVectorized int
	Remaining       int
}

// Status counts tracked comments matching the selection predicate against
// the vectorized total. Read-only.
func (p *Pipeline) Status(ctx context.Context) (Status, error) {
	var st Status
	if err := p.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM comments WHERE is_tracked_author=1 AND length(text) >= ?`,
		p.MinTextLength).Scan(&st.TotalTracked); err != nil {
		return st, fmt.Errorf("count tracked comments: %w", err)
	}
	n, err := p.Vectors.CountCommentVectors(ctx)
	if err != nil {
		return st, err
	}
	st.TotalVectorized = n
	st.Remaining = st.TotalTracked - st.TotalVectorized
	if st.Remaining < 0 {
		st.Remaining = 0
	}
	telemetry.SetBacklog(st.Remaining)
	return st, nil
}
