// Package importer owns writes to the relational store: schema evolution,
// broadcast upsert, and comment upsert from either an integrated staging
// document or a flattened comment feed.
//
// Both inputs funnel into the same upsert keyed by the canonical natural key
// (broadcast_id, sequence_no, author_id), so re-importing identical input is
// a no-op in row counts. Concurrent runs against the same store are not
// supported; single-writer access for the duration of a run is a deployment
// precondition.
package importer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/onnwee/chat-archive/chatlog"
	"github.com/onnwee/chat-archive/db"
	"github.com/onnwee/chat-archive/record"
	"github.com/onnwee/chat-archive/telemetry"
)

// Importer performs one batch import run against an open relational store.
type Importer struct {
	db      *sql.DB
	tracked map[string]bool

	// broadcast_key -> surrogate id, cached for the duration of one run so a
	// batch referencing the same key repeatedly does one lookup.
	cache map[string]int64
}

// New builds an Importer. tracked is the caller's author classification; the
// importer stamps is_tracked_author from it and never derives it.
func New(database *sql.DB, tracked map[string]bool) *Importer {
	if tracked == nil {
		tracked = map[string]bool{}
	}
	return &Importer{db: database, tracked: tracked, cache: make(map[string]int64)}
}

// Stats summarizes one import run.
type Stats struct {
	Broadcasts int
	Comments   int
}

// ImportIntegrated loads the staging artifacts from dir and merges them into
// the store. A missing artifact is a fatal precondition: the run exits before
// touching the store. A single malformed comment row aborts the whole run.
func (im *Importer) ImportIntegrated(ctx context.Context, dir string) (Stats, error) {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "importer"))

	doc, comments, err := record.Load(dir)
	if err != nil {
		return Stats{}, fmt.Errorf("load staging artifacts: %w", err)
	}
	if doc.BroadcastKey == "" {
		return Stats{}, fmt.Errorf("integrated document in %s has no broadcast_key", dir)
	}
	if err := db.EnsureCommentColumns(ctx, im.db); err != nil {
		return Stats{}, err
	}

	var stats Stats
	dur := telemetry.TimeFunc(telemetry.ImportDuration, func() {
		var bid int64
		bid, err = im.upsertBroadcast(ctx, doc.BroadcastKey, doc.Broadcast.Title, doc.Broadcast.Broadcaster, doc.Broadcast.StartTime)
		if err != nil {
			return
		}
		stats.Broadcasts = 1
		for _, c := range comments {
			if err = im.upsertComment(ctx, bid, doc.BroadcastKey, doc.Broadcast.Title, doc.Broadcast.StartTime, c); err != nil {
				err = fmt.Errorf("comment no=%d author=%s: %w", c.SequenceNo, c.AuthorID, err)
				return
			}
			stats.Comments++
		}
	})
	if err != nil {
		return stats, err
	}
	logger.Info("integrated import finished",
		slog.String("broadcast_key", doc.BroadcastKey),
		slog.Int("comments", stats.Comments),
		slog.Duration("took", dur))
	return stats, nil
}

// upsertBroadcast looks up or inserts the broadcast row for key and returns
// its surrogate id. A known key gets its title/start-time refreshed (empty
// incoming values keep the stored ones). The decision is cached per key for
// the run.
func (im *Importer) upsertBroadcast(ctx context.Context, key, title, broadcaster, startTime string) (int64, error) {
	if id, ok := im.cache[key]; ok {
		return id, nil
	}
	var id int64
	err := im.db.QueryRowContext(ctx, `SELECT id FROM broadcasts WHERE broadcast_key=?`, key).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		res, err := im.db.ExecContext(ctx,
			`INSERT INTO broadcasts (broadcast_key, title, broadcaster, start_time) VALUES (?,?,?,?)`,
			key, title, broadcaster, startTime)
		if err != nil {
			return 0, fmt.Errorf("insert broadcast %s: %w", key, err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("broadcast %s surrogate id: %w", key, err)
		}
	case err != nil:
		return 0, fmt.Errorf("lookup broadcast %s: %w", key, err)
	default:
		if _, err := im.db.ExecContext(ctx,
			`UPDATE broadcasts SET title=COALESCE(NULLIF(?,''), title), broadcaster=COALESCE(NULLIF(?,''), broadcaster), start_time=COALESCE(NULLIF(?,''), start_time) WHERE id=?`,
			title, broadcaster, startTime, id); err != nil {
			return 0, fmt.Errorf("update broadcast %s: %w", key, err)
		}
	}
	im.cache[key] = id
	telemetry.BroadcastsUpserted.Inc()
	return id, nil
}

// upsertComment writes one comment row with replace-on-conflict semantics on
// the natural key, carrying the denormalized broadcast fields.
func (im *Importer) upsertComment(ctx context.Context, broadcastID int64, key, title, startTime string, c chatlog.Comment) error {
	_, err := im.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO comments
			(broadcast_id, author_id, author_name, text, sequence_no, posted_at, elapsed_time,
			 is_tracked_author, is_premium, is_anonymous, broadcast_title, broadcast_start_time, broadcast_key)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		broadcastID, c.AuthorID, c.AuthorName, c.Text, c.SequenceNo, c.PostedAt, c.ElapsedTime,
		boolInt(im.tracked[c.AuthorID]), boolInt(c.IsPremium), boolInt(c.IsAnonymous), title, startTime, key)
	if err != nil {
		return fmt.Errorf("upsert comment: %w", err)
	}
	telemetry.CommentsUpserted.Inc()
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
