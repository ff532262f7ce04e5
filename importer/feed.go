package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/onnwee/chat-archive/chatlog"
	"github.com/onnwee/chat-archive/db"
	"github.com/onnwee/chat-archive/telemetry"
)

// FeedComment is one row of the flattened comment feed produced by the
// external scraping tooling.
type FeedComment struct {
	LvValue     string          `json:"lv_value"`
	UserID      string          `json:"user_id"`
	UserName    string          `json:"user_name"`
	CommentText string          `json:"comment_text"`
	CommentNo   json.RawMessage `json:"comment_no"`
	Timestamp   json.RawMessage `json:"timestamp"`
	ElapsedTime string          `json:"elapsed_time"`
	LiveTitle   string          `json:"live_title"`
	StartTime   string          `json:"start_time"`
}

// ImportFeed merges a flattened comment feed into the store. A missing feed
// file is a fatal precondition; any single malformed row aborts the run with
// no partial commit boundary below it. Rows are applied in feed order, and
// the broadcast upsert for a key always precedes its comments.
func (im *Importer) ImportFeed(ctx context.Context, path string) (Stats, error) {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "importer"))

	data, err := os.ReadFile(path)
	if err != nil {
		return Stats{}, fmt.Errorf("read feed: %w", err)
	}
	var feed []FeedComment
	if err := json.Unmarshal(data, &feed); err != nil {
		return Stats{}, fmt.Errorf("parse feed %s: %w", path, err)
	}
	if err := db.EnsureCommentColumns(ctx, im.db); err != nil {
		return Stats{}, err
	}

	var stats Stats
	dur := telemetry.TimeFunc(telemetry.ImportDuration, func() {
		seenKeys := map[string]bool{}
		for i, row := range feed {
			var c chatlog.Comment
			c, err = row.toComment()
			if err != nil {
				err = fmt.Errorf("feed row %d: %w", i, err)
				return
			}
			var bid int64
			bid, err = im.upsertBroadcast(ctx, row.LvValue, row.LiveTitle, "", row.StartTime)
			if err != nil {
				return
			}
			if !seenKeys[row.LvValue] {
				seenKeys[row.LvValue] = true
				stats.Broadcasts++
			}
			if err = im.upsertComment(ctx, bid, row.LvValue, row.LiveTitle, row.StartTime, c); err != nil {
				err = fmt.Errorf("feed row %d: %w", i, err)
				return
			}
			stats.Comments++
		}
	})
	if err != nil {
		return stats, err
	}
	logger.Info("feed import finished",
		slog.String("feed", path),
		slog.Int("broadcasts", stats.Broadcasts),
		slog.Int("comments", stats.Comments),
		slog.Duration("took", dur))
	return stats, nil
}

// toComment validates and converts one feed row. The feed has been observed
// with both string and number encodings for comment_no and timestamp, so both
// are accepted. A row without a usable timestamp is malformed.
func (r FeedComment) toComment() (chatlog.Comment, error) {
	if r.LvValue == "" {
		return chatlog.Comment{}, fmt.Errorf("missing lv_value")
	}
	seq, err := flexInt(r.CommentNo)
	if err != nil {
		return chatlog.Comment{}, fmt.Errorf("malformed comment_no: %w", err)
	}
	ts, err := flexInt(r.Timestamp)
	if err != nil {
		return chatlog.Comment{}, fmt.Errorf("malformed timestamp: %w", err)
	}
	if ts == 0 {
		// 0 is the "unknown time" sentinel; such rows are never persisted.
		return chatlog.Comment{}, fmt.Errorf("missing or zero timestamp")
	}
	return chatlog.Comment{
		SequenceNo:  int(seq),
		AuthorID:    r.UserID,
		AuthorName:  r.UserName,
		Text:        r.CommentText,
		PostedAt:    ts,
		ElapsedTime: r.ElapsedTime,
	}, nil
}

// flexInt parses a JSON value that may be a number, a quoted number, or
// absent (zero).
func flexInt(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	s := string(raw)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return v, nil
}
