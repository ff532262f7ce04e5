// Package chatlog parses raw broadcast chat-log documents into canonical
// comment records plus broadcast metadata.
//
// The input is XML with a root element containing any number of <chat>
// entries (attributes: no, date, user_id, name, premium, anonymity, elapsed;
// element text = message body) and a <LiveInfo> metadata section. Documents
// in the wild carry varying namespace declarations, so every tag and
// attribute is matched by its bare local name.
package chatlog

import (
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Comment is one chat utterance in canonical form.
type Comment struct {
	SequenceNo  int    `json:"sequence_no"`
	AuthorID    string `json:"author_id"`
	AuthorName  string `json:"author_name"`
	Text        string `json:"text"`
	PostedAt    int64  `json:"posted_at"`
	ElapsedTime string `json:"elapsed_time"`
	IsPremium   bool   `json:"is_premium"`
	IsAnonymous bool   `json:"is_anonymous"`
}

// BroadcastMeta holds the metadata section of a chat log. Every field is
// optional; a missing section or field yields an empty string, never an error.
type BroadcastMeta struct {
	Title         string `json:"live_title"`
	Broadcaster   string `json:"broadcaster"`
	CommunityName string `json:"community_name"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	WatchCount    string `json:"watch_count"`
	CommentCount  string `json:"comment_count"`
	OwnerID       string `json:"owner_id"`
	OwnerName     string `json:"owner_name"`
}

// ParseResult is the normalizer output. Skipped counts chat entries that were
// discarded (missing/zero post time or malformed numeric fields) so callers
// can report them instead of losing them silently.
type ParseResult struct {
	Meta     BroadcastMeta
	Comments []Comment
	Skipped  int
}

// ParseFile reads and normalizes a chat-log document. A missing or unreadable
// document is fatal for the run and surfaced to the caller.
func ParseFile(path string) (*ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chat log: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close chat log", slog.Any("err", err))
		}
	}()
	res, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse chat log %s: %w", path, err)
	}
	return res, nil
}

// Parse normalizes a chat-log document from r. Individual malformed chat
// entries are skipped with a warning; a document that is not well-formed XML
// is an error.
func Parse(r io.Reader) (*ParseResult, error) {
	logger := slog.Default().With(slog.String("component", "chatlog"))
	res := &ParseResult{}
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch {
		case strings.EqualFold(start.Name.Local, "chat"):
			c, ok, err := parseChat(dec, start, logger)
			if err != nil {
				return nil, err
			}
			if !ok {
				res.Skipped++
				continue
			}
			res.Comments = append(res.Comments, c)
		case strings.EqualFold(start.Name.Local, "LiveInfo"):
			meta, err := parseLiveInfo(dec, start.Name)
			if err != nil {
				return nil, err
			}
			res.Meta = meta
		}
	}
	// Stable: entries sharing a timestamp keep their source order.
	sort.SliceStable(res.Comments, func(i, j int) bool {
		return res.Comments[i].PostedAt < res.Comments[j].PostedAt
	})
	return res, nil
}

// parseChat consumes one <chat> element. The bool result is false when the
// entry must be discarded (absent/zero post time, malformed numerics).
func parseChat(dec *xml.Decoder, start xml.StartElement, logger *slog.Logger) (Comment, bool, error) {
	var c Comment
	valid := true
	postedAtSeen := false
	for _, a := range start.Attr {
		switch strings.ToLower(a.Name.Local) {
		case "date":
			v, err := strconv.ParseInt(strings.TrimSpace(a.Value), 10, 64)
			if err != nil {
				logger.Warn("chat entry has malformed date, skipping", slog.String("date", a.Value))
				valid = false
				continue
			}
			c.PostedAt = v
			postedAtSeen = true
		case "no":
			v, err := strconv.Atoi(strings.TrimSpace(a.Value))
			if err != nil {
				logger.Warn("chat entry has malformed sequence number, skipping", slog.String("no", a.Value))
				valid = false
				continue
			}
			c.SequenceNo = v
		case "user_id":
			c.AuthorID = a.Value
		case "name":
			c.AuthorName = a.Value
		case "premium":
			c.IsPremium = a.Value == "1" || strings.EqualFold(a.Value, "true")
		case "anonymity":
			// Presence of the attribute marks the comment anonymous,
			// whatever its value.
			c.IsAnonymous = true
		case "elapsed":
			c.ElapsedTime = a.Value
		}
	}
	text, err := innerText(dec, start.Name)
	if err != nil {
		return Comment{}, false, fmt.Errorf("decode chat body: %w", err)
	}
	c.Text = text
	if !postedAtSeen || c.PostedAt == 0 {
		// 0 is the "unparseable/unknown" sentinel; such entries are never
		// persisted.
		return Comment{}, false, nil
	}
	return c, valid, nil
}

// parseLiveInfo consumes the metadata section, mapping known child elements
// by bare local name. Unknown children are ignored.
func parseLiveInfo(dec *xml.Decoder, section xml.Name) (BroadcastMeta, error) {
	var meta BroadcastMeta
	fields := map[string]*string{
		"livetitle":     &meta.Title,
		"broadcaster":   &meta.Broadcaster,
		"communityname": &meta.CommunityName,
		"starttime":     &meta.StartTime,
		"endtime":       &meta.EndTime,
		"watchcount":    &meta.WatchCount,
		"commentcount":  &meta.CommentCount,
		"ownerid":       &meta.OwnerID,
		"ownername":     &meta.OwnerName,
	}
	for {
		tok, err := dec.Token()
		if err != nil {
			return meta, fmt.Errorf("decode metadata section: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			text, err := innerText(dec, t.Name)
			if err != nil {
				return meta, fmt.Errorf("decode metadata field: %w", err)
			}
			if dst, ok := fields[strings.ToLower(t.Name.Local)]; ok {
				*dst = strings.TrimSpace(text)
			}
		case xml.EndElement:
			if t.Name.Local == section.Local {
				return meta, nil
			}
		}
	}
}

// innerText accumulates character data until the end of the element named by
// name, descending through any nested markup.
func innerText(dec *xml.Decoder, name xml.Name) (string, error) {
	var sb strings.Builder
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 && t.Name.Local == name.Local {
				return sb.String(), nil
			}
			if depth > 0 {
				depth--
			}
		}
	}
}
