package chatlog

import (
	"path/filepath"
	"strings"
	"testing"
)

const sampleLog = `<?xml version="1.0" encoding="UTF-8"?>
<CommentLog>
  <LiveInfo>
    <LiveTitle>Evening Stream</LiveTitle>
    <Broadcaster>alice</Broadcaster>
    <CommunityName>co12345</CommunityName>
    <StartTime>1700000000</StartTime>
    <EndTime>1700007200</EndTime>
    <WatchCount>321</WatchCount>
    <CommentCount>4</CommentCount>
    <OwnerId>owner1</OwnerId>
    <OwnerName>Alice</OwnerName>
  </LiveInfo>
  <chat no="1" date="100" user_id="u1" name="first">late</chat>
  <chat no="2" date="50" user_id="u2" name="second" premium="1">early</chat>
  <chat no="3" date="75" user_id="u3" anonymity="1">middle</chat>
  <chat no="4" date="0" user_id="u4">never stored</chat>
</CommentLog>`

func TestParseDropsZeroTimeAndSorts(t *testing.T) {
	res, err := Parse(strings.NewReader(sampleLog))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(res.Comments) != 3 {
		t.Fatalf("got %d comments, want 3", len(res.Comments))
	}
	if res.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", res.Skipped)
	}
	want := []int64{50, 75, 100}
	for i, c := range res.Comments {
		if c.PostedAt != want[i] {
			t.Errorf("comment %d posted_at = %d, want %d", i, c.PostedAt, want[i])
		}
		if c.PostedAt == 0 {
			t.Errorf("zero-time entry leaked into output")
		}
	}
	if res.Comments[0].Text != "early" || res.Comments[2].Text != "late" {
		t.Errorf("unexpected text order: %q ... %q", res.Comments[0].Text, res.Comments[2].Text)
	}
}

func TestParseFlags(t *testing.T) {
	res, err := Parse(strings.NewReader(sampleLog))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	byAuthor := map[string]Comment{}
	for _, c := range res.Comments {
		byAuthor[c.AuthorID] = c
	}
	if !byAuthor["u2"].IsPremium {
		t.Errorf("premium flag not carried for u2")
	}
	if byAuthor["u1"].IsPremium {
		t.Errorf("u1 unexpectedly premium")
	}
	if !byAuthor["u3"].IsAnonymous {
		t.Errorf("anonymity presence not detected for u3")
	}
	if byAuthor["u3"].AuthorName != "" {
		t.Errorf("missing name should default to empty, got %q", byAuthor["u3"].AuthorName)
	}
}

func TestParseMetadata(t *testing.T) {
	res, err := Parse(strings.NewReader(sampleLog))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	m := res.Meta
	if m.Title != "Evening Stream" || m.Broadcaster != "alice" || m.OwnerID != "owner1" {
		t.Errorf("unexpected metadata: %+v", m)
	}
	if m.WatchCount != "321" || m.CommentCount != "4" {
		t.Errorf("unexpected counters: %+v", m)
	}
}

func TestParseMissingMetadataYieldsEmptyStrings(t *testing.T) {
	doc := `<CommentLog><chat no="1" date="10" user_id="u">hi</chat></CommentLog>`
	res, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if res.Meta != (BroadcastMeta{}) {
		t.Errorf("expected zero metadata, got %+v", res.Meta)
	}
	if len(res.Comments) != 1 {
		t.Errorf("got %d comments, want 1", len(res.Comments))
	}
}

func TestParseStripsNamespaces(t *testing.T) {
	doc := `<ns:CommentLog xmlns:ns="urn:x" xmlns:m="urn:y">
  <m:LiveInfo><m:LiveTitle>spaced</m:LiveTitle></m:LiveInfo>
  <ns:chat no="1" date="5" user_id="u1">body</ns:chat>
</ns:CommentLog>`
	res, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if res.Meta.Title != "spaced" {
		t.Errorf("namespaced metadata not found: %+v", res.Meta)
	}
	if len(res.Comments) != 1 || res.Comments[0].Text != "body" {
		t.Fatalf("namespaced chat entry not found: %+v", res.Comments)
	}
}

func TestParseStableForEqualTimestamps(t *testing.T) {
	doc := `<CommentLog>
  <chat no="1" date="20" user_id="a">one</chat>
  <chat no="2" date="20" user_id="b">two</chat>
  <chat no="3" date="20" user_id="c">three</chat>
  <chat no="4" date="10" user_id="d">zero</chat>
</CommentLog>`
	res, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	got := make([]string, 0, len(res.Comments))
	for _, c := range res.Comments {
		got = append(got, c.AuthorID)
	}
	want := []string{"d", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestParseSkipsMalformedEntries(t *testing.T) {
	doc := `<CommentLog>
  <chat no="x" date="30" user_id="a">bad seq</chat>
  <chat no="2" date="nope" user_id="b">bad date</chat>
  <chat no="3" date="40" user_id="c">fine</chat>
</CommentLog>`
	res, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(res.Comments) != 1 || res.Comments[0].AuthorID != "c" {
		t.Fatalf("expected only the well-formed entry, got %+v", res.Comments)
	}
	if res.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", res.Skipped)
	}
}

func TestParseFileMissingIsFatal(t *testing.T) {
	if _, err := ParseFile(filepath.Join(t.TempDir(), "absent.xml")); err == nil {
		t.Fatalf("expected error for missing document")
	}
}
