package firehose

import (
	"testing"

	appbsky "github.com/bluesky-social/indigo/api/bsky"
	"github.com/goccy/go-json"
)

func TestParseEventPostCreate(t *testing.T) {
	frame := []byte(`{
		"did": "did:plc:alice",
		"time_us": 1748779200000000,
		"kind": "commit",
		"commit": {
			"rev": "3l3qo2vuowo2b",
			"operation": "create",
			"collection": "app.bsky.feed.post",
			"rkey": "3l3qo2vuowo2b",
			"record": {
				"$type": "app.bsky.feed.post",
				"text": "hello",
				"createdAt": "2025-06-01T12:00:00.000Z"
			},
			"cid": "bafyrei"
		}
	}`)

	event, err := parseEvent(frame)
	if err != nil {
		t.Fatalf("parseEvent: %v", err)
	}
	if event.DID != "did:plc:alice" {
		t.Errorf("DID = %q, want did:plc:alice", event.DID)
	}
	if event.TimeUS != 1748779200000000 {
		t.Errorf("TimeUS = %d, want 1748779200000000", event.TimeUS)
	}
	if event.Kind != "commit" {
		t.Errorf("Kind = %q, want commit", event.Kind)
	}
	if event.Commit == nil {
		t.Fatal("Commit is nil")
	}
	if event.Commit.Operation != "create" || event.Commit.Collection != collectionPost {
		t.Errorf("commit = %+v, want create on %s", event.Commit, collectionPost)
	}

	var post appbsky.FeedPost
	if err := json.Unmarshal(event.Commit.Record, &post); err != nil {
		t.Fatalf("decode post record: %v", err)
	}
	if post.CreatedAt != "2025-06-01T12:00:00.000Z" {
		t.Errorf("CreatedAt = %q", post.CreatedAt)
	}
}

func TestParseEventRepostCreate(t *testing.T) {
	frame := []byte(`{
		"did": "did:plc:alice",
		"time_us": 1748779260000000,
		"kind": "commit",
		"commit": {
			"rev": "3l3qo2vuowo2c",
			"operation": "create",
			"collection": "app.bsky.feed.repost",
			"rkey": "3l3qo2vuowo2c",
			"record": {
				"$type": "app.bsky.feed.repost",
				"createdAt": "2025-06-01T12:01:00.000Z",
				"subject": {
					"uri": "at://did:plc:alice/app.bsky.feed.post/3l3qo2vuowo2b",
					"cid": "bafyrei"
				}
			},
			"cid": "bafyrej"
		}
	}`)

	event, err := parseEvent(frame)
	if err != nil {
		t.Fatalf("parseEvent: %v", err)
	}
	if event.Commit == nil || event.Commit.Collection != collectionRepost {
		t.Fatalf("commit = %+v, want %s", event.Commit, collectionRepost)
	}

	var repost appbsky.FeedRepost
	if err := json.Unmarshal(event.Commit.Record, &repost); err != nil {
		t.Fatalf("decode repost record: %v", err)
	}
	if repost.Subject == nil {
		t.Fatal("Subject is nil")
	}
	if repost.Subject.Uri != "at://did:plc:alice/app.bsky.feed.post/3l3qo2vuowo2b" {
		t.Errorf("Subject.Uri = %q", repost.Subject.Uri)
	}
}

func TestParseEventDelete(t *testing.T) {
	frame := []byte(`{
		"did": "did:plc:alice",
		"time_us": 1748779320000000,
		"kind": "commit",
		"commit": {
			"rev": "3l3qo2vuowo2d",
			"operation": "delete",
			"collection": "app.bsky.feed.post",
			"rkey": "3l3qo2vuowo2b"
		}
	}`)

	event, err := parseEvent(frame)
	if err != nil {
		t.Fatalf("parseEvent: %v", err)
	}
	if event.Commit == nil {
		t.Fatal("Commit is nil")
	}
	if event.Commit.Operation != "delete" {
		t.Errorf("Operation = %q, want delete", event.Commit.Operation)
	}
	if len(event.Commit.Record) != 0 {
		t.Errorf("Record = %s, want empty on delete", event.Commit.Record)
	}
}

func TestParseEventIdentityKind(t *testing.T) {
	frame := []byte(`{
		"did": "did:plc:alice",
		"time_us": 1748779380000000,
		"kind": "identity"
	}`)

	event, err := parseEvent(frame)
	if err != nil {
		t.Fatalf("parseEvent: %v", err)
	}
	if event.Kind != "identity" {
		t.Errorf("Kind = %q, want identity", event.Kind)
	}
	if event.Commit != nil {
		t.Errorf("Commit = %+v, want nil for non-commit kinds", event.Commit)
	}
}

func TestParseEventMalformed(t *testing.T) {
	if _, err := parseEvent([]byte(`{"did": "did:plc:alice", "time_us": `)); err == nil {
		t.Error("parseEvent should fail on truncated JSON")
	}
}

func TestParseCreatedAt(t *testing.T) {
	tests := []struct {
		name  string
		value string
		exact bool
	}{
		{"rfc3339 with millis", "2025-06-01T12:00:00.000Z", true},
		{"rfc3339 with offset", "2025-06-01T14:00:00+02:00", true},
		{"no timezone suffix", "2025-06-01T12:00:00.000000000", true},
		{"garbage falls back to now", "not-a-timestamp", false},
		{"empty falls back to now", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCreatedAt(tt.value)
			if tt.exact {
				if got.Year() != 2025 || got.Month() != 6 || got.Day() != 1 {
					t.Errorf("parseCreatedAt(%q) = %v, want the encoded date", tt.value, got)
				}
			} else {
				if got.IsZero() {
					t.Errorf("parseCreatedAt(%q) should fall back to a current timestamp", tt.value)
				}
			}
		})
	}
}
