package domain

import (
	"testing"
	"time"
)

func TestAuthorFromURI(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want string
	}{
		{
			name: "plc did",
			uri:  "at://did:plc:abc123/app.bsky.feed.post/3l3qo2vuowo2b",
			want: "did:plc:abc123",
		},
		{
			name: "web did",
			uri:  "at://did:web:example.com/app.bsky.feed.post/xyz",
			want: "did:web:example.com",
		},
		{
			name: "authority only",
			uri:  "at://did:plc:abc123",
			want: "did:plc:abc123",
		},
		{
			name: "missing scheme",
			uri:  "did:plc:abc123/app.bsky.feed.post/xyz",
			want: "",
		},
		{
			name: "authority is not a did",
			uri:  "at://example.com/app.bsky.feed.post/xyz",
			want: "",
		},
		{
			name: "empty",
			uri:  "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AuthorFromURI(tt.uri); got != tt.want {
				t.Errorf("AuthorFromURI(%q) = %q, want %q", tt.uri, got, tt.want)
			}
		})
	}
}

func TestClassifyRepost(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	threshold := 24 * time.Hour

	ago := func(d time.Duration) *time.Time {
		t := now.Add(-d)
		return &t
	}

	tests := []struct {
		name             string
		reposter         string
		subjectAuthor    string
		subjectCreatedAt *time.Time
		want             bool
	}{
		{
			name:             "not a self-repost",
			reposter:         "did:plc:bob",
			subjectAuthor:    "did:plc:carol",
			subjectCreatedAt: ago(time.Hour),
			want:             true,
		},
		{
			name:             "fresh self-repost suppressed",
			reposter:         "did:plc:alice",
			subjectAuthor:    "did:plc:alice",
			subjectCreatedAt: ago(time.Hour),
			want:             false,
		},
		{
			name:             "self-repost just under threshold suppressed",
			reposter:         "did:plc:alice",
			subjectAuthor:    "did:plc:alice",
			subjectCreatedAt: ago(24*time.Hour - time.Second),
			want:             false,
		},
		{
			name:             "self-repost exactly at threshold visible",
			reposter:         "did:plc:alice",
			subjectAuthor:    "did:plc:alice",
			subjectCreatedAt: ago(24 * time.Hour),
			want:             true,
		},
		{
			name:             "old self-repost visible",
			reposter:         "did:plc:alice",
			subjectAuthor:    "did:plc:alice",
			subjectCreatedAt: ago(30 * time.Hour),
			want:             true,
		},
		{
			name:             "unknown subject passes through",
			reposter:         "did:plc:alice",
			subjectAuthor:    "did:plc:alice",
			subjectCreatedAt: nil,
			want:             true,
		},
		{
			name:             "unparseable subject author passes through",
			reposter:         "did:plc:alice",
			subjectAuthor:    "",
			subjectCreatedAt: nil,
			want:             true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyRepost(tt.reposter, tt.subjectAuthor, tt.subjectCreatedAt, now, threshold)
			if got != tt.want {
				t.Errorf("ClassifyRepost() = %v, want %v", got, tt.want)
			}
		})
	}
}
