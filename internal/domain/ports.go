package domain

import (
	"context"
	"time"
)

// FeedRepository defines persistence operations for indexed posts and reposts.
type FeedRepository interface {
	// UpsertPost inserts a post keyed by URI. Re-delivery of a known URI is
	// a no-op; the bool reports whether a row was actually inserted.
	UpsertPost(ctx context.Context, post *Post) (bool, error)

	// UpsertRepost inserts a repost keyed by URI. A second delivery never
	// creates a duplicate row and never changes the stored Visible flag.
	UpsertRepost(ctx context.Context, repost *Repost) (bool, error)

	// GetPost retrieves a post by AT-URI. Returns (nil, nil) when unknown.
	GetPost(ctx context.Context, uri string) (*Post, error)

	// DeletePost removes a post by its AT-URI.
	DeletePost(ctx context.Context, uri string) error

	// DeleteRepost removes a repost by its AT-URI.
	DeleteRepost(ctx context.Context, uri string) error

	// ListFeedItems returns posts and visible reposts merged by indexed_at
	// descending, ties broken by URI. The cursor is opaque; an unparseable
	// cursor restarts from the top. Returns items and the next cursor
	// (empty string if no more results).
	ListFeedItems(ctx context.Context, limit int, cursor string) ([]FeedItem, string, error)

	// DeleteOlderThan removes all rows with indexed_at older than maxAge.
	// Returns the number of rows deleted.
	DeleteOlderThan(ctx context.Context, maxAge time.Duration) (int64, error)
}

// FollowRepository defines persistence operations for the followed-accounts set.
type FollowRepository interface {
	// ReplaceFollows swaps the entire stored follow set in one transaction.
	ReplaceFollows(ctx context.Context, follows []Follow) error

	// FollowedDIDs returns the DIDs of the current follow set.
	FollowedDIDs(ctx context.Context) ([]string, error)
}

// CursorRepository defines persistence operations for firehose cursors.
type CursorRepository interface {
	// GetCursor retrieves the last-processed firehose cursor for the given
	// service name. Returns 0 if no cursor has been saved.
	GetCursor(ctx context.Context, service string) (int64, error)

	// UpdateCursor persists the firehose cursor so we can resume on restart.
	UpdateCursor(ctx context.Context, service string, cursor int64) error
}

// FollowSource fetches the authoritative follow list from the network.
type FollowSource interface {
	FetchFollows(ctx context.Context) ([]Follow, error)
}
