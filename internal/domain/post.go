package domain

import "time"

// Post represents an indexed post from a followed account.
type Post struct {
	// URI is the AT-URI of the post (e.g. at://did:plc:abc/app.bsky.feed.post/3l3qo2vuowo2b).
	URI string

	// AuthorDID is the DID of the post's author.
	AuthorDID string

	// CreatedAt is the author-asserted creation time. It may be skewed or
	// backdated, so it is never used for feed ordering.
	CreatedAt time.Time

	// IndexedAt is when we indexed this post. Feed ordering and retention
	// key off this value.
	IndexedAt time.Time
}

// Repost represents an indexed repost and its one-time visibility decision.
type Repost struct {
	// URI is the AT-URI of the repost record.
	URI string

	// ReposterDID is the DID of the account that reposted.
	ReposterDID string

	// SubjectURI is the AT-URI of the post being reposted.
	SubjectURI string

	// SubjectAuthorDID is derived from the subject URI's authority segment,
	// so it is known even when the subject post was never indexed.
	SubjectAuthorDID string

	// SubjectCreatedAt is the subject post's created_at if it was indexed
	// locally, nil otherwise.
	SubjectCreatedAt *time.Time

	// CreatedAt is the author-asserted creation time of the repost.
	CreatedAt time.Time

	// IndexedAt is when we indexed this repost.
	IndexedAt time.Time

	// Visible is decided exactly once at ingestion time and never revisited.
	Visible bool
}

// Follow is a single entry of the followed-accounts set.
type Follow struct {
	DID    string
	Handle string
}

// IncomingPost is a new post event from the firehose that hasn't been
// persisted yet.
type IncomingPost struct {
	URI       string
	AuthorDID string
	CreatedAt time.Time
}

// IncomingRepost is a new repost event from the firehose that hasn't been
// classified or persisted yet.
type IncomingRepost struct {
	URI         string
	ReposterDID string
	SubjectURI  string
	CreatedAt   time.Time
}
