package domain

import "errors"

// ErrUnknownFeed is returned when a skeleton is requested for a feed URI this
// generator does not serve.
var ErrUnknownFeed = errors.New("unknown feed")

// FeedItem is a single entry in a feed skeleton page.
type FeedItem struct {
	// PostURI is the AT-URI of the post to hydrate.
	PostURI string

	// RepostURI is set when this entry exists because of a repost; the
	// skeleton response then carries a repost reason.
	RepostURI string
}

// FeedSkeleton is the response body for getFeedSkeleton.
type FeedSkeleton struct {
	Cursor string
	Items  []FeedItem
}
