package domain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// FeedService is the core domain service. It owns the business logic for
// indexing posts and reposts from followed accounts, classifying self-reposts,
// maintaining the follow set, and serving feed skeletons.
type FeedService struct {
	feedURI   string
	feedPath  string
	threshold time.Duration
	repo      FeedRepository
	follows   FollowRepository
	cursors   CursorRepository
	source    FollowSource
	logger    *slog.Logger
}

// NewFeedService creates a FeedService serving the given feed URI.
func NewFeedService(
	feedURI string,
	threshold time.Duration,
	repo FeedRepository,
	follows FollowRepository,
	cursors CursorRepository,
	source FollowSource,
	logger *slog.Logger,
) *FeedService {
	return &FeedService{
		feedURI:   feedURI,
		feedPath:  feedURIPath(feedURI),
		threshold: threshold,
		repo:      repo,
		follows:   follows,
		cursors:   cursors,
		source:    source,
		logger:    logger,
	}
}

// FeedURIs returns the AT-URIs of all registered feeds.
func (s *FeedService) FeedURIs() []string {
	return []string{s.feedURI}
}

// ProcessNewPost indexes a post from a followed account. Returns true if the
// post was newly inserted; re-delivery of a known URI is a no-op.
func (s *FeedService) ProcessNewPost(ctx context.Context, incoming *IncomingPost) (bool, error) {
	post := &Post{
		URI:       incoming.URI,
		AuthorDID: incoming.AuthorDID,
		CreatedAt: incoming.CreatedAt,
		IndexedAt: time.Now().UTC(),
	}
	inserted, err := s.repo.UpsertPost(ctx, post)
	if err != nil {
		return false, fmt.Errorf("upsert post: %w", err)
	}
	return inserted, nil
}

// ProcessNewRepost classifies and indexes a repost. The visibility decision
// is made here, once, with whatever is locally known about the subject post;
// it is never revisited even if the subject post shows up later.
func (s *FeedService) ProcessNewRepost(ctx context.Context, incoming *IncomingRepost) (*Repost, error) {
	subjectAuthor := AuthorFromURI(incoming.SubjectURI)

	var subjectCreatedAt *time.Time
	subject, err := s.repo.GetPost(ctx, incoming.SubjectURI)
	if err != nil {
		return nil, fmt.Errorf("lookup subject post: %w", err)
	}
	if subject != nil {
		subjectCreatedAt = &subject.CreatedAt
	}

	now := time.Now().UTC()
	repost := &Repost{
		URI:              incoming.URI,
		ReposterDID:      incoming.ReposterDID,
		SubjectURI:       incoming.SubjectURI,
		SubjectAuthorDID: subjectAuthor,
		SubjectCreatedAt: subjectCreatedAt,
		CreatedAt:        incoming.CreatedAt,
		IndexedAt:        now,
		Visible:          ClassifyRepost(incoming.ReposterDID, subjectAuthor, subjectCreatedAt, now, s.threshold),
	}

	if _, err := s.repo.UpsertRepost(ctx, repost); err != nil {
		return nil, fmt.Errorf("upsert repost: %w", err)
	}

	if !repost.Visible {
		s.logger.Info("suppressed self-repost",
			"reposter", incoming.ReposterDID,
			"subject", incoming.SubjectURI,
		)
	}

	return repost, nil
}

// ProcessDeletePost removes a post by URI.
func (s *FeedService) ProcessDeletePost(ctx context.Context, uri string) error {
	return s.repo.DeletePost(ctx, uri)
}

// ProcessDeleteRepost removes a repost by URI.
func (s *FeedService) ProcessDeleteRepost(ctx context.Context, uri string) error {
	return s.repo.DeleteRepost(ctx, uri)
}

// GetFeedSkeleton returns a page of the feed skeleton for the given feed URI.
func (s *FeedService) GetFeedSkeleton(ctx context.Context, feedURI string, limit int, cursor string) (*FeedSkeleton, error) {
	if !s.servesFeed(feedURI) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, feedURI)
	}

	items, nextCursor, err := s.repo.ListFeedItems(ctx, limit, cursor)
	if err != nil {
		return nil, fmt.Errorf("list feed items: %w", err)
	}

	return &FeedSkeleton{
		Cursor: nextCursor,
		Items:  items,
	}, nil
}

// FollowedDIDs returns the stored follow set; the subscriber reads it at
// (re)subscribe time.
func (s *FeedService) FollowedDIDs(ctx context.Context) ([]string, error) {
	return s.follows.FollowedDIDs(ctx)
}

// RefreshFollows fetches the authoritative follow list and replaces the
// stored set when membership changed. A failed or empty fetch leaves the
// stored set untouched. Returns whether membership changed.
func (s *FeedService) RefreshFollows(ctx context.Context) (bool, error) {
	fetched, err := s.source.FetchFollows(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch follows: %w", err)
	}
	if len(fetched) == 0 {
		s.logger.Warn("empty follow list returned, keeping existing set")
		return false, nil
	}

	current, err := s.follows.FollowedDIDs(ctx)
	if err != nil {
		return false, fmt.Errorf("read stored follows: %w", err)
	}
	if sameMembers(current, fetched) {
		return false, nil
	}

	if err := s.follows.ReplaceFollows(ctx, fetched); err != nil {
		return false, fmt.Errorf("replace follows: %w", err)
	}
	s.logger.Info("follow set replaced", "count", len(fetched))
	return true, nil
}

// PruneOldData removes all rows older than the retention window.
func (s *FeedService) PruneOldData(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.DeleteOlderThan(ctx, retention)
}

// GetCursor retrieves the last-processed firehose cursor for the given service.
func (s *FeedService) GetCursor(ctx context.Context, service string) (int64, error) {
	return s.cursors.GetCursor(ctx, service)
}

// UpdateCursor persists the firehose cursor for the given service.
func (s *FeedService) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	return s.cursors.UpdateCursor(ctx, service, cursor)
}

// servesFeed matches a requested feed URI against the served feed. The
// AppView sends the URI under the publisher's DID (did:plc:...), which may
// differ from the configured service DID, so the authority segment is not
// compared; only the collection and record key are.
func (s *FeedService) servesFeed(uri string) bool {
	if uri == s.feedURI {
		return true
	}
	path := feedURIPath(uri)
	return path != "" && path == s.feedPath
}

// feedURIPath strips the authority from an AT-URI, leaving
// "/app.bsky.feed.generator/<rkey>". Returns "" for anything unparseable.
func feedURIPath(uri string) string {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return ""
	}
	_, path, ok := strings.Cut(rest, "/")
	if !ok {
		return ""
	}
	return "/" + path
}

func sameMembers(current []string, fetched []Follow) bool {
	if len(current) != len(fetched) {
		return false
	}
	set := make(map[string]struct{}, len(current))
	for _, did := range current {
		set[did] = struct{}{}
	}
	for _, f := range fetched {
		if _, ok := set[f.DID]; !ok {
			return false
		}
	}
	return true
}
