package firehose

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	appbsky "github.com/bluesky-social/indigo/api/bsky"
	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blackmichael/clean-following/internal/domain"
	"github.com/blackmichael/clean-following/internal/monitoring"
)

const (
	cursorServiceName  = "jetstream"
	cursorSaveInterval = 5 * time.Second

	// replayWindow rewinds the saved cursor on reconnect so no events are
	// lost across a drop; idempotent upserts absorb the re-delivered overlap.
	replayWindow = 5 * time.Second

	collectionPost   = "app.bsky.feed.post"
	collectionRepost = "app.bsky.feed.repost"
)

// wantedCollections is the set of AT Proto collection NSIDs this subscriber
// requests from Jetstream.
var wantedCollections = []string{
	collectionPost,
	collectionRepost,
}

// Subscriber connects to the Jetstream firehose, scoped to the stored follow
// set, and feeds decoded events into the feed service.
type Subscriber struct {
	url         string
	feedService *domain.FeedService
	logger      *slog.Logger
	resub       chan struct{}
}

// NewSubscriber creates a new firehose subscriber.
func NewSubscriber(
	firehoseURL string,
	feedService *domain.FeedService,
	logger *slog.Logger,
) *Subscriber {
	return &Subscriber{
		url:         firehoseURL,
		feedService: feedService,
		logger:      logger,
		resub:       make(chan struct{}, 1),
	}
}

// Resubscribe signals the subscriber to drop its current connection and
// reconnect with the current follow set. Safe to call from any goroutine;
// coalesces repeated signals.
func (s *Subscriber) Resubscribe() {
	select {
	case s.resub <- struct{}{}:
	default:
	}
}

// Start connects to the firehose and processes events until the context is
// cancelled. Connection errors trigger reconnects with capped exponential
// backoff; a resubscribe signal reconnects immediately.
func (s *Subscriber) Start(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		connected, resubscribed, err := s.subscribe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			bo.Reset()
		}
		if resubscribed {
			s.logger.Info("follow set changed, resubscribing")
			continue
		}

		wait := bo.NextBackOff()
		monitoring.FirehoseReconnects.Inc()
		s.logger.Error("firehose connection error, reconnecting",
			"error", err,
			"backoff", wait,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *Subscriber) buildURL(dids []string, cursor int64) string {
	u, _ := url.Parse(s.url)
	q := u.Query()
	for _, c := range wantedCollections {
		q.Add("wantedCollections", c)
	}
	for _, did := range dids {
		q.Add("wantedDids", did)
	}
	if cursor > 0 {
		resumeFrom := cursor - replayWindow.Microseconds()
		q.Set("cursor", fmt.Sprintf("%d", resumeFrom))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Subscriber) subscribe(ctx context.Context) (connected, resubscribed bool, err error) {
	// A resubscribe signal raised while disconnected is already satisfied by
	// the subscription built below; drop it so the watcher does not tear the
	// fresh connection down.
	select {
	case <-s.resub:
	default:
	}

	dids, err := s.feedService.FollowedDIDs(ctx)
	if err != nil {
		return false, false, fmt.Errorf("load follow set: %w", err)
	}

	cursor, err := s.feedService.GetCursor(ctx, cursorServiceName)
	if err != nil {
		s.logger.Warn("failed to load cursor, starting from live", "error", err)
	}

	wsURL := s.buildURL(dids, cursor)
	s.logger.Info("connecting to firehose", "followed_dids", len(dids), "cursor", cursor)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, false, fmt.Errorf("dial firehose: %w", err)
	}
	defer conn.Close()

	s.logger.Info("connected to firehose")

	// ReadMessage blocks, so shutdown and resubscribe interrupt it by
	// closing the connection underneath it.
	watchDone := make(chan struct{})
	defer close(watchDone)
	var wantResub atomic.Bool
	go func() {
		select {
		case <-watchDone:
			return
		case <-ctx.Done():
		case <-s.resub:
			wantResub.Store(true)
		}
		conn.Close()
	}()

	lastCursorSave := time.Now()
	var latestCursor int64

	// Persist the final position when the read loop exits for any reason,
	// so a drop right after a burst only re-delivers the replay window.
	defer func() {
		if latestCursor == 0 {
			return
		}
		saveCtx := context.WithoutCancel(ctx)
		if err := s.feedService.UpdateCursor(saveCtx, cursorServiceName, latestCursor); err != nil {
			s.logger.Error("failed to save cursor on disconnect", "error", err)
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if wantResub.Load() {
				return true, true, nil
			}
			return true, false, fmt.Errorf("read message: %w", err)
		}

		event, err := parseEvent(message)
		if err != nil {
			s.logger.Warn("skipping undecodable frame", "error", err)
			continue
		}

		latestCursor = event.TimeUS

		if event.Kind == "commit" && event.Commit != nil {
			s.handleCommit(ctx, event)
		}

		if latestCursor > 0 && time.Since(lastCursorSave) >= cursorSaveInterval {
			if err := s.feedService.UpdateCursor(ctx, cursorServiceName, latestCursor); err != nil {
				s.logger.Error("failed to save cursor", "error", err)
			} else {
				lastCursorSave = time.Now()
			}
		}
	}
}

// handleCommit routes a commit event by collection and operation. Handler
// errors are logged and skipped; a bad event must never take the consumer
// down.
func (s *Subscriber) handleCommit(ctx context.Context, event *jetstreamEvent) {
	commit := event.Commit

	monitoring.FirehoseEvents.WithLabelValues(commit.Collection).Inc()
	timer := prometheus.NewTimer(monitoring.FirehoseEventProcessingDuration.WithLabelValues(commit.Collection))
	defer timer.ObserveDuration()

	uri := fmt.Sprintf("at://%s/%s/%s", event.DID, commit.Collection, commit.RKey)

	var err error
	switch {
	case commit.Collection == collectionPost && commit.Operation == "create":
		err = s.handlePostCreate(ctx, event, uri)
	case commit.Collection == collectionPost && commit.Operation == "delete":
		err = s.feedService.ProcessDeletePost(ctx, uri)
	case commit.Collection == collectionRepost && commit.Operation == "create":
		err = s.handleRepostCreate(ctx, event, uri)
	case commit.Collection == collectionRepost && commit.Operation == "delete":
		err = s.feedService.ProcessDeleteRepost(ctx, uri)
	}

	if err != nil {
		s.logger.Error("failed to handle commit", "uri", uri, "error", err)
	}
}

func (s *Subscriber) handlePostCreate(ctx context.Context, event *jetstreamEvent, uri string) error {
	if len(event.Commit.Record) == 0 {
		return nil
	}

	var record appbsky.FeedPost
	if err := json.Unmarshal(event.Commit.Record, &record); err != nil {
		return fmt.Errorf("unmarshal post record: %w", err)
	}

	_, err := s.feedService.ProcessNewPost(ctx, &domain.IncomingPost{
		URI:       uri,
		AuthorDID: event.DID,
		CreatedAt: parseCreatedAt(record.CreatedAt),
	})
	return err
}

func (s *Subscriber) handleRepostCreate(ctx context.Context, event *jetstreamEvent, uri string) error {
	if len(event.Commit.Record) == 0 {
		return nil
	}

	var record appbsky.FeedRepost
	if err := json.Unmarshal(event.Commit.Record, &record); err != nil {
		return fmt.Errorf("unmarshal repost record: %w", err)
	}
	if record.Subject == nil || record.Subject.Uri == "" {
		return nil
	}

	repost, err := s.feedService.ProcessNewRepost(ctx, &domain.IncomingRepost{
		URI:         uri,
		ReposterDID: event.DID,
		SubjectURI:  record.Subject.Uri,
		CreatedAt:   parseCreatedAt(record.CreatedAt),
	})
	if err != nil {
		return err
	}
	if !repost.Visible {
		monitoring.RepostsSuppressed.Inc()
	}
	return nil
}

// parseCreatedAt parses an author-asserted timestamp. Records in the wild
// carry several variants; an unparseable value falls back to ingestion time.
func parseCreatedAt(value string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
