package firehose

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blackmichael/clean-following/internal/domain"
)

type memFeedRepo struct {
	mu    sync.Mutex
	posts map[string]*domain.Post
}

func newMemFeedRepo() *memFeedRepo {
	return &memFeedRepo{posts: make(map[string]*domain.Post)}
}

func (m *memFeedRepo) UpsertPost(_ context.Context, post *domain.Post) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[post.URI]; ok {
		return false, nil
	}
	m.posts[post.URI] = post
	return true, nil
}

func (m *memFeedRepo) UpsertRepost(_ context.Context, _ *domain.Repost) (bool, error) {
	return true, nil
}

func (m *memFeedRepo) GetPost(_ context.Context, uri string) (*domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posts[uri], nil
}

func (m *memFeedRepo) DeletePost(_ context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.posts, uri)
	return nil
}

func (m *memFeedRepo) DeleteRepost(_ context.Context, _ string) error { return nil }

func (m *memFeedRepo) ListFeedItems(_ context.Context, _ int, _ string) ([]domain.FeedItem, string, error) {
	return nil, "", nil
}

func (m *memFeedRepo) DeleteOlderThan(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

func (m *memFeedRepo) hasPost(uri string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.posts[uri]
	return ok
}

type memFollowRepo struct{ dids []string }

func (m *memFollowRepo) ReplaceFollows(_ context.Context, follows []domain.Follow) error {
	m.dids = m.dids[:0]
	for _, f := range follows {
		m.dids = append(m.dids, f.DID)
	}
	return nil
}

func (m *memFollowRepo) FollowedDIDs(_ context.Context) ([]string, error) {
	return m.dids, nil
}

type memCursorRepo struct {
	mu     sync.Mutex
	cursor int64
}

func (m *memCursorRepo) GetCursor(_ context.Context, _ string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor, nil
}

func (m *memCursorRepo) UpdateCursor(_ context.Context, _ string, cursor int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = cursor
	return nil
}

func (m *memCursorRepo) saved() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

type noFollowSource struct{}

func (noFollowSource) FetchFollows(context.Context) ([]domain.Follow, error) {
	return nil, nil
}

func TestSubscribeProcessesFramesAndSavesCursorOnExit(t *testing.T) {
	const (
		postURI = "at://did:plc:alice/app.bsky.feed.post/3l3qo2vuowo2b"
		timeUS  = int64(1748779200000000)
	)
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

	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			t.Errorf("write frame: %v", err)
		}
		conn.Close()
	}))
	defer srv.Close()

	repo := newMemFeedRepo()
	cursors := &memCursorRepo{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := domain.NewFeedService(
		"at://did:web:feed.example.com/app.bsky.feed.generator/clean-following",
		24*time.Hour,
		repo,
		&memFollowRepo{dids: []string{"did:plc:alice"}},
		cursors,
		noFollowSource{},
		logger,
	)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	sub := NewSubscriber(wsURL, svc, logger)

	// A refresh fired while disconnected leaves a pending signal; the
	// subscription built next already reflects the new follow set.
	sub.Resubscribe()

	connected, resubscribed, err := sub.subscribe(context.Background())
	if !connected {
		t.Error("subscribe should report a successful connection")
	}
	if resubscribed {
		t.Error("stale resubscribe signal must not tear down the fresh connection")
	}
	if err == nil {
		t.Error("expected a read error once the peer closed")
	}

	if !repo.hasPost(postURI) {
		t.Errorf("post %s was not indexed from the stream", postURI)
	}
	if got := cursors.saved(); got != timeUS {
		t.Errorf("cursor saved on disconnect = %d, want %d", got, timeUS)
	}
}

func TestResubscribeCoalesces(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sub := NewSubscriber("ws://unused", nil, logger)

	sub.Resubscribe()
	sub.Resubscribe()
	sub.Resubscribe()

	select {
	case <-sub.resub:
	default:
		t.Fatal("expected one pending signal")
	}
	select {
	case <-sub.resub:
		t.Error("repeated signals must coalesce into one")
	default:
	}
}

func TestBuildURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sub := NewSubscriber("wss://jetstream2.us-east.bsky.network/subscribe", nil, logger)

	u := sub.buildURL([]string{"did:plc:a", "did:plc:b"}, 1748779200000000)
	for _, want := range []string{
		"wantedCollections=app.bsky.feed.post",
		"wantedCollections=app.bsky.feed.repost",
		"wantedDids=did%3Aplc%3Aa",
		"wantedDids=did%3Aplc%3Ab",
		"cursor=1748779195000000",
	} {
		if !strings.Contains(u, want) {
			t.Errorf("url %q missing %q", u, want)
		}
	}

	u = sub.buildURL(nil, 0)
	if strings.Contains(u, "cursor=") {
		t.Errorf("url %q should carry no cursor on first run", u)
	}
}
