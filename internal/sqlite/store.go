package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/blackmichael/clean-following/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS posts (
	uri TEXT PRIMARY KEY,
	author_did TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	indexed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_indexed_at ON posts(indexed_at);

CREATE TABLE IF NOT EXISTS reposts (
	uri TEXT PRIMARY KEY,
	reposter_did TEXT NOT NULL,
	subject_uri TEXT NOT NULL,
	subject_author_did TEXT NOT NULL,
	subject_created_at INTEGER,
	created_at INTEGER NOT NULL,
	indexed_at INTEGER NOT NULL,
	visible INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reposts_visible ON reposts(visible, indexed_at);

CREATE TABLE IF NOT EXISTS follows (
	did TEXT PRIMARY KEY,
	handle TEXT,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS service_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store implements domain.FeedRepository, domain.FollowRepository and
// domain.CursorRepository on a single SQLite database. WAL mode lets the
// feed server read while the consumer and scheduler write.
type Store struct {
	db *sql.DB
}

// Open creates the database file if needed, enables WAL mode, applies the
// schema and returns a new Store. The caller should call Close when done.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertPost inserts a post keyed by URI. Returns false on re-delivery of a
// known URI; the existing row is left untouched.
func (s *Store) UpsertPost(ctx context.Context, post *domain.Post) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (uri, author_did, created_at, indexed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (uri) DO NOTHING`,
		post.URI,
		post.AuthorDID,
		post.CreatedAt.UnixMicro(),
		post.IndexedAt.UnixMicro(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpsertRepost inserts a repost keyed by URI. The stored visible flag is
// never changed by a second delivery.
func (s *Store) UpsertRepost(ctx context.Context, repost *domain.Repost) (bool, error) {
	var subjectCreatedAt sql.NullInt64
	if repost.SubjectCreatedAt != nil {
		subjectCreatedAt = sql.NullInt64{Int64: repost.SubjectCreatedAt.UnixMicro(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reposts (uri, reposter_did, subject_uri, subject_author_did, subject_created_at, created_at, indexed_at, visible)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uri) DO NOTHING`,
		repost.URI,
		repost.ReposterDID,
		repost.SubjectURI,
		repost.SubjectAuthorDID,
		subjectCreatedAt,
		repost.CreatedAt.UnixMicro(),
		repost.IndexedAt.UnixMicro(),
		boolToInt(repost.Visible),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetPost retrieves a post by URI. Returns (nil, nil) when unknown.
func (s *Store) GetPost(ctx context.Context, uri string) (*domain.Post, error) {
	var (
		post      domain.Post
		createdAt int64
		indexedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT uri, author_did, created_at, indexed_at FROM posts WHERE uri = ?`, uri,
	).Scan(&post.URI, &post.AuthorDID, &createdAt, &indexedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	post.CreatedAt = time.UnixMicro(createdAt).UTC()
	post.IndexedAt = time.UnixMicro(indexedAt).UTC()
	return &post, nil
}

// DeletePost removes a post by URI.
func (s *Store) DeletePost(ctx context.Context, uri string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE uri = ?`, uri)
	return err
}

// DeleteRepost removes a repost by URI.
func (s *Store) DeleteRepost(ctx context.Context, uri string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reposts WHERE uri = ?`, uri)
	return err
}

// ListFeedItems retrieves posts and visible reposts merged by indexed_at
// descending, ties broken by URI descending.
// The cursor format is "indexedAt::uri" (unix micros::AT-URI); keyset
// pagination against the monotonic indexed_at keeps pages stable under
// concurrent inserts. An unparseable cursor restarts from the top.
func (s *Store) ListFeedItems(ctx context.Context, limit int, cursor string) ([]domain.FeedItem, string, error) {
	const merged = `
		SELECT uri AS sort_uri, uri AS post_uri, '' AS repost_uri, indexed_at
		FROM posts
		UNION ALL
		SELECT uri AS sort_uri, subject_uri AS post_uri, uri AS repost_uri, indexed_at
		FROM reposts WHERE visible = 1`

	var (
		rows *sql.Rows
		err  error
	)

	cursorTime, cursorURI, ok := parseCursor(cursor)
	if ok {
		rows, err = s.db.QueryContext(ctx, `
			SELECT sort_uri, post_uri, repost_uri, indexed_at FROM (`+merged+`)
			WHERE indexed_at < ? OR (indexed_at = ? AND sort_uri < ?)
			ORDER BY indexed_at DESC, sort_uri DESC
			LIMIT ?`,
			cursorTime, cursorTime, cursorURI, limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT sort_uri, post_uri, repost_uri, indexed_at FROM (`+merged+`)
			ORDER BY indexed_at DESC, sort_uri DESC
			LIMIT ?`,
			limit,
		)
	}
	if err != nil {
		return nil, "", fmt.Errorf("query feed items: %w", err)
	}
	defer rows.Close()

	var (
		items         []domain.FeedItem
		lastSortURI   string
		lastIndexedAt int64
	)
	for rows.Next() {
		var item domain.FeedItem
		if err := rows.Scan(&lastSortURI, &item.PostURI, &item.RepostURI, &lastIndexedAt); err != nil {
			return nil, "", fmt.Errorf("scan feed item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterate feed items: %w", err)
	}

	var nextCursor string
	if len(items) == limit {
		nextCursor = fmt.Sprintf("%d::%s", lastIndexedAt, lastSortURI)
	}

	return items, nextCursor, nil
}

// DeleteOlderThan removes posts and reposts with indexed_at older than
// maxAge. Re-running is a no-op if nothing has aged further.
func (s *Store) DeleteOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge).UnixMicro()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE indexed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired posts: %w", err)
	}
	postsDeleted, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM reposts WHERE indexed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired reposts: %w", err)
	}
	repostsDeleted, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return postsDeleted + repostsDeleted, nil
}

// ReplaceFollows swaps the stored follow set wholesale in one transaction,
// so the subscriber never observes a partially updated set.
func (s *Store) ReplaceFollows(ctx context.Context, follows []domain.Follow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM follows`); err != nil {
		return fmt.Errorf("clear follows: %w", err)
	}

	now := time.Now().UTC().UnixMicro()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO follows (did, handle, updated_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range follows {
		if _, err := stmt.ExecContext(ctx, f.DID, f.Handle, now); err != nil {
			return fmt.Errorf("insert follow %s: %w", f.DID, err)
		}
	}

	return tx.Commit()
}

// FollowedDIDs returns the DIDs of the stored follow set.
func (s *Store) FollowedDIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT did FROM follows ORDER BY did`)
	if err != nil {
		return nil, fmt.Errorf("query follows: %w", err)
	}
	defer rows.Close()

	var dids []string
	for rows.Next() {
		var did string
		if err := rows.Scan(&did); err != nil {
			return nil, fmt.Errorf("scan follow: %w", err)
		}
		dids = append(dids, did)
	}
	return dids, rows.Err()
}

// GetCursor retrieves the saved firehose cursor for a service.
func (s *Store) GetCursor(ctx context.Context, service string) (int64, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM service_state WHERE key = ?`, cursorKey(service),
	).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	cursor, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt cursor value %q: %w", value, err)
	}
	return cursor, nil
}

// UpdateCursor upserts the firehose cursor for a service.
func (s *Store) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		cursorKey(service), strconv.FormatInt(cursor, 10),
	)
	return err
}

func cursorKey(service string) string {
	return service + "_cursor"
}

func parseCursor(cursor string) (int64, string, bool) {
	if cursor == "" {
		return 0, "", false
	}
	parts := strings.SplitN(cursor, "::", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	micros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return micros, parts[1], true
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
