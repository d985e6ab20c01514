package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"positivex.app/server/internal/domain"
)

// SQLiteStore keeps timestamps as unix milliseconds so freshness comparisons
// are plain integer comparisons.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; also keeps a :memory: database on a single connection.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS authors (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        username TEXT NOT NULL,
        profile_image_url TEXT NOT NULL DEFAULT '',
        cached_at INTEGER NOT NULL
    );

    CREATE TABLE IF NOT EXISTS posts (
        id TEXT PRIMARY KEY,
        author_id TEXT NOT NULL,
        text TEXT NOT NULL,
        created_at INTEGER NOT NULL,
        public_metrics TEXT NOT NULL, -- JSON
        entities TEXT,                -- JSON, nullable
        sentiment TEXT,               -- JSON, nullable
        cached_at INTEGER NOT NULL
    );

    CREATE TABLE IF NOT EXISTS feed_posts (
        feed TEXT NOT NULL CHECK (feed IN ('liked', 'timeline')),
        post_id TEXT NOT NULL,
        cached_at INTEGER NOT NULL,
        PRIMARY KEY (feed, post_id),
        FOREIGN KEY (post_id) REFERENCES posts (id)
    );
    CREATE INDEX IF NOT EXISTS idx_feed_posts_cached_at ON feed_posts (feed, cached_at);

    CREATE TABLE IF NOT EXISTS feed_cursors (
        feed TEXT PRIMARY KEY,
        cursor TEXT NOT NULL,
        after_post_id TEXT NOT NULL DEFAULT ''
    );

    CREATE TABLE IF NOT EXISTS sessions (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        access_token TEXT NOT NULL,
        refresh_token TEXT NOT NULL DEFAULT '',
        token_type TEXT NOT NULL DEFAULT '',
        expiry INTEGER NOT NULL DEFAULT 0,
        created_at INTEGER NOT NULL
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Cache methods
func (s *SQLiteStore) UpsertPosts(ctx context.Context, feed domain.Feed, posts []domain.Post, authors map[string]domain.Author) error {
	if len(posts) == 0 {
		return nil
	}
	now := toMillis(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	defer tx.Rollback()

	authorStmt, err := tx.PrepareContext(ctx, `
        INSERT INTO authors (id, name, username, profile_image_url, cached_at) VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            name = excluded.name, username = excluded.username,
            profile_image_url = excluded.profile_image_url, cached_at = excluded.cached_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare author upsert: %w", err)
	}
	defer authorStmt.Close()

	for _, a := range referencedAuthors(posts, authors) {
		if _, err := authorStmt.ExecContext(ctx, a.ID, a.Name, a.Username, a.ProfileImageURL, now); err != nil {
			return fmt.Errorf("failed to upsert author %s: %w", a.ID, err)
		}
	}

	postStmt, err := tx.PrepareContext(ctx, `
        INSERT INTO posts (id, author_id, text, created_at, public_metrics, entities, sentiment, cached_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            author_id = excluded.author_id, text = excluded.text, created_at = excluded.created_at,
            public_metrics = excluded.public_metrics, entities = excluded.entities,
            sentiment = excluded.sentiment, cached_at = excluded.cached_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare post upsert: %w", err)
	}
	defer postStmt.Close()

	feedStmt, err := tx.PrepareContext(ctx, `
        INSERT INTO feed_posts (feed, post_id, cached_at) VALUES (?, ?, ?)
        ON CONFLICT (feed, post_id) DO UPDATE SET cached_at = excluded.cached_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare feed upsert: %w", err)
	}
	defer feedStmt.Close()

	for _, p := range posts {
		row, err := encodePost(p)
		if err != nil {
			return err
		}
		if _, err := postStmt.ExecContext(ctx, p.ID, p.AuthorID, p.Text, toMillis(p.CreatedAt),
			row.Metrics, row.Entities, row.Sentiment, now); err != nil {
			return fmt.Errorf("failed to upsert post %s: %w", p.ID, err)
		}
		if _, err := feedStmt.ExecContext(ctx, string(feed), p.ID, now); err != nil {
			return fmt.Errorf("failed to link post %s to feed %s: %w", p.ID, feed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReadFresh(ctx context.Context, feed domain.Feed, maxAge time.Duration) ([]domain.CachedPost, error) {
	var cutoff int64
	if maxAge > 0 {
		cutoff = toMillis(s.now().Add(-maxAge))
	}

	query := `
        SELECT p.id, p.author_id, p.text, p.created_at, p.public_metrics, p.entities, p.sentiment,
               a.id, a.name, a.username, a.profile_image_url, f.cached_at
        FROM feed_posts f
        JOIN posts p ON p.id = f.post_id
        JOIN authors a ON a.id = p.author_id
        WHERE f.feed = ? AND f.cached_at > ?
        ORDER BY p.created_at DESC, p.id DESC
    `
	rows, err := s.db.QueryContext(ctx, query, string(feed), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached posts: %w", err)
	}
	defer rows.Close()

	var records []domain.CachedPost
	for rows.Next() {
		var rec domain.CachedPost
		var row postRow
		var createdAt, cachedAt int64
		if err := rows.Scan(&rec.Post.ID, &rec.Post.AuthorID, &rec.Post.Text, &createdAt,
			&row.Metrics, &row.Entities, &row.Sentiment,
			&rec.Author.ID, &rec.Author.Name, &rec.Author.Username, &rec.Author.ProfileImageURL, &cachedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cached post row: %w", err)
		}
		if err := row.decodeInto(&rec.Post); err != nil {
			return nil, err
		}
		rec.Post.CreatedAt = fromMillis(createdAt)
		rec.CachedAt = fromMillis(cachedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cached posts: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) LastWriteTime(ctx context.Context, feed domain.Feed) (time.Time, bool, error) {
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(cached_at) FROM feed_posts WHERE feed = ?", string(feed)).Scan(&last)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query last cache write: %w", err)
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return fromMillis(last.Int64), true, nil
}

func (s *SQLiteStore) SaveCursor(ctx context.Context, feed domain.Feed, cursor domain.Cursor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feed_cursors (feed, cursor, after_post_id) VALUES (?, ?, ?)
		ON CONFLICT (feed) DO UPDATE SET cursor = excluded.cursor, after_post_id = excluded.after_post_id`,
		string(feed), cursor.Token, cursor.AfterPostID)
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadCursor(ctx context.Context, feed domain.Feed) (domain.Cursor, error) {
	var cursor domain.Cursor
	err := s.db.QueryRowContext(ctx, "SELECT cursor, after_post_id FROM feed_cursors WHERE feed = ?", string(feed)).
		Scan(&cursor.Token, &cursor.AfterPostID)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Cursor{}, nil
		}
		return domain.Cursor{}, fmt.Errorf("failed to load cursor: %w", err)
	}
	return cursor, nil
}

func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := toMillis(s.now().Add(-olderThan))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin prune transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM feed_posts WHERE cached_at <= ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune feed entries: %w", err)
	}
	removed, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, "DELETE FROM posts WHERE id NOT IN (SELECT post_id FROM feed_posts)"); err != nil {
		return 0, fmt.Errorf("failed to prune posts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM authors WHERE id NOT IN (SELECT author_id FROM posts)"); err != nil {
		return 0, fmt.Errorf("failed to prune authors: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune transaction: %w", err)
	}
	return removed, nil
}

// Session methods
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, user_id, access_token, refresh_token, token_type, expiry, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		sess.ID, sess.UserID, sess.AccessToken, sess.RefreshToken, sess.TokenType, toMillis(sess.Expiry), toMillis(sess.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var sess domain.Session
	var expiry, createdAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, access_token, refresh_token, token_type, expiry, created_at FROM sessions WHERE id = ?", id).
		Scan(&sess.ID, &sess.UserID, &sess.AccessToken, &sess.RefreshToken, &sess.TokenType, &expiry, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Session not found
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	sess.Expiry = fromMillis(expiry)
	sess.CreatedAt = fromMillis(createdAt)
	return &sess, nil
}

func (s *SQLiteStore) UpdateSessionToken(ctx context.Context, sess *domain.Session) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET access_token = ?, refresh_token = ?, token_type = ?, expiry = ? WHERE id = ?",
		sess.AccessToken, sess.RefreshToken, sess.TokenType, toMillis(sess.Expiry), sess.ID)
	if err != nil {
		return fmt.Errorf("failed to update session token: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("session %s not found, token not updated", sess.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
