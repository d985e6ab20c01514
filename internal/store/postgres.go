package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"positivex.app/server/internal/domain"
)

type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool, now: time.Now}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS authors (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			username TEXT NOT NULL,
			profile_image_url TEXT NOT NULL DEFAULT '',
			cached_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			author_id TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			public_metrics JSONB NOT NULL,
			entities JSONB,
			sentiment JSONB,
			cached_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS feed_posts (
			feed TEXT NOT NULL CHECK (feed IN ('liked', 'timeline')),
			post_id TEXT NOT NULL REFERENCES posts (id),
			cached_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (feed, post_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_posts_cached_at ON feed_posts (feed, cached_at)`,
		`CREATE TABLE IF NOT EXISTS feed_cursors (feed TEXT PRIMARY KEY, cursor TEXT NOT NULL, after_post_id TEXT NOT NULL DEFAULT '')`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			token_type TEXT NOT NULL DEFAULT '',
			expiry TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) UpsertPosts(ctx context.Context, feed domain.Feed, posts []domain.Post, authors map[string]domain.Author) error {
	if len(posts) == 0 {
		return nil
	}
	now := s.now().UTC()

	batch := &pgx.Batch{}
	for _, a := range referencedAuthors(posts, authors) {
		batch.Queue(`INSERT INTO authors (id, name, username, profile_image_url, cached_at) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, username = EXCLUDED.username,
			profile_image_url = EXCLUDED.profile_image_url, cached_at = EXCLUDED.cached_at`,
			a.ID, a.Name, a.Username, a.ProfileImageURL, now)
	}
	for _, p := range posts {
		row, err := encodePost(p)
		if err != nil {
			return err
		}
		batch.Queue(`INSERT INTO posts (id, author_id, text, created_at, public_metrics, entities, sentiment, cached_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
			author_id = EXCLUDED.author_id, text = EXCLUDED.text, created_at = EXCLUDED.created_at,
			public_metrics = EXCLUDED.public_metrics, entities = EXCLUDED.entities,
			sentiment = EXCLUDED.sentiment, cached_at = EXCLUDED.cached_at`,
			p.ID, p.AuthorID, p.Text, p.CreatedAt, row.Metrics, row.Entities, row.Sentiment, now)
		batch.Queue(`INSERT INTO feed_posts (feed, post_id, cached_at) VALUES ($1, $2, $3)
			ON CONFLICT (feed, post_id) DO UPDATE SET cached_at = EXCLUDED.cached_at`,
			string(feed), p.ID, now)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert cache batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit cache transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReadFresh(ctx context.Context, feed domain.Feed, maxAge time.Duration) ([]domain.CachedPost, error) {
	cutoff := time.Unix(0, 0).UTC()
	if maxAge > 0 {
		cutoff = s.now().Add(-maxAge).UTC()
	}

	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.author_id, p.text, p.created_at, p.public_metrics::text, p.entities::text, p.sentiment::text,
		       a.id, a.name, a.username, a.profile_image_url, f.cached_at
		FROM feed_posts f
		JOIN posts p ON p.id = f.post_id
		JOIN authors a ON a.id = p.author_id
		WHERE f.feed = $1 AND f.cached_at > $2
		ORDER BY p.created_at DESC, p.id DESC`, string(feed), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached posts: %w", err)
	}
	defer rows.Close()

	var records []domain.CachedPost
	for rows.Next() {
		var rec domain.CachedPost
		var row postRow
		if err := rows.Scan(&rec.Post.ID, &rec.Post.AuthorID, &rec.Post.Text, &rec.Post.CreatedAt,
			&row.Metrics, &row.Entities, &row.Sentiment,
			&rec.Author.ID, &rec.Author.Name, &rec.Author.Username, &rec.Author.ProfileImageURL, &rec.CachedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cached post row: %w", err)
		}
		if err := row.decodeInto(&rec.Post); err != nil {
			return nil, err
		}
		rec.Post.CreatedAt = rec.Post.CreatedAt.UTC()
		rec.CachedAt = rec.CachedAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cached posts: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) LastWriteTime(ctx context.Context, feed domain.Feed) (time.Time, bool, error) {
	var last *time.Time
	if err := s.pool.QueryRow(ctx, "SELECT MAX(cached_at) FROM feed_posts WHERE feed = $1", string(feed)).Scan(&last); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query last cache write: %w", err)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return last.UTC(), true, nil
}

func (s *PostgresStore) SaveCursor(ctx context.Context, feed domain.Feed, cursor domain.Cursor) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO feed_cursors (feed, cursor, after_post_id) VALUES ($1, $2, $3) ON CONFLICT (feed) DO UPDATE SET cursor = $2, after_post_id = $3",
		string(feed), cursor.Token, cursor.AfterPostID)
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadCursor(ctx context.Context, feed domain.Feed) (domain.Cursor, error) {
	var cursor domain.Cursor
	err := s.pool.QueryRow(ctx, "SELECT cursor, after_post_id FROM feed_cursors WHERE feed = $1", string(feed)).
		Scan(&cursor.Token, &cursor.AfterPostID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Cursor{}, nil
		}
		return domain.Cursor{}, fmt.Errorf("failed to load cursor: %w", err)
	}
	return cursor, nil
}

func (s *PostgresStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin prune transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, "DELETE FROM feed_posts WHERE cached_at <= $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune feed entries: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM posts p WHERE NOT EXISTS (SELECT 1 FROM feed_posts f WHERE f.post_id = p.id)"); err != nil {
		return 0, fmt.Errorf("failed to prune posts: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM authors a WHERE NOT EXISTS (SELECT 1 FROM posts p WHERE p.author_id = a.id)"); err != nil {
		return 0, fmt.Errorf("failed to prune authors: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit prune transaction: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		"INSERT INTO sessions (id, user_id, access_token, refresh_token, token_type, expiry, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		sess.ID, sess.UserID, sess.AccessToken, sess.RefreshToken, sess.TokenType, nullableTime(sess.Expiry), sess.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var sess domain.Session
	var expiry *time.Time
	err := s.pool.QueryRow(ctx,
		"SELECT id, user_id, access_token, refresh_token, token_type, expiry, created_at FROM sessions WHERE id = $1", id).
		Scan(&sess.ID, &sess.UserID, &sess.AccessToken, &sess.RefreshToken, &sess.TokenType, &expiry, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	if expiry != nil {
		sess.Expiry = expiry.UTC()
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	return &sess, nil
}

func (s *PostgresStore) UpdateSessionToken(ctx context.Context, sess *domain.Session) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE sessions SET access_token = $1, refresh_token = $2, token_type = $3, expiry = $4 WHERE id = $5",
		sess.AccessToken, sess.RefreshToken, sess.TokenType, nullableTime(sess.Expiry), sess.ID)
	if err != nil {
		return fmt.Errorf("failed to update session token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s not found, token not updated", sess.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
