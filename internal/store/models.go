package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"positivex.app/server/internal/domain"
)

// Store is the post/author cache plus session persistence. Both the SQLite and
// PostgreSQL backends implement it.
type Store interface {
	UpsertPosts(ctx context.Context, feed domain.Feed, posts []domain.Post, authors map[string]domain.Author) error
	// ReadFresh returns the feed's records cached within maxAge, newest post first.
	// maxAge <= 0 returns every record regardless of age.
	ReadFresh(ctx context.Context, feed domain.Feed, maxAge time.Duration) ([]domain.CachedPost, error)
	// LastWriteTime reports the most recent cache write for feed; ok is false if there was none.
	LastWriteTime(ctx context.Context, feed domain.Feed) (t time.Time, ok bool, err error)
	SaveCursor(ctx context.Context, feed domain.Feed, cursor domain.Cursor) error
	// LoadCursor returns the zero Cursor when none was saved.
	LoadCursor(ctx context.Context, feed domain.Feed) (domain.Cursor, error)
	// Prune deletes cache entries written more than olderThan ago and any authors
	// no longer referenced. It returns the number of feed entries removed.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)

	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	UpdateSessionToken(ctx context.Context, s *domain.Session) error
	DeleteSession(ctx context.Context, id string) error

	Close() error
}

// New opens the backend named by databaseURL: a postgres:// or postgresql://
// URL selects PostgreSQL, anything else is treated as a SQLite data source.
func New(ctx context.Context, databaseURL string) (Store, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return NewPostgresStore(ctx, databaseURL)
	}
	return NewSQLiteStore(databaseURL)
}

// postRow is the column encoding of a Post shared by both backends.
type postRow struct {
	Metrics   string
	Entities  *string // NULL when the post has none
	Sentiment *string
}

func encodePost(p domain.Post) (postRow, error) {
	metrics, err := json.Marshal(p.PublicMetrics)
	if err != nil {
		return postRow{}, fmt.Errorf("failed to marshal metrics for post %s: %w", p.ID, err)
	}
	row := postRow{Metrics: string(metrics)}
	if row.Entities, err = marshalOptional(p.Entities); err != nil {
		return postRow{}, fmt.Errorf("failed to marshal entities for post %s: %w", p.ID, err)
	}
	if row.Sentiment, err = marshalOptional(p.Sentiment); err != nil {
		return postRow{}, fmt.Errorf("failed to marshal sentiment for post %s: %w", p.ID, err)
	}
	return row, nil
}

func (r postRow) decodeInto(p *domain.Post) error {
	if err := json.Unmarshal([]byte(r.Metrics), &p.PublicMetrics); err != nil {
		return fmt.Errorf("failed to unmarshal metrics for post %s: %w", p.ID, err)
	}
	if r.Entities != nil {
		p.Entities = new(domain.Entities)
		if err := json.Unmarshal([]byte(*r.Entities), p.Entities); err != nil {
			return fmt.Errorf("failed to unmarshal entities for post %s: %w", p.ID, err)
		}
	}
	if r.Sentiment != nil {
		p.Sentiment = new(domain.Sentiment)
		if err := json.Unmarshal([]byte(*r.Sentiment), p.Sentiment); err != nil {
			return fmt.Errorf("failed to unmarshal sentiment for post %s: %w", p.ID, err)
		}
	}
	return nil
}

func marshalOptional[T any](v *T) (*string, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// referencedAuthors returns the authors the given posts point at. Authors for
// posts outside the batch are not written.
func referencedAuthors(posts []domain.Post, authors map[string]domain.Author) []domain.Author {
	seen := make(map[string]bool, len(posts))
	var out []domain.Author
	for _, p := range posts {
		a, ok := authors[p.AuthorID]
		if !ok || seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	return out
}
