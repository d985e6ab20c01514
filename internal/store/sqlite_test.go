package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"positivex.app/server/internal/domain"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) (*SQLiteStore, *testClock) {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	clock := &testClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s.now = clock.now
	return s, clock
}

func samplePost(id, authorID string, created time.Time, likes int) domain.Post {
	return domain.Post{
		ID:            id,
		AuthorID:      authorID,
		Text:          "post " + id,
		CreatedAt:     created,
		PublicMetrics: domain.PublicMetrics{LikeCount: likes},
	}
}

var sampleAuthors = map[string]domain.Author{
	"u1": {ID: "u1", Name: "Ada", Username: "ada", ProfileImageURL: "https://img/ada.png"},
	"u2": {ID: "u2", Name: "Linus", Username: "linus"},
}

func TestUpsertIsIdempotentLastWriteWins(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2024, 4, 30, 8, 0, 0, 0, time.UTC)

	first := samplePost("1", "u1", created, 3)
	if err := s.UpsertPosts(ctx, domain.FeedLiked, []domain.Post{first}, sampleAuthors); err != nil {
		t.Fatalf("first UpsertPosts() error = %v", err)
	}

	clock.advance(time.Minute)
	second := samplePost("1", "u1", created, 42)
	second.Sentiment = &domain.Sentiment{Score: 0.8, Category: domain.CategoryPositive, Type: domain.ContentGeneral}
	authors := map[string]domain.Author{"u1": {ID: "u1", Name: "Ada L.", Username: "ada"}}
	if err := s.UpsertPosts(ctx, domain.FeedLiked, []domain.Post{second}, authors); err != nil {
		t.Fatalf("second UpsertPosts() error = %v", err)
	}

	got, err := s.ReadFresh(ctx, domain.FeedLiked, 0)
	if err != nil {
		t.Fatalf("ReadFresh() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ReadFresh() returned %d records, want 1", len(got))
	}
	rec := got[0]
	if rec.Post.PublicMetrics.LikeCount != 42 {
		t.Errorf("LikeCount = %d, want 42", rec.Post.PublicMetrics.LikeCount)
	}
	if rec.Post.Sentiment == nil || rec.Post.Sentiment.Score != 0.8 {
		t.Errorf("Sentiment = %+v, want score 0.8", rec.Post.Sentiment)
	}
	if rec.Author.Name != "Ada L." {
		t.Errorf("Author.Name = %q, want latest value", rec.Author.Name)
	}
	if !rec.CachedAt.Equal(clock.t) {
		t.Errorf("CachedAt = %v, want %v", rec.CachedAt, clock.t)
	}
	if !rec.Post.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", rec.Post.CreatedAt, created)
	}
}

func TestReadFreshHonoursMaxAgeAndOrder(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	old := []domain.Post{samplePost("old", "u1", base, 1)}
	if err := s.UpsertPosts(ctx, domain.FeedLiked, old, sampleAuthors); err != nil {
		t.Fatal(err)
	}
	clock.advance(25 * time.Hour)
	recent := []domain.Post{
		samplePost("a", "u1", base.Add(time.Hour), 1),
		samplePost("b", "u2", base.Add(2*time.Hour), 1),
	}
	if err := s.UpsertPosts(ctx, domain.FeedLiked, recent, sampleAuthors); err != nil {
		t.Fatal(err)
	}

	fresh, err := s.ReadFresh(ctx, domain.FeedLiked, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 2 || fresh[0].Post.ID != "b" || fresh[1].Post.ID != "a" {
		t.Errorf("ReadFresh(24h) = %v, want [b a]", ids(fresh))
	}

	all, err := s.ReadFresh(ctx, domain.FeedLiked, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("ReadFresh(0) returned %d records, want 3", len(all))
	}

	other, err := s.ReadFresh(ctx, domain.FeedTimeline, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("timeline feed has %d records, want 0", len(other))
	}
}

func TestReadFreshSkipsPostsWithoutAuthor(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	posts := []domain.Post{samplePost("1", "u1", time.Now(), 0), samplePost("2", "ghost", time.Now(), 0)}
	if err := s.UpsertPosts(ctx, domain.FeedTimeline, posts, sampleAuthors); err != nil {
		t.Fatal(err)
	}
	got, err := s.ReadFresh(ctx, domain.FeedTimeline, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Post.ID != "1" {
		t.Errorf("ReadFresh() = %v, want [1]", ids(got))
	}
}

func TestLastWriteTime(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.LastWriteTime(ctx, domain.FeedLiked); err != nil || ok {
		t.Fatalf("LastWriteTime() on empty store = ok %v, err %v; want never", ok, err)
	}

	if err := s.UpsertPosts(ctx, domain.FeedLiked, []domain.Post{samplePost("1", "u1", clock.t, 0)}, sampleAuthors); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.LastWriteTime(ctx, domain.FeedLiked)
	if err != nil || !ok {
		t.Fatalf("LastWriteTime() = ok %v, err %v", ok, err)
	}
	if !got.Equal(clock.t) {
		t.Errorf("LastWriteTime() = %v, want %v", got, clock.t)
	}
}

func TestPruneRemovesExpiredEntriesAndOrphans(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertPosts(ctx, domain.FeedLiked, []domain.Post{samplePost("old", "u2", clock.t, 0)}, sampleAuthors); err != nil {
		t.Fatal(err)
	}
	clock.advance(8 * 24 * time.Hour)
	if err := s.UpsertPosts(ctx, domain.FeedLiked, []domain.Post{samplePost("new", "u1", clock.t, 0)}, sampleAuthors); err != nil {
		t.Fatal(err)
	}

	removed, err := s.Prune(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune() removed %d, want 1", removed)
	}

	var authors int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM authors").Scan(&authors); err != nil {
		t.Fatal(err)
	}
	if authors != 1 {
		t.Errorf("authors left = %d, want 1", authors)
	}
	got, _ := s.ReadFresh(ctx, domain.FeedLiked, 0)
	if len(got) != 1 || got[0].Post.ID != "new" {
		t.Errorf("ReadFresh() after prune = %v, want [new]", ids(got))
	}
}

func TestCursorRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if c, err := s.LoadCursor(ctx, domain.FeedLiked); err != nil || c != (domain.Cursor{}) {
		t.Fatalf("LoadCursor() = %+v, %v; want empty", c, err)
	}
	for _, want := range []domain.Cursor{{Token: "tok-1", AfterPostID: "10"}, {Token: "tok-2"}} {
		if err := s.SaveCursor(ctx, domain.FeedLiked, want); err != nil {
			t.Fatal(err)
		}
		if got, _ := s.LoadCursor(ctx, domain.FeedLiked); got != want {
			t.Errorf("LoadCursor() = %+v, want %+v", got, want)
		}
	}
	if got, _ := s.LoadCursor(ctx, domain.FeedTimeline); got != (domain.Cursor{}) {
		t.Errorf("timeline cursor = %+v, want empty", got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	sess := &domain.Session{
		ID:           "sess-1",
		UserID:       "42",
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "bearer",
		Expiry:       clock.t.Add(2 * time.Hour),
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil || got == nil {
		t.Fatalf("GetSession() = %v, %v", got, err)
	}
	if got.AccessToken != "access" || !got.Expiry.Equal(sess.Expiry) || !got.CreatedAt.Equal(clock.t) {
		t.Errorf("GetSession() = %+v", got)
	}

	got.AccessToken = "access-2"
	got.Expiry = clock.t.Add(4 * time.Hour)
	if err := s.UpdateSessionToken(ctx, got); err != nil {
		t.Fatalf("UpdateSessionToken() error = %v", err)
	}
	again, _ := s.GetSession(ctx, "sess-1")
	if again.AccessToken != "access-2" {
		t.Errorf("AccessToken = %q, want access-2", again.AccessToken)
	}

	if err := s.UpdateSessionToken(ctx, &domain.Session{ID: "missing"}); err == nil {
		t.Error("UpdateSessionToken() on missing session succeeded")
	}

	if err := s.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatal(err)
	}
	if gone, err := s.GetSession(ctx, "sess-1"); err != nil || gone != nil {
		t.Errorf("GetSession() after delete = %v, %v; want nil, nil", gone, err)
	}
}

func TestNewSelectsSQLiteForPlainPath(t *testing.T) {
	st, err := New(context.Background(), filepath.Join(t.TempDir(), "x.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if _, ok := st.(*SQLiteStore); !ok {
		t.Errorf("New() returned %T, want *SQLiteStore", st)
	}
}

func ids(recs []domain.CachedPost) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Post.ID
	}
	return out
}
