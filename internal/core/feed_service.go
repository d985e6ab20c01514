package core

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"positivex.app/server/internal/domain"
	"positivex.app/server/internal/store"
	"positivex.app/server/internal/twitter"
)

const (
	DefaultCacheTTL        = 24 * time.Hour
	DefaultMinRefetch      = 15 * time.Minute
	DefaultThreshold       = 0.7
	defaultAnnotateWorkers = 4
)

// Upstream is the subset of the X API client the orchestrator needs.
type Upstream interface {
	LikedTweets(ctx context.Context, token, userID, cursor string) (*twitter.Page, error)
	HomeTimeline(ctx context.Context, token, userID, cursor string) (*twitter.Page, error)
}

type Annotator interface {
	Analyze(ctx context.Context, text string) (*domain.Sentiment, error)
}

type FeedOptions struct {
	CacheTTL   time.Duration
	MinRefetch time.Duration
	// Workers bounds concurrent classifier calls per request.
	Workers int
	// Debug logs per-request cache and pipeline decisions.
	Debug bool
}

type FeedRequest struct {
	Feed      domain.Feed
	Session   *domain.Session
	Cursor    string
	Refresh   bool
	Threshold float64
}

// FeedPage is the response body for /api/tweets and /api/timeline.
type FeedPage struct {
	Posts     []domain.Post   `json:"tweets"`
	Users     []domain.Author `json:"users"`
	NextToken *string         `json:"next_token"`
	Stats     domain.Stats    `json:"stats"`
	Meta      Meta            `json:"_meta"`
}

type Meta struct {
	FromCache          bool       `json:"fromCache"`
	RateLimited        bool       `json:"rateLimited,omitempty"`
	Throttled          bool       `json:"throttled,omitempty"`
	RetryAfter         int        `json:"retryAfter,omitempty"` // seconds
	CachedAt           *time.Time `json:"cachedAt,omitempty"`
	Threshold          float64    `json:"threshold"`
	AnnotationFailures int        `json:"annotationFailures,omitempty"`
	MissingAuthors     int        `json:"missingAuthors,omitempty"`
	Warnings           []string   `json:"warnings,omitempty"`
}

// FeedService runs the cache → upstream → annotate → filter → persist pipeline.
type FeedService struct {
	store     store.Store
	upstream  Upstream
	annotator Annotator
	opts      FeedOptions
	now       func() time.Time
}

func NewFeedService(st store.Store, up Upstream, an Annotator, opts FeedOptions) *FeedService {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.MinRefetch < 0 {
		opts.MinRefetch = 0
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultAnnotateWorkers
	}
	return &FeedService{
		store:     st,
		upstream:  up,
		annotator: an,
		opts:      opts,
		now:       time.Now,
	}
}

// ValidateThreshold rejects thresholds outside [0, 1].
func ValidateThreshold(t float64) error {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return NewError(KindInvalidRequest, fmt.Sprintf("threshold must be between 0 and 1, got %v", t), nil)
	}
	return nil
}

func (s *FeedService) Fetch(ctx context.Context, req FeedRequest) (*FeedPage, error) {
	if err := ValidateThreshold(req.Threshold); err != nil {
		return nil, err
	}
	if req.Feed != domain.FeedLiked && req.Feed != domain.FeedTimeline {
		return nil, NewError(KindInvalidRequest, fmt.Sprintf("unknown feed %q", req.Feed), nil)
	}
	if req.Session == nil || req.Session.AccessToken == "" || req.Session.UserID == "" {
		return nil, NewError(KindUnauthenticated, "Please sign in with X.", nil)
	}

	var warnings []string

	// The cache stands in for the first page only; cursor pages always go upstream.
	if req.Cursor == "" {
		page, err := s.checkCache(ctx, req)
		if err != nil {
			log.Printf("[feed:%s] cache read failed, falling back to X: %v", req.Feed, err)
			warnings = append(warnings, "cache unavailable: "+err.Error())
		} else if page != nil {
			s.debugf("[feed:%s] served %d cached post(s), throttled=%v", req.Feed, page.Stats.Total, page.Meta.Throttled)
			return page, nil
		}
	}
	s.debugf("[feed:%s] fetching from X (cursor=%q refresh=%v)", req.Feed, req.Cursor, req.Refresh)

	upstreamPage, err := s.fetchUpstream(ctx, req)
	if err != nil {
		coreErr := upstreamError(err)
		if coreErr.Kind != KindRateLimited {
			return nil, coreErr
		}
		log.Printf("[feed:%s] rate limited (retry after %s), trying cache", req.Feed, coreErr.RetryAfter)
		page, cacheErr := s.cachedPage(ctx, req, 0)
		if cacheErr != nil {
			log.Printf("[feed:%s] cache fallback failed: %v", req.Feed, cacheErr)
			return nil, coreErr
		}
		if page == nil {
			return nil, coreErr
		}
		page.Meta.RateLimited = true
		page.Meta.RetryAfter = int(math.Ceil(coreErr.RetryAfter.Seconds()))
		if req.Cursor != "" {
			page.NextToken = nil
		}
		return page, nil
	}

	resolved, missing := resolveAuthors(upstreamPage.Posts, upstreamPage.Authors)
	if missing > 0 {
		log.Printf("[feed:%s] dropped %d post(s) with unresolved author", req.Feed, missing)
	}

	annotated, failures := s.annotate(ctx, resolved)
	if failures > 0 {
		log.Printf("[feed:%s] excluded %d post(s) that failed annotation", req.Feed, failures)
	}
	sortNewestFirst(annotated)

	if err := s.persist(ctx, req, annotated, upstreamPage.Authors, upstreamPage.NextToken); err != nil {
		log.Printf("[feed:%s] failed to persist cache: %v", req.Feed, err)
		warnings = append(warnings, "cache write failed: "+err.Error())
	}

	kept, stats := FilterByThreshold(annotated, req.Threshold)
	s.debugf("[feed:%s] %d fetched, %d annotated, %d kept at threshold %v", req.Feed, len(upstreamPage.Posts), len(annotated), stats.Positive, req.Threshold)
	page := &FeedPage{
		Posts:     kept,
		Users:     authorsOf(kept, upstreamPage.Authors),
		NextToken: optional(upstreamPage.NextToken),
		Stats:     stats,
		Meta: Meta{
			Threshold:          req.Threshold,
			AnnotationFailures: failures,
			MissingAuthors:     missing,
			Warnings:           warnings,
		},
	}
	return page, nil
}

// checkCache returns a cached first page when policy allows skipping X, or nil.
func (s *FeedService) checkCache(ctx context.Context, req FeedRequest) (*FeedPage, error) {
	if !req.Refresh {
		return s.cachedPage(ctx, req, s.opts.CacheTTL)
	}

	last, ok, err := s.store.LastWriteTime(ctx, req.Feed)
	if err != nil {
		return nil, err
	}
	if !ok || s.now().Sub(last) >= s.opts.MinRefetch {
		return nil, nil
	}
	page, err := s.cachedPage(ctx, req, s.opts.CacheTTL)
	if err != nil || page == nil {
		return nil, err
	}
	page.Meta.Throttled = true
	return page, nil
}

// cachedPage builds a page from the feed's cache records younger than maxAge
// (all records when maxAge <= 0). It returns nil when there are none.
func (s *FeedService) cachedPage(ctx context.Context, req FeedRequest, maxAge time.Duration) (*FeedPage, error) {
	records, err := s.store.ReadFresh(ctx, req.Feed, maxAge)
	if err != nil {
		return nil, err
	}

	posts := make([]domain.Post, 0, len(records))
	authors := make(map[string]domain.Author, len(records))
	var newest time.Time
	for _, rec := range records {
		if rec.Post.Sentiment == nil {
			continue
		}
		posts = append(posts, rec.Post)
		authors[rec.Author.ID] = rec.Author
		if rec.CachedAt.After(newest) {
			newest = rec.CachedAt
		}
	}
	if len(posts) == 0 {
		return nil, nil
	}
	sortNewestFirst(posts)

	var next *string
	cursor, err := s.store.LoadCursor(ctx, req.Feed)
	switch {
	case err != nil:
		log.Printf("[feed:%s] failed to load cursor: %v", req.Feed, err)
	case cursorFollows(records, cursor):
		next = optional(cursor.Token)
	default:
		s.debugf("[feed:%s] page before cursor is no longer cached, serving without next_token", req.Feed)
	}

	kept, stats := FilterByThreshold(posts, req.Threshold)
	return &FeedPage{
		Posts:     kept,
		Users:     authorsOf(kept, authors),
		NextToken: next,
		Stats:     stats,
		Meta: Meta{
			FromCache: true,
			CachedAt:  &newest,
			Threshold: req.Threshold,
		},
	}, nil
}

func (s *FeedService) fetchUpstream(ctx context.Context, req FeedRequest) (*twitter.Page, error) {
	token, userID := req.Session.AccessToken, req.Session.UserID
	switch req.Feed {
	case domain.FeedTimeline:
		return s.upstream.HomeTimeline(ctx, token, userID, req.Cursor)
	default:
		return s.upstream.LikedTweets(ctx, token, userID, req.Cursor)
	}
}

// annotate scores posts concurrently. Posts whose annotation fails are
// excluded and counted.
func (s *FeedService) annotate(ctx context.Context, posts []domain.Post) ([]domain.Post, int) {
	results := make([]*domain.Sentiment, len(posts))
	var failures atomic.Int32

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, p := range posts {
		i, p := i, p
		g.Go(func() error {
			sent, err := s.annotator.Analyze(ctx, p.Text)
			if err != nil {
				log.Printf("[feed] annotation failed for post %s: %v", p.ID, err)
				failures.Add(1)
				return nil
			}
			results[i] = sent
			return nil
		})
	}
	g.Wait()

	out := make([]domain.Post, 0, len(posts))
	for i, p := range posts {
		if results[i] == nil {
			continue
		}
		p.Sentiment = results[i]
		out = append(out, p)
	}
	return out, int(failures.Load())
}

// persist caches the page's posts. The stored cursor always follows the
// oldest cached page: a cursor page replaces it only when it continues from
// it, and a first page only when the cached page it followed is gone.
func (s *FeedService) persist(ctx context.Context, req FeedRequest, posts []domain.Post, authors map[string]domain.Author, next string) error {
	var errs []error
	replace, err := s.replacesCursor(ctx, req.Feed, req.Cursor)
	if err != nil {
		errs = append(errs, err)
	}
	if len(posts) > 0 {
		if err := s.store.UpsertPosts(ctx, req.Feed, posts, authors); err != nil {
			errs = append(errs, err)
			replace = false
		}
	}
	if replace {
		cursor := domain.Cursor{Token: next}
		if len(posts) > 0 {
			cursor.AfterPostID = posts[len(posts)-1].ID
		}
		s.debugf("[feed:%s] cursor now %q after post %s", req.Feed, cursor.Token, cursor.AfterPostID)
		if err := s.store.SaveCursor(ctx, req.Feed, cursor); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *FeedService) replacesCursor(ctx context.Context, feed domain.Feed, requested string) (bool, error) {
	stored, err := s.store.LoadCursor(ctx, feed)
	if err != nil {
		return false, err
	}
	if stored == (domain.Cursor{}) {
		return true, nil
	}
	if requested != "" {
		return requested == stored.Token, nil
	}
	records, err := s.store.ReadFresh(ctx, feed, s.opts.CacheTTL)
	if err != nil {
		return false, err
	}
	return !cursorFollows(records, stored), nil
}

// cursorFollows reports whether the page cursor continues from is among records.
// An empty token with a post id marks a feed cached to its end.
func cursorFollows(records []domain.CachedPost, cursor domain.Cursor) bool {
	if cursor.AfterPostID == "" {
		return true
	}
	return slices.ContainsFunc(records, func(rec domain.CachedPost) bool {
		return rec.Post.ID == cursor.AfterPostID && rec.Post.Sentiment != nil
	})
}

// FilterByThreshold keeps the posts whose composite score is at least
// threshold. Unannotated posts never pass.
func FilterByThreshold(posts []domain.Post, threshold float64) ([]domain.Post, domain.Stats) {
	kept := make([]domain.Post, 0, len(posts))
	for _, p := range posts {
		if p.Sentiment != nil && p.Sentiment.Score >= threshold {
			kept = append(kept, p)
		}
	}
	return kept, domain.Stats{
		Total:    len(posts),
		Positive: len(kept),
		Filtered: len(posts) - len(kept),
	}
}

func resolveAuthors(posts []domain.Post, authors map[string]domain.Author) ([]domain.Post, int) {
	out := make([]domain.Post, 0, len(posts))
	for _, p := range posts {
		if _, ok := authors[p.AuthorID]; ok {
			out = append(out, p)
		}
	}
	return out, len(posts) - len(out)
}

func authorsOf(posts []domain.Post, authors map[string]domain.Author) []domain.Author {
	seen := make(map[string]bool, len(posts))
	out := make([]domain.Author, 0, len(posts))
	for _, p := range posts {
		if seen[p.AuthorID] {
			continue
		}
		if a, ok := authors[p.AuthorID]; ok {
			seen[p.AuthorID] = true
			out = append(out, a)
		}
	}
	return out
}

func sortNewestFirst(posts []domain.Post) {
	slices.SortStableFunc(posts, func(a, b domain.Post) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}

func (s *FeedService) debugf(format string, args ...any) {
	if s.opts.Debug {
		log.Printf(format, args...)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
