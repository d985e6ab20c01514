package domain

import "time"

// Feed identifies which upstream listing a page of posts came from.
type Feed string

const (
	FeedLiked    Feed = "liked"
	FeedTimeline Feed = "timeline"
)

// Post is a single X post as returned by the API, plus its annotation.
type Post struct {
	ID            string        `json:"id"`
	AuthorID      string        `json:"author_id"`
	Text          string        `json:"text"`
	CreatedAt     time.Time     `json:"created_at"`
	PublicMetrics PublicMetrics `json:"public_metrics"`
	Entities      *Entities     `json:"entities,omitempty"`
	Sentiment     *Sentiment    `json:"sentiment,omitempty"`
}

type PublicMetrics struct {
	RetweetCount int `json:"retweet_count"`
	ReplyCount   int `json:"reply_count"`
	LikeCount    int `json:"like_count"`
	QuoteCount   int `json:"quote_count"`
}

type Entities struct {
	URLs     []URLEntity     `json:"urls,omitempty"`
	Mentions []MentionEntity `json:"mentions,omitempty"`
	Hashtags []HashtagEntity `json:"hashtags,omitempty"`
}

type URLEntity struct {
	Start       int    `json:"start"`
	End         int    `json:"end"`
	URL         string `json:"url"`
	ExpandedURL string `json:"expanded_url,omitempty"`
	DisplayURL  string `json:"display_url,omitempty"`
}

type MentionEntity struct {
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Username string `json:"username"`
	ID       string `json:"id,omitempty"`
}

type HashtagEntity struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Tag   string `json:"tag"`
}

// Author is the account that created a Post.
type Author struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Username        string `json:"username"`
	ProfileImageURL string `json:"profile_image_url"`
}

// Category is the coarse polarity bucket of a composite score.
type Category string

const (
	CategoryPositive Category = "positive"
	CategoryNeutral  Category = "neutral"
	CategoryNegative Category = "negative"
)

// ContentType is the kind of positive content a post carries.
type ContentType string

const (
	ContentMotivational ContentType = "motivational"
	ContentFunny        ContentType = "funny"
	ContentInformative  ContentType = "informative"
	ContentArtistic     ContentType = "artistic"
	ContentGeneral      ContentType = "general"
)

// Sentiment is the annotation attached to a Post.
type Sentiment struct {
	Score    float64        `json:"score"` // Composite, in [-1, 1]
	Category Category       `json:"category"`
	Type     ContentType    `json:"type"`
	Stats    SentimentStats `json:"stats"`
}

type SentimentStats struct {
	ClassifierLabel string                  `json:"classifier_label"`
	ClassifierScore float64                 `json:"classifier_score"`
	SignedScore     float64                 `json:"signed_score"`
	EmojiScore      float64                 `json:"emoji_score"`
	EmojiCount      int                     `json:"emoji_count"`
	KeywordScores   map[ContentType]float64 `json:"keyword_scores,omitempty"`
}

// CachedPost is a cache record: a post with its resolved author.
type CachedPost struct {
	Post     Post      `json:"post"`
	Author   Author    `json:"author"`
	CachedAt time.Time `json:"cached_at"`
}

// Cursor is the upstream pagination token that follows the oldest cached page.
// AfterPostID is the last cached post of that page; the token is only valid
// while that post is still cached.
type Cursor struct {
	Token       string `json:"token"`
	AfterPostID string `json:"after_post_id,omitempty"`
}

// Stats summarises a threshold filter pass. Total == Positive + Filtered.
type Stats struct {
	Total    int `json:"total"`
	Positive int `json:"positive"`
	Filtered int `json:"filtered"`
}

// Session is the signed-in user's upstream credentials.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
	CreatedAt    time.Time `json:"created_at"`
}

// Expired reports whether the access token is past its expiry. A zero expiry never expires.
func (s *Session) Expired(now time.Time) bool {
	return !s.Expiry.IsZero() && !now.Before(s.Expiry)
}
