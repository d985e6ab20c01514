// Package twitter is a minimal client for the X API v2 endpoints the service reads.
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"positivex.app/server/internal/domain"
	"positivex.app/server/internal/retry"
	"positivex.app/server/internal/textutil"
)

const (
	DefaultBaseURL = "https://api.twitter.com"

	likedPageSize    = 10
	timelinePageSize = 20

	tweetFields = "created_at,author_id,public_metrics,entities"
	userFields  = "name,username,profile_image_url"
)

// Page is one page of posts with the authors the response expanded.
type Page struct {
	Posts       []domain.Post
	Authors     map[string]domain.Author
	NextToken   string
	ResultCount int
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      *retry.Policy
}

// NewClient builds a client whose calls all go through policy. Authorization
// failures are never retried.
func NewClient(baseURL string, httpClient *http.Client, policy *retry.Policy) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if policy == nil {
		policy = retry.NewPolicy("twitter", retry.DefaultMaxAttempts, retry.DefaultBaseDelay, retry.DefaultMaxWait)
	}
	p := *policy
	p.NoRetry = append([]int{http.StatusUnauthorized, http.StatusForbidden}, policy.NoRetry...)
	return &Client{baseURL: baseURL, httpClient: httpClient, retry: &p}
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

type timelineResponse struct {
	Data     []domain.Post `json:"data"`
	Includes struct {
		Users []domain.Author `json:"users"`
	} `json:"includes"`
	Meta struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
	Errors []apiError `json:"errors"`
}

// LikedTweets returns a page of posts liked by userID.
func (c *Client) LikedTweets(ctx context.Context, token, userID, cursor string) (*Page, error) {
	return c.page(ctx, token, "/2/users/"+url.PathEscape(userID)+"/liked_tweets", likedPageSize, cursor)
}

// HomeTimeline returns a page of the reverse-chronological home timeline of userID.
func (c *Client) HomeTimeline(ctx context.Context, token, userID, cursor string) (*Page, error) {
	return c.page(ctx, token, "/2/users/"+url.PathEscape(userID)+"/timelines/reverse_chronological", timelinePageSize, cursor)
}

func (c *Client) page(ctx context.Context, token, path string, size int, cursor string) (*Page, error) {
	params := url.Values{}
	params.Set("max_results", strconv.Itoa(size))
	params.Set("tweet.fields", tweetFields)
	params.Set("user.fields", userFields)
	params.Set("expansions", "author_id")
	if cursor != "" {
		params.Set("pagination_token", cursor)
	}

	var body timelineResponse
	if err := c.get(ctx, token, path+"?"+params.Encode(), &body); err != nil {
		return nil, err
	}
	for _, e := range body.Errors {
		// Partial errors accompany otherwise usable data, e.g. a deleted author.
		log.Printf("[twitter] %s: %s", e.Title, e.Detail)
	}

	page := &Page{
		Posts:       make([]domain.Post, 0, len(body.Data)),
		Authors:     make(map[string]domain.Author, len(body.Includes.Users)),
		NextToken:   body.Meta.NextToken,
		ResultCount: body.Meta.ResultCount,
	}
	for _, p := range body.Data {
		p.Text = textutil.Unescape(p.Text)
		page.Posts = append(page.Posts, p)
	}
	for _, u := range body.Includes.Users {
		page.Authors[u.ID] = u
	}
	return page, nil
}

// Me returns the account that owns token.
func (c *Client) Me(ctx context.Context, token string) (*domain.Author, error) {
	var body struct {
		Data domain.Author `json:"data"`
	}
	if err := c.get(ctx, token, "/2/users/me?user.fields="+url.QueryEscape(userFields), &body); err != nil {
		return nil, err
	}
	if body.Data.ID == "" {
		return nil, fmt.Errorf("users/me returned no user")
	}
	return &body.Data, nil
}

func (c *Client) get(ctx context.Context, token, pathAndQuery string, out any) error {
	resp, err := c.retry.Do(ctx, c.httpClient, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathAndQuery, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("x api request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode x api response: %w", err)
	}
	return nil
}
