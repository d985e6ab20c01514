// Package retry wraps outbound HTTP calls with bounded attempts,
// exponential backoff and rate-limit reset handling.
package retry

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
	DefaultMaxWait     = 30 * time.Second

	// RateLimitResetHeader carries the absolute epoch second at which the window resets.
	RateLimitResetHeader = "x-rate-limit-reset"

	maxResetHorizon = 24 * time.Hour
	maxDetailBytes  = 4 * 1024
)

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestBuilder creates a fresh request for every attempt, so bodies can be replayed.
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// ResetParser extracts the rate-limit reset time from response headers.
type ResetParser func(h http.Header, now time.Time) (time.Time, bool)

// Policy is one retry configuration shared by every upstream call that uses it.
// A Policy holds no per-call state and is safe for concurrent use.
type Policy struct {
	Name        string
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxWait caps a single wait. A rate-limit reset further away than MaxWait
	// is not slept on; Do fails fast with a RetryAfter hint instead.
	MaxWait time.Duration
	// NoRetry lists statuses returned to the caller after the first attempt.
	NoRetry    []int
	ParseReset ResetParser
	Now        func() time.Time
	Sleep      func(ctx context.Context, d time.Duration) error
}

func NewPolicy(name string, maxAttempts int, baseDelay, maxWait time.Duration) *Policy {
	return &Policy{
		Name:        name,
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxWait:     maxWait,
		ParseReset:  ParseResetHeader,
		Now:         time.Now,
		Sleep:       SleepContext,
	}
}

// ExhaustedError is returned when the policy gives up.
type ExhaustedError struct {
	Attempts    int
	StatusCode  int // 0 when the last attempt failed at the transport level
	RateLimited bool
	RetryAfter  time.Duration
	Detail      string
	Err         error
}

func (e *ExhaustedError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "request failed after %d attempt(s)", e.Attempts)
	if e.RateLimited {
		fmt.Fprintf(&sb, ": rate limited (retry after %s)", e.RetryAfter.Round(time.Second))
	} else if e.StatusCode != 0 {
		fmt.Fprintf(&sb, ": status %d", e.StatusCode)
	}
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do performs the request built by build until it succeeds or the policy is exhausted.
// On success the caller owns the response body.
func (p *Policy) Do(ctx context.Context, client Doer, build RequestBuilder) (*http.Response, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last *ExhaustedError
	for attempt := 0; attempt < attempts; attempt++ {
		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		var wait time.Duration
		resp, err := client.Do(req)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			last = &ExhaustedError{Err: err}
			wait = p.backoff(attempt)

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			now := p.now()
			wait = p.backoff(attempt)
			if reset, ok := p.parseReset(resp.Header, now); ok {
				wait = max(reset.Sub(now), 0)
			}
			last = &ExhaustedError{
				StatusCode:  resp.StatusCode,
				RateLimited: true,
				RetryAfter:  wait,
				Detail:      drain(resp),
			}
			if p.MaxWait > 0 && wait > p.MaxWait {
				last.Attempts = attempt + 1
				log.Printf("[%s] rate limited, reset in %s exceeds max wait %s; giving up", p.Name, wait.Round(time.Second), p.MaxWait)
				return nil, last
			}

		default:
			last = &ExhaustedError{StatusCode: resp.StatusCode, Detail: drain(resp)}
			if slices.Contains(p.NoRetry, resp.StatusCode) {
				last.Attempts = attempt + 1
				return nil, last
			}
			wait = p.backoff(attempt)
		}

		if attempt == attempts-1 {
			break
		}

		log.Printf("[%s] attempt %d/%d failed (%v); retrying in %s", p.Name, attempt+1, attempts, last, wait.Round(time.Millisecond))
		if err := p.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	last.Attempts = attempts
	return nil, last
}

// backoff returns BaseDelay * 2^attempt, capped at MaxWait.
func (p *Policy) backoff(attempt int) time.Duration {
	d := p.BaseDelay << attempt
	if d < 0 || (p.MaxWait > 0 && d > p.MaxWait) {
		return p.MaxWait
	}
	return d
}

func (p *Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

func (p *Policy) parseReset(h http.Header, now time.Time) (time.Time, bool) {
	if p.ParseReset != nil {
		return p.ParseReset(h, now)
	}
	return ParseResetHeader(h, now)
}

// ParseResetHeader reads x-rate-limit-reset as epoch seconds. Values more than
// 24 hours ahead are treated as unknown.
func ParseResetHeader(h http.Header, now time.Time) (time.Time, bool) {
	raw := strings.TrimSpace(h.Get(RateLimitResetHeader))
	if raw == "" {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	reset := time.Unix(secs, 0)
	if reset.Sub(now) > maxResetHorizon {
		return time.Time{}, false
	}
	return reset, true
}

// SleepContext sleeps for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func drain(resp *http.Response) string {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDetailBytes))
	if err != nil {
		return resp.Status
	}
	detail := strings.TrimSpace(string(body))
	if detail == "" {
		return resp.Status
	}
	return detail
}
