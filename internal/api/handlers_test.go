package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"positivex.app/server/internal/auth"
	"positivex.app/server/internal/core"
	"positivex.app/server/internal/domain"
)

type fakeFeeds struct {
	last core.FeedRequest
	page *core.FeedPage
	err  error
}

func (f *fakeFeeds) Fetch(ctx context.Context, req core.FeedRequest) (*core.FeedPage, error) {
	f.last = req
	if err := core.ValidateThreshold(req.Threshold); err != nil {
		return nil, err
	}
	return f.page, f.err
}

type fakeAnalyzer struct{}

func (fakeAnalyzer) Analyze(ctx context.Context, text string) (*domain.Sentiment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, core.NewError(core.KindInvalidRequest, "text is required", nil)
	}
	return &domain.Sentiment{Score: 0.95, Category: domain.CategoryPositive, Type: domain.ContentMotivational}, nil
}

type fakeAuth struct {
	sessions  map[string]*domain.Session
	signedOut []string
}

func (f *fakeAuth) SignInEnabled() bool { return true }

func (f *fakeAuth) SessionTTL() time.Duration { return time.Hour }

func (f *fakeAuth) AuthCodeURL() (string, string, error) {
	return "https://x.example/authorize?state=abc", "state-token", nil
}

func (f *fakeAuth) Exchange(ctx context.Context, code, state, stateToken string) (*domain.Session, string, error) {
	if stateToken != "state-token" || state != "abc" {
		return nil, "", core.NewError(core.KindUnauthenticated, "mismatch", auth.ErrStateMismatch)
	}
	return &domain.Session{ID: "s1", UserID: "42"}, "session-token", nil
}

func (f *fakeAuth) Resolve(ctx context.Context, cookie string) (*domain.Session, error) {
	if s, ok := f.sessions[cookie]; ok {
		return s, nil
	}
	return nil, core.NewError(core.KindUnauthenticated, "Please sign in with X.", nil)
}

func (f *fakeAuth) SignOut(ctx context.Context, cookie string) error {
	f.signedOut = append(f.signedOut, cookie)
	return nil
}

func newTestRouter(feeds *fakeFeeds) (http.Handler, *fakeAuth) {
	authn := &fakeAuth{sessions: map[string]*domain.Session{
		"good": {ID: "s1", UserID: "42", AccessToken: "tok", Expiry: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)},
	}}
	h := NewAPIHandler(feeds, fakeAnalyzer{}, authn, HandlerOptions{DefaultThreshold: 0.7, FrontendURL: "http://localhost:3000/"})
	return NewRouter(h), authn
}

func do(h http.Handler, method, target, body, cookie string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: cookie})
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

func TestTweetsRequiresSession(t *testing.T) {
	h, _ := newTestRouter(&fakeFeeds{page: &core.FeedPage{}})

	rec := do(h, http.MethodGet, "/api/tweets", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != core.KindUnauthenticated {
		t.Errorf("error = %+v", resp)
	}
}

func TestTweetsPassesQueryToService(t *testing.T) {
	next := "n1"
	feeds := &fakeFeeds{page: &core.FeedPage{
		Posts:     []domain.Post{{ID: "1", AuthorID: "a", Sentiment: &domain.Sentiment{Score: 0.9}}},
		Users:     []domain.Author{{ID: "a"}},
		NextToken: &next,
		Stats:     domain.Stats{Total: 3, Positive: 1, Filtered: 2},
	}}
	h, _ := newTestRouter(feeds)

	rec := do(h, http.MethodGet, "/api/tweets?cursor=c1&refresh=true&threshold=0.4", "", "good")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if feeds.last.Feed != domain.FeedLiked || feeds.last.Cursor != "c1" || !feeds.last.Refresh || feeds.last.Threshold != 0.4 {
		t.Errorf("request = %+v", feeds.last)
	}
	if feeds.last.Session == nil || feeds.last.Session.UserID != "42" {
		t.Errorf("session not forwarded: %+v", feeds.last.Session)
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"tweets", "users", "next_token", "stats", "_meta"} {
		if _, ok := body[key]; !ok {
			t.Errorf("response missing %q", key)
		}
	}
}

func TestTimelineDefaultsThreshold(t *testing.T) {
	feeds := &fakeFeeds{page: &core.FeedPage{}}
	h, _ := newTestRouter(feeds)

	rec := do(h, http.MethodGet, "/api/timeline", "", "good")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if feeds.last.Feed != domain.FeedTimeline || feeds.last.Threshold != 0.7 {
		t.Errorf("request = %+v", feeds.last)
	}
}

func TestFeedRejectsBadQuery(t *testing.T) {
	h, _ := newTestRouter(&fakeFeeds{page: &core.FeedPage{}})
	for _, target := range []string{"/api/timeline?threshold=abc", "/api/timeline?threshold=1.2", "/api/tweets?refresh=maybe"} {
		rec := do(h, http.MethodGet, target, "", "good")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", target, rec.Code)
		}
	}
}

func TestRateLimitedMapsTo429(t *testing.T) {
	rl := core.NewError(core.KindRateLimited, "X API rate limit reached.", nil)
	rl.RetryAfter = 90*time.Second + 200*time.Millisecond
	h, _ := newTestRouter(&fakeFeeds{err: rl})

	rec := do(h, http.MethodGet, "/api/tweets", "", "good")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "91" {
		t.Errorf("Retry-After = %q, want 91", got)
	}
	resp := decodeError(t, rec)
	if resp.Error != core.KindRateLimited || resp.RetryAfter == nil || *resp.RetryAfter != 91 {
		t.Errorf("error = %+v", resp)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := map[core.ErrorKind]int{
		core.KindUpstream: http.StatusBadGateway,
		core.KindStorage:  http.StatusServiceUnavailable,
		core.KindInternal: http.StatusInternalServerError,
	}
	for kind, want := range tests {
		h, _ := newTestRouter(&fakeFeeds{err: core.NewError(kind, "boom", nil)})
		if rec := do(h, http.MethodGet, "/api/tweets", "", "good"); rec.Code != want {
			t.Errorf("%s status = %d, want %d", kind, rec.Code, want)
		}
	}
}

func TestSentimentEndpoint(t *testing.T) {
	h, _ := newTestRouter(&fakeFeeds{})

	rec := do(h, http.MethodPost, "/api/sentiment", `{"text": "Harika bir gün! 😊💪"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var got domain.Sentiment
	json.NewDecoder(rec.Body).Decode(&got)
	if got.Category != domain.CategoryPositive || got.Type != domain.ContentMotivational {
		t.Errorf("sentiment = %+v", got)
	}

	for _, body := range []string{`{}`, `{"text": ""}`, `not json`} {
		if rec := do(h, http.MethodPost, "/api/sentiment", body, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("body %s status = %d, want 400", body, rec.Code)
		}
	}
}

func TestSignInFlow(t *testing.T) {
	h, _ := newTestRouter(&fakeFeeds{})

	rec := do(h, http.MethodGet, "/api/auth/signin", "", "")
	if rec.Code != http.StatusFound || !strings.HasPrefix(rec.Header().Get("Location"), "https://x.example/authorize") {
		t.Fatalf("signin = %d %s", rec.Code, rec.Header().Get("Location"))
	}
	var state *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.StateCookie {
			state = c
		}
	}
	if state == nil || !state.HttpOnly {
		t.Fatalf("state cookie = %+v", state)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/callback/twitter?code=xyz&state=abc", nil)
	req.AddCookie(&http.Cookie{Name: auth.StateCookie, Value: state.Value})
	cb := httptest.NewRecorder()
	h.ServeHTTP(cb, req)

	if cb.Code != http.StatusFound || cb.Header().Get("Location") != "http://localhost:3000/" {
		t.Fatalf("callback = %d %s", cb.Code, cb.Header().Get("Location"))
	}
	var session *http.Cookie
	for _, c := range cb.Result().Cookies() {
		if c.Name == auth.SessionCookie {
			session = c
		}
	}
	if session == nil || session.Value != "session-token" {
		t.Errorf("session cookie = %+v", session)
	}
}

func TestCallbackFailureRedirectsWithError(t *testing.T) {
	h, _ := newTestRouter(&fakeFeeds{})

	rec := do(h, http.MethodGet, "/api/auth/callback/twitter?code=xyz&state=forged", "", "")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "http://localhost:3000/?error=unauthenticated" {
		t.Errorf("Location = %q", loc)
	}

	rec = do(h, http.MethodGet, "/api/auth/callback/twitter?error=access_denied", "", "")
	if loc := rec.Header().Get("Location"); loc != "http://localhost:3000/?error=access_denied" {
		t.Errorf("Location = %q", loc)
	}
}

func TestSessionAndSignOut(t *testing.T) {
	h, authn := newTestRouter(&fakeFeeds{})

	rec := do(h, http.MethodGet, "/api/auth/session", "", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "{}" {
		t.Errorf("anonymous session = %d %s", rec.Code, rec.Body)
	}

	rec = do(h, http.MethodGet, "/api/auth/session", "", "good")
	var resp SessionResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.User == nil || resp.User.ID != "42" || resp.Expires == nil {
		t.Errorf("session = %+v", resp)
	}

	rec = do(h, http.MethodPost, "/api/auth/signout", "", "good")
	if rec.Code != http.StatusNoContent {
		t.Errorf("signout status = %d", rec.Code)
	}
	if len(authn.signedOut) != 1 || authn.signedOut[0] != "good" {
		t.Errorf("signed out = %v", authn.signedOut)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestRouter(&fakeFeeds{})
	rec := do(h, http.MethodGet, "/api/health/", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", rec.Code, rec.Body)
	}
}
