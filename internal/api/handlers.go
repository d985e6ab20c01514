package api

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"positivex.app/server/internal/auth"
	"positivex.app/server/internal/core"
	"positivex.app/server/internal/domain"
)

type FeedFetcher interface {
	Fetch(ctx context.Context, req core.FeedRequest) (*core.FeedPage, error)
}

type TextAnalyzer interface {
	Analyze(ctx context.Context, text string) (*domain.Sentiment, error)
}

// Authenticator is the sign-in surface of auth.Service.
type Authenticator interface {
	SignInEnabled() bool
	SessionTTL() time.Duration
	AuthCodeURL() (authURL, stateToken string, err error)
	Exchange(ctx context.Context, code, state, stateToken string) (*domain.Session, string, error)
	Resolve(ctx context.Context, cookieValue string) (*domain.Session, error)
	SignOut(ctx context.Context, cookieValue string) error
}

type HandlerOptions struct {
	DefaultThreshold float64
	// FrontendURL is where the browser lands after sign-in and sign-out.
	FrontendURL   string
	SecureCookies bool
}

type APIHandler struct {
	feeds     FeedFetcher
	sentiment TextAnalyzer
	auth      Authenticator
	opts      HandlerOptions
}

func NewAPIHandler(feeds FeedFetcher, sentiment TextAnalyzer, authn Authenticator, opts HandlerOptions) *APIHandler {
	if opts.FrontendURL == "" {
		opts.FrontendURL = "/"
	}
	return &APIHandler{feeds: feeds, sentiment: sentiment, auth: authn, opts: opts}
}

// SessionMiddleware resolves the caller's session and rejects the request with 401 when there is none.
func (h *APIHandler) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.auth.Resolve(r.Context(), cookieValue(r, auth.SessionCookie))
		if err != nil {
			if core.AsError(err).Kind == core.KindUnauthenticated {
				h.clearCookie(w, auth.SessionCookie, "/")
			}
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), sess)))
	})
}

// Feed handlers

func (h *APIHandler) TweetsHandler(w http.ResponseWriter, r *http.Request) {
	h.serveFeed(w, r, domain.FeedLiked)
}

func (h *APIHandler) TimelineHandler(w http.ResponseWriter, r *http.Request) {
	h.serveFeed(w, r, domain.FeedTimeline)
}

func (h *APIHandler) serveFeed(w http.ResponseWriter, r *http.Request, feed domain.Feed) {
	q := r.URL.Query()

	threshold := h.opts.DefaultThreshold
	if raw := q.Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, core.NewError(core.KindInvalidRequest, "threshold must be a number between 0 and 1", err))
			return
		}
		threshold = v
	}

	refresh := false
	if raw := q.Get("refresh"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, core.NewError(core.KindInvalidRequest, "refresh must be true or false", err))
			return
		}
		refresh = v
	}

	page, err := h.feeds.Fetch(r.Context(), core.FeedRequest{
		Feed:      feed,
		Session:   auth.SessionFrom(r.Context()),
		Cursor:    q.Get("cursor"),
		Refresh:   refresh,
		Threshold: threshold,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type SentimentRequest struct {
	Text string `json:"text"`
}

func (h *APIHandler) SentimentHandler(w http.ResponseWriter, r *http.Request) {
	var req SentimentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, core.NewError(core.KindInvalidRequest, "Invalid request body", err))
		return
	}

	result, err := h.sentiment.Analyze(r.Context(), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Auth handlers

func (h *APIHandler) SignInHandler(w http.ResponseWriter, r *http.Request) {
	if !h.auth.SignInEnabled() {
		writeError(w, core.NewError(core.KindInvalidRequest, "Sign-in with X is not configured on this server.", nil))
		return
	}
	authURL, stateToken, err := h.auth.AuthCodeURL()
	if err != nil {
		writeError(w, err)
		return
	}
	h.setCookie(w, auth.StateCookie, stateToken, "/api/auth", auth.StateTTL)
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *APIHandler) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.clearCookie(w, auth.StateCookie, "/api/auth")

	if oauthErr := q.Get("error"); oauthErr != "" {
		log.Printf("Sign-in was not completed: %s %s", oauthErr, q.Get("error_description"))
		http.Redirect(w, r, h.frontendURL("error", oauthErr), http.StatusFound)
		return
	}

	_, sessionToken, err := h.auth.Exchange(r.Context(), q.Get("code"), q.Get("state"), cookieValue(r, auth.StateCookie))
	if err != nil {
		log.Printf("Error completing sign-in: %v", err)
		http.Redirect(w, r, h.frontendURL("error", string(core.AsError(err).Kind)), http.StatusFound)
		return
	}
	h.setCookie(w, auth.SessionCookie, sessionToken, "/", h.auth.SessionTTL())
	http.Redirect(w, r, h.opts.FrontendURL, http.StatusFound)
}

func (h *APIHandler) SignOutHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.SignOut(r.Context(), cookieValue(r, auth.SessionCookie)); err != nil {
		log.Printf("Error signing out: %v", err)
	}
	h.clearCookie(w, auth.SessionCookie, "/")

	if r.Method == http.MethodGet {
		http.Redirect(w, r, h.opts.FrontendURL, http.StatusFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type SessionResponse struct {
	User    *SessionUser `json:"user,omitempty"`
	Expires *time.Time   `json:"expires,omitempty"`
}

type SessionUser struct {
	ID string `json:"id"`
}

// SessionHandler reports the signed-in user, or an empty object when there is none.
func (h *APIHandler) SessionHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := h.auth.Resolve(r.Context(), cookieValue(r, auth.SessionCookie))
	if err != nil {
		if core.AsError(err).Kind != core.KindUnauthenticated {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SessionResponse{})
		return
	}
	resp := SessionResponse{User: &SessionUser{ID: sess.UserID}}
	if !sess.Expiry.IsZero() {
		resp.Expires = &sess.Expiry
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Responses

type ErrorResponse struct {
	Error      core.ErrorKind `json:"error"`
	Message    string         `json:"message"`
	Details    string         `json:"details,omitempty"`
	RetryAfter *int           `json:"retryAfter,omitempty"` // seconds
}

func statusFor(kind core.ErrorKind) int {
	switch kind {
	case core.KindUnauthenticated:
		return http.StatusUnauthorized
	case core.KindInvalidRequest:
		return http.StatusBadRequest
	case core.KindRateLimited:
		return http.StatusTooManyRequests
	case core.KindUpstream:
		return http.StatusBadGateway
	case core.KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	e := core.AsError(err)
	status := statusFor(e.Kind)
	if status >= http.StatusInternalServerError {
		log.Printf("Request failed: %v", err)
	}

	resp := ErrorResponse{Error: e.Kind, Message: e.Message, Details: e.Detail}
	if e.Kind == core.KindRateLimited {
		secs := max(int(math.Ceil(e.RetryAfter.Seconds())), 1)
		resp.RetryAfter = &secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

// Cookies

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (h *APIHandler) setCookie(w http.ResponseWriter, name, value, path string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *APIHandler) clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *APIHandler) frontendURL(key, value string) string {
	u, err := url.Parse(h.opts.FrontendURL)
	if err != nil {
		return h.opts.FrontendURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
