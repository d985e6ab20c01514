// Package auth signs users in with X (OAuth 2.0 + PKCE) and resolves the
// session behind each request, refreshing expired access tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"positivex.app/server/internal/core"
	"positivex.app/server/internal/domain"
)

const (
	SessionCookie = "positivex_session"
	StateCookie   = "positivex_oauth_state"

	DefaultSessionTTL = 30 * 24 * time.Hour
	StateTTL          = 10 * time.Minute

	serviceSessionID = "service"
)

var (
	// Endpoint is X's OAuth 2.0 authorization server.
	Endpoint = oauth2.Endpoint{
		AuthURL:   "https://twitter.com/i/oauth2/authorize",
		TokenURL:  "https://api.twitter.com/2/oauth2/token",
		AuthStyle: oauth2.AuthStyleInHeader,
	}
	Scopes = []string{"tweet.read", "users.read", "like.read", "offline.access"}
)

var ErrStateMismatch = errors.New("oauth state mismatch")

// SessionStore is the session half of store.Store.
type SessionStore interface {
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	UpdateSessionToken(ctx context.Context, s *domain.Session) error
	DeleteSession(ctx context.Context, id string) error
}

// Identity looks up the account behind an access token.
type Identity interface {
	Me(ctx context.Context, token string) (*domain.Author, error)
}

type Options struct {
	ClientID      string
	ClientSecret  string
	RedirectURL   string
	SessionSecret string
	SessionTTL    time.Duration
	// BearerToken and UserID, when both set, serve requests that carry no session cookie.
	BearerToken string
	UserID      string
	// Endpoint overrides the X authorization server.
	Endpoint *oauth2.Endpoint
}

type Service struct {
	oauth      *oauth2.Config
	signer     *Signer
	sessions   SessionStore
	identity   Identity
	sessionTTL time.Duration
	fallback   *domain.Session
	now        func() time.Time
}

func NewService(opts Options, sessions SessionStore, identity Identity) *Service {
	endpoint := Endpoint
	if opts.Endpoint != nil {
		endpoint = *opts.Endpoint
	}
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	s := &Service{
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       Scopes,
		},
		signer:     NewSigner(opts.SessionSecret),
		sessions:   sessions,
		identity:   identity,
		sessionTTL: ttl,
		now:        time.Now,
	}
	if opts.BearerToken != "" && opts.UserID != "" {
		s.fallback = &domain.Session{
			ID:          serviceSessionID,
			UserID:      opts.UserID,
			AccessToken: opts.BearerToken,
			TokenType:   "bearer",
		}
	}
	return s
}

// SignInEnabled reports whether the OAuth client is configured.
func (s *Service) SignInEnabled() bool {
	return s.oauth.ClientID != ""
}

func (s *Service) SessionTTL() time.Duration {
	return s.sessionTTL
}

// AuthCodeURL starts a sign-in. The returned state token must come back with
// the callback, normally through StateCookie.
func (s *Service) AuthCodeURL() (authURL, stateToken string, err error) {
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	stateToken, err = s.signer.SignState(state, verifier, StateTTL)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign oauth state: %w", err)
	}
	authURL = s.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	return authURL, stateToken, nil
}

// Exchange completes a sign-in: it checks state, redeems the code, looks up
// the user and stores a new session. It returns the session and its cookie value.
func (s *Service) Exchange(ctx context.Context, code, state, stateToken string) (*domain.Session, string, error) {
	expected, verifier, err := s.signer.ParseState(stateToken)
	if err != nil {
		return nil, "", core.NewError(core.KindUnauthenticated, "Sign-in expired. Please try again.", err)
	}
	if state == "" || state != expected {
		return nil, "", core.NewError(core.KindUnauthenticated, "Sign-in could not be verified. Please try again.", ErrStateMismatch)
	}
	if code == "" {
		return nil, "", core.NewError(core.KindInvalidRequest, "missing authorization code", nil)
	}

	token, err := s.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, "", core.NewError(core.KindUpstream, "Could not complete sign-in with X.", err)
	}

	me, err := s.identity.Me(ctx, token.AccessToken)
	if err != nil {
		return nil, "", core.NewError(core.KindUpstream, "Could not load your X profile.", err)
	}

	sess := &domain.Session{
		ID:           uuid.NewString(),
		UserID:       me.ID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return nil, "", core.NewError(core.KindStorage, "Could not save your session.", err)
	}

	cookie, err := s.signer.SignSession(sess.ID, s.sessionTTL)
	if err != nil {
		return nil, "", core.NewError(core.KindInternal, "Could not save your session.", err)
	}
	log.Printf("[auth] user %s (@%s) signed in", me.ID, me.Username)
	return sess, cookie, nil
}

// Resolve returns the session for a cookie value, refreshing its access token
// when expired. An empty cookie falls back to the service session if one is configured.
func (s *Service) Resolve(ctx context.Context, cookieValue string) (*domain.Session, error) {
	if cookieValue == "" {
		if s.fallback != nil {
			return s.fallback, nil
		}
		return nil, core.NewError(core.KindUnauthenticated, "Please sign in with X.", nil)
	}

	id, err := s.signer.ParseSession(cookieValue)
	if err != nil {
		return nil, core.NewError(core.KindUnauthenticated, "Your session is invalid. Please sign in again.", err)
	}
	sess, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, core.NewError(core.KindStorage, "Could not load your session.", err)
	}
	if sess == nil {
		return nil, core.NewError(core.KindUnauthenticated, "Your session has ended. Please sign in again.", nil)
	}

	if sess.Expired(s.now()) {
		if err := s.refresh(ctx, sess); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

func (s *Service) refresh(ctx context.Context, sess *domain.Session) error {
	if sess.RefreshToken == "" {
		return core.NewError(core.KindUnauthenticated, "Your X session expired. Please sign in again.", nil)
	}

	src := s.oauth.TokenSource(ctx, &oauth2.Token{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		TokenType:    sess.TokenType,
		Expiry:       sess.Expiry,
	})
	token, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return core.NewError(core.KindUnauthenticated, "Your X session expired. Please sign in again.", err)
		}
		return core.NewError(core.KindUpstream, "Could not refresh your X session.", err)
	}

	sess.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		sess.RefreshToken = token.RefreshToken
	}
	sess.TokenType = token.TokenType
	sess.Expiry = token.Expiry
	if err := s.sessions.UpdateSessionToken(ctx, sess); err != nil {
		// The refreshed token is still good for this request.
		log.Printf("[auth] failed to persist refreshed token for session %s: %v", sess.ID, err)
	}
	log.Printf("[auth] refreshed access token for user %s", sess.UserID)
	return nil
}

// SignOut destroys the session behind cookieValue. Unknown or invalid cookies are ignored.
func (s *Service) SignOut(ctx context.Context, cookieValue string) error {
	if cookieValue == "" {
		return nil
	}
	id, err := s.signer.ParseSession(cookieValue)
	if err != nil {
		return nil
	}
	if err := s.sessions.DeleteSession(ctx, id); err != nil {
		return core.NewError(core.KindStorage, "Could not sign you out.", err)
	}
	return nil
}

type sessionKey struct{}

func WithSession(ctx context.Context, s *domain.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session stored by WithSession, or nil.
func SessionFrom(ctx context.Context) *domain.Session {
	s, _ := ctx.Value(sessionKey{}).(*domain.Session)
	return s
}
