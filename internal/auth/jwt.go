package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	sessionAudience = "positivex-session"
	stateAudience   = "positivex-oauth-state"
)

// Signer issues and validates the HS256 tokens carried in cookies.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

type stateClaims struct {
	Verifier string `json:"pkce"`
	jwt.RegisteredClaims
}

// SignSession returns a token whose subject is the server-side session id.
func (s *Signer) SignSession(sessionID string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		Audience:  jwt.ClaimStrings{sessionAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ParseSession validates a session token and returns the session id.
func (s *Signer) ParseSession(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	if err := s.parse(tokenString, &claims, sessionAudience); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("invalid token: missing subject")
	}
	return claims.Subject, nil
}

// SignState binds the OAuth state nonce to the PKCE verifier for one sign-in attempt.
func (s *Signer) SignState(state, verifier string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := stateClaims{
		Verifier: verifier,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        state,
			Audience:  jwt.ClaimStrings{stateAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Signer) ParseState(tokenString string) (state, verifier string, err error) {
	var claims stateClaims
	if err := s.parse(tokenString, &claims, stateAudience); err != nil {
		return "", "", err
	}
	if claims.ID == "" || claims.Verifier == "" {
		return "", "", fmt.Errorf("invalid token: incomplete state")
	}
	return claims.ID, claims.Verifier, nil
}

func (s *Signer) parse(tokenString string, claims jwt.Claims, audience string) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}
