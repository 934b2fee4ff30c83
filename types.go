package trailbase

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidParameter is returned when a caller-supplied argument is
	// outside its allowed range.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidCredentials is returned when the server rejects a login
	// attempt. The token store is left untouched.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSessionLost is returned when a token refresh fails and the
	// session has been cleared.
	ErrSessionLost = errors.New("session lost")

	// ErrExchangeFailed is returned when the server rejects a pkce
	// authorization code exchange.
	ErrExchangeFailed = errors.New("authorization code exchange failed")

	// ErrVerifierNotFound is returned by a VerifierStore when no pkce
	// verifier is present in the storage slot. Storage failures are
	// reported the same way so callers fall back to the cookie path.
	ErrVerifierNotFound = errors.New("no pkce verifier stored")
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type TokenExchangeRequest struct {
	AuthorizationCode string `json:"authorization_code"`
	PkceCodeVerifier  string `json:"pkce_code_verifier"`
}

// TokenResponse is the shape every auth endpoint answers with. On a
// refresh the server may rotate any subset of the three tokens; fields it
// leaves empty keep their previous values.
type TokenResponse struct {
	AuthToken    string `json:"auth_token"`
	RefreshToken string `json:"refresh_token"`
	CsrfToken    string `json:"csrf_token"`
}

// Session is the fully authenticated state. It is either completely
// present in the token store or completely absent, never partial.
type Session struct {
	AuthToken    string
	RefreshToken string
	CsrfToken    string
	ExpiresAt    time.Time
	UserId       string
	Email        string
}

// ExpiresWithin reports whether the access token deadline falls inside
// the next d.
func (s *Session) ExpiresWithin(d time.Duration) bool {
	return time.Until(s.ExpiresAt) <= d
}

type authClaims struct {
	Email     string `json:"email"`
	CsrfToken string `json:"csrf_token"`
	jwt.RegisteredClaims
}

// newSession builds a Session from a token response, pulling identity and
// expiry out of the auth token's claims. The token is parsed without
// signature verification: the client holds no verification key, and
// whether the server will honor the token is the server's call anyway.
// prev, when non-nil, supplies values for fields the server did not rotate.
func newSession(resp *TokenResponse, prev *Session) (*Session, error) {
	if resp == nil || resp.AuthToken == "" {
		return nil, fmt.Errorf("token response contained no auth token")
	}

	var claims authClaims
	if _, _, err := jwt.NewParser().ParseUnverified(resp.AuthToken, &claims); err != nil {
		return nil, fmt.Errorf("could not parse auth token claims: %w", err)
	}

	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("auth token carried no expiration claim")
	}

	sess := &Session{
		AuthToken:    resp.AuthToken,
		RefreshToken: resp.RefreshToken,
		CsrfToken:    resp.CsrfToken,
		ExpiresAt:    claims.ExpiresAt.Time,
		UserId:       claims.Subject,
		Email:        claims.Email,
	}

	if sess.CsrfToken == "" {
		sess.CsrfToken = claims.CsrfToken
	}

	if prev != nil {
		if sess.RefreshToken == "" {
			sess.RefreshToken = prev.RefreshToken
		}
		if sess.CsrfToken == "" {
			sess.CsrfToken = prev.CsrfToken
		}
	}

	return sess, nil
}
