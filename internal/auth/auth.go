// Package auth issues and checks the bearer tokens that identify a user to
// the remote store
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

var (
	// ErrNoToken is returned when no user is signed in
	ErrNoToken = errors.New("not signed in")
	// ErrInvalidToken is returned for tokens that fail verification
	ErrInvalidToken = errors.New("invalid token")
)

// Provider reports the current user, if any
type Provider interface {
	UserID() (string, bool)
}

// Claims are the token claims. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Device string `json:"device,omitempty"`
}

// Issuer signs and verifies HS256 tokens. It runs on the proxy server,
// which is the only holder of the secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. A zero ttl issues tokens without expiry.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns a signed token for userID
func (i *Issuer) Issue(userID, device string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id cannot be empty")
	}

	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Device: device,
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

// Verify checks the signature and expiry and returns the subject
func (i *Issuer) Verify(token string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// TokenProvider holds the signed in user's token on the client. The user id
// is read from the token without checking the signature; the proxy does
// that on every request.
type TokenProvider struct {
	mu      sync.RWMutex
	token   string
	subject string
	expires time.Time
	now     func() time.Time
}

// NewTokenProvider creates a provider. An empty token means signed out.
func NewTokenProvider(token string) (*TokenProvider, error) {
	p := &TokenProvider{now: time.Now}
	if token == "" {
		return p, nil
	}
	if err := p.Set(token); err != nil {
		return nil, err
	}
	return p, nil
}

// Set signs in with token
func (p *TokenProvider) Set(token string) error {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
	p.subject = claims.Subject
	p.expires = time.Time{}
	if claims.ExpiresAt != nil {
		p.expires = claims.ExpiresAt.Time
	}
	return nil
}

// Clear signs out
func (p *TokenProvider) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	p.subject = ""
	p.expires = time.Time{}
}

// UserID implements Provider. Expired tokens count as signed out.
func (p *TokenProvider) UserID() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.subject == "" || p.expired() {
		return "", false
	}
	return p.subject, true
}

// Token implements oauth2.TokenSource
func (p *TokenProvider) Token() (*oauth2.Token, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.token == "" {
		return nil, ErrNoToken
	}
	if p.expired() {
		return nil, fmt.Errorf("%w: token expired", ErrNoToken)
	}
	return &oauth2.Token{AccessToken: p.token, TokenType: "Bearer", Expiry: p.expires}, nil
}

// Raw returns the current token string
func (p *TokenProvider) Raw() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token
}

// must be called with mu held
func (p *TokenProvider) expired() bool {
	return !p.expires.IsZero() && !p.now().Before(p.expires)
}

// Static is a Provider for a fixed user, used by trusted tooling
type Static string

// UserID implements Provider
func (s Static) UserID() (string, bool) {
	return string(s), s != ""
}
