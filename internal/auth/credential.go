// ABOUTME: Bearer credential wrapper with local expiry pre-check
// ABOUTME: JWT exp claims are read unverified; opaque tokens are accepted as-is

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential errors
var (
	ErrNoCredential = errors.New("no credential")
	ErrExpired      = errors.New("credential expired")
)

// expirySkew is subtracted from the token's exp claim so a token about to
// expire mid-request is treated as already expired.
const expirySkew = 30 * time.Second

// Credential is a bearer token for the message service. If the token parses
// as a JWT, its exp claim is remembered so calls can fail fast locally
// instead of burning a round trip on a guaranteed 401. Opaque tokens carry
// no expiry and are always presented to the service.
type Credential struct {
	token     string
	expiresAt time.Time // zero when unknown
}

// NewCredential wraps a bearer token. The token is parsed as a JWT without
// signature verification purely to extract the exp claim; verification is
// the service's job, not the client's.
func NewCredential(token string) *Credential {
	c := &Credential{token: token}
	if token == "" {
		return c
	}

	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		// Not JWT-shaped. Treat as an opaque token with unknown expiry.
		return c
	}
	if exp, err := parsed.Claims.GetExpirationTime(); err == nil && exp != nil {
		c.expiresAt = exp.Time
	}
	return c
}

// Token returns the raw bearer token.
func (c *Credential) Token() string {
	if c == nil {
		return ""
	}
	return c.token
}

// Authorization returns the value for the Authorization header.
func (c *Credential) Authorization() string {
	return "Bearer " + c.Token()
}

// Check returns nil if the credential can be presented to the service,
// ErrNoCredential if it is absent, or ErrExpired if its known expiry has
// passed.
func (c *Credential) Check(now time.Time) error {
	if c == nil || c.token == "" {
		return ErrNoCredential
	}
	if !c.expiresAt.IsZero() && !now.Before(c.expiresAt.Add(-expirySkew)) {
		return ErrExpired
	}
	return nil
}

// ExpiresAt returns the token's expiry, or the zero time when unknown.
func (c *Credential) ExpiresAt() time.Time {
	if c == nil {
		return time.Time{}
	}
	return c.expiresAt
}
