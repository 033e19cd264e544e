// Package session mints the optional post-verification session token for the
// internal user behind an embed. It is only used with EMBED_SESSION_POLICY=token.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	CookieName = "embed_session"
	Issuer     = "chatembed"
)

var ErrNoSecret = errors.New("session secret not configured")

type Claims struct {
	UserID         string
	TenantID       string
	ExternalUserID string
	Origin         string
	ExpiresAt      time.Time
}

type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (s *Signer) TTL() time.Duration { return s.ttl }

// Sign returns an HS256 JWT for the internal user.
func (s *Signer) Sign(c Claims) (string, error) {
	now := s.now()
	tok, err := jwt.NewBuilder().
		Issuer(Issuer).
		Subject(c.UserID).
		Audience([]string{c.TenantID}).
		IssuedAt(now).
		Expiration(now.Add(s.ttl)).
		Claim("ext", c.ExternalUserID).
		Claim("origin", c.Origin).
		Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, s.secret))
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return string(signed), nil
}

// Parse validates a session token and returns its claims.
func (s *Signer) Parse(raw string) (Claims, error) {
	tok, err := jwt.ParseString(raw,
		jwt.WithKey(jwa.HS256, s.secret),
		jwt.WithValidate(true),
		jwt.WithIssuer(Issuer),
		jwt.WithClock(jwt.ClockFunc(s.now)),
	)
	if err != nil {
		return Claims{}, err
	}
	c := Claims{UserID: tok.Subject(), ExpiresAt: tok.Expiration()}
	if aud := tok.Audience(); len(aud) > 0 {
		c.TenantID = aud[0]
	}
	if v, ok := tok.Get("ext"); ok {
		c.ExternalUserID, _ = v.(string)
	}
	if v, ok := tok.Get("origin"); ok {
		c.Origin, _ = v.(string)
	}
	return c, nil
}
