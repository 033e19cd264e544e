// Package token is the single codec for embed tokens.
//
// An embed token is a compact JWS (HS256) whose payload binds an application
// id, an optional external user id, a snapshot of the application's allowed
// origins, and issue/expiry times in unix seconds:
//
//	base64url({"alg":"HS256","typ":"JWT"}) . base64url(claims) . base64url(HMAC-SHA256)
//
// Any conforming JWS implementation sharing the secret can produce or check
// these tokens.
package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"

	"chatembed/pkg/tenants"
)

// DefaultTTL is the lifetime of a token issued without an explicit ttl.
const DefaultTTL = 24 * time.Hour

var (
	ErrMalformed  = errors.New("malformed token")
	ErrInvalidTTL = errors.New("token ttl must be positive")
	ErrTTLTooLong = errors.New("token ttl exceeds the issuer maximum")
)

// Claims is the token payload. Wire names match the deployed widget SDK.
type Claims struct {
	TenantID       string   `json:"appId"`
	ExternalUserID string   `json:"userId,omitempty"`
	AllowedOrigins []string `json:"allowedDomains"`
	IssuedAt       int64    `json:"iat"`
	ExpiresAt      int64    `json:"exp"`
}

// Expired reports whether the token is no longer valid at now.
func (c Claims) Expired(now time.Time) bool { return now.Unix() >= c.ExpiresAt }

// Parsed is a split, payload-decoded token. The signature is NOT checked.
type Parsed struct {
	Header    string // encoded header segment
	Payload   string // encoded payload segment
	Signature string // encoded signature segment
	Claims    Claims
}

// Parse splits raw into its three segments and decodes the payload.
// It requires exactly three non-empty parts and a JSON object payload.
func Parse(raw string) (Parsed, error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 3 {
		return Parsed{}, fmt.Errorf("%w: want 3 segments, got %d", ErrMalformed, len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return Parsed{}, fmt.Errorf("%w: empty segment", ErrMalformed)
		}
		if !rawURLSegment(p) {
			return Parsed{}, fmt.Errorf("%w: segment is not unpadded base64url", ErrMalformed)
		}
	}
	body, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Parsed{}, fmt.Errorf("%w: payload encoding: %v", ErrMalformed, err)
	}
	var c Claims
	if err := json.Unmarshal(body, &c); err != nil {
		return Parsed{}, fmt.Errorf("%w: payload json: %v", ErrMalformed, err)
	}
	if c.TenantID == "" {
		return Parsed{}, fmt.Errorf("%w: missing appId", ErrMalformed)
	}
	return Parsed{Header: parts[0], Payload: parts[1], Signature: parts[2], Claims: c}, nil
}

// VerifySignature recomputes the HS256 signature over header.payload and
// compares it in constant time. Any decoding problem counts as a mismatch.
func VerifySignature(encodedHeader, encodedPayload, signature string, secret []byte) bool {
	if len(secret) == 0 || !rawURLSegment(signature) {
		return false
	}
	compact := encodedHeader + "." + encodedPayload + "." + signature
	_, err := jws.Verify([]byte(compact), jws.WithKey(jwa.HS256, secret))
	return err == nil
}

// rawURLSegment reports whether s uses only the unpadded base64url alphabet.
// jws decodes padded and standard-alphabet input too.
func rawURLSegment(s string) bool {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// Sign serializes claims with secret.
func Sign(c Claims, secret []byte) (string, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	hdrs := jws.NewHeaders()
	if err := hdrs.Set(jws.TypeKey, "JWT"); err != nil {
		return "", err
	}
	out, err := jws.Sign(body, jws.WithKey(jwa.HS256, secret, jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return string(out), nil
}

// Issued is a freshly minted token together with the claims it carries.
type Issued struct {
	Token  string
	Claims Claims
}

// Issuer mints tokens for registered tenants.
type Issuer struct {
	tenants tenants.Provider
	ttl     time.Duration
	now     func() time.Time
}

// NewIssuer builds an Issuer. ttl <= 0 selects DefaultTTL. ttl is also the
// longest lifetime a caller may ask for.
func NewIssuer(prov tenants.Provider, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{tenants: prov, ttl: ttl, now: time.Now}
}

// WithClock overrides the time source (tests).
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// MaxTTL is the issuer's default and upper bound on token lifetime.
func (i *Issuer) MaxTTL() time.Duration { return i.ttl }

// Issue mints a token for tenantID. ttl == 0 uses the issuer default; a
// negative ttl or one above MaxTTL is rejected. Unknown tenants yield
// tenants.ErrUnknownTenant.
func (i *Issuer) Issue(tenantID, externalUserID string, ttl time.Duration) (Issued, error) {
	if ttl == 0 {
		ttl = i.ttl
	}
	if ttl > i.ttl {
		return Issued{}, ErrTTLTooLong
	}
	secs := int64(ttl / time.Second)
	if secs <= 0 {
		return Issued{}, ErrInvalidTTL
	}
	t, err := i.tenants.Lookup(tenantID)
	if err != nil {
		return Issued{}, err
	}
	now := i.now().Unix()
	c := Claims{
		TenantID:       t.ID,
		ExternalUserID: externalUserID,
		AllowedOrigins: t.AllowedOrigins,
		IssuedAt:       now,
		ExpiresAt:      now + secs,
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = []string{}
	}
	raw, err := Sign(c, t.Secret)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: raw, Claims: c}, nil
}
