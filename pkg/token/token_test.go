package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatembed/pkg/tenants"
)

var fixedNow = time.Unix(1_700_000_000, 0)

func testRegistry(t *testing.T) *tenants.Registry {
	t.Helper()
	reg, err := tenants.NewRegistry([]tenants.Record{
		{ID: "t1", Secret: "s1", AllowedOrigins: []string{"http://host.test", "*.example.com"}},
	})
	require.NoError(t, err)
	return reg
}

func TestIssue_ParseRoundTrip(t *testing.T) {
	iss := NewIssuer(testRegistry(t), 0).WithClock(func() time.Time { return fixedNow })

	out, err := iss.Issue("t1", "u1", 0)
	require.NoError(t, err)
	require.Equal(t, fixedNow.Unix(), out.Claims.IssuedAt)
	require.Equal(t, fixedNow.Add(DefaultTTL).Unix(), out.Claims.ExpiresAt)

	p, err := Parse(out.Token)
	require.NoError(t, err)
	require.Equal(t, out.Claims, p.Claims)
	require.True(t, VerifySignature(p.Header, p.Payload, p.Signature, []byte("s1")))
	require.False(t, VerifySignature(p.Header, p.Payload, p.Signature, []byte("s2")))
}

func TestIssue_HeaderIsStandard(t *testing.T) {
	out, err := NewIssuer(testRegistry(t), time.Hour).Issue("t1", "", 0)
	require.NoError(t, err)

	hdr, err := base64.RawURLEncoding.DecodeString(strings.Split(out.Token, ".")[0])
	require.NoError(t, err)
	var h map[string]any
	require.NoError(t, json.Unmarshal(hdr, &h))
	require.Equal(t, map[string]any{"alg": "HS256", "typ": "JWT"}, h)

	// the signature is plain HMAC-SHA256 over "<header>.<payload>"
	parts := strings.Split(out.Token, ".")
	mac := hmac.New(sha256.New, []byte("s1"))
	mac.Write([]byte(parts[0] + "." + parts[1]))
	require.Equal(t, base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), parts[2])
}

func TestParse_AcceptsIndependentlyIssuedToken(t *testing.T) {
	enc := base64.RawURLEncoding
	header := enc.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := enc.EncodeToString([]byte(`{"appId":"t1","userId":null,"allowedDomains":["http://host.test"],"iat":1,"exp":2}`))
	mac := hmac.New(sha256.New, []byte("s1"))
	mac.Write([]byte(header + "." + payload))
	sig := enc.EncodeToString(mac.Sum(nil))

	p, err := Parse(header + "." + payload + "." + sig)
	require.NoError(t, err)
	require.Equal(t, "t1", p.Claims.TenantID)
	require.Empty(t, p.Claims.ExternalUserID)
	require.True(t, VerifySignature(p.Header, p.Payload, p.Signature, []byte("s1")))
}

func TestIssue_SnapshotsAllowedOrigins(t *testing.T) {
	out, err := NewIssuer(testRegistry(t), time.Hour).Issue("t1", "u1", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"http://host.test", "*.example.com"}, out.Claims.AllowedOrigins)
}

func TestIssue_UnknownTenant(t *testing.T) {
	out, err := NewIssuer(testRegistry(t), time.Hour).Issue("no-such-tenant", "u1", 0)
	require.True(t, errors.Is(err, tenants.ErrUnknownTenant))
	require.Empty(t, out.Token)
}

func TestIssue_RejectsNonPositiveTTL(t *testing.T) {
	iss := NewIssuer(testRegistry(t), time.Hour)
	_, err := iss.Issue("t1", "u1", -time.Second)
	require.ErrorIs(t, err, ErrInvalidTTL)
	_, err = iss.Issue("t1", "u1", 500*time.Millisecond)
	require.ErrorIs(t, err, ErrInvalidTTL)
}

func TestIssue_RejectsTTLAboveMaximum(t *testing.T) {
	iss := NewIssuer(testRegistry(t), time.Hour)
	require.Equal(t, time.Hour, iss.MaxTTL())

	_, err := iss.Issue("t1", "u1", time.Hour+time.Second)
	require.ErrorIs(t, err, ErrTTLTooLong)

	out, err := iss.WithClock(func() time.Time { return fixedNow }).Issue("t1", "u1", time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(3600), out.Claims.ExpiresAt-out.Claims.IssuedAt)
}

func TestParse_RejectsPaddedOrStdEncodedSegments(t *testing.T) {
	out, err := NewIssuer(testRegistry(t), time.Hour).Issue("t1", "u1", 0)
	require.NoError(t, err)
	parts := strings.Split(out.Token, ".")

	padded := parts[0] + "." + parts[1] + "." + parts[2] + "="
	_, err = Parse(padded)
	require.ErrorIs(t, err, ErrMalformed)
	require.False(t, VerifySignature(parts[0], parts[1], parts[2]+"=", []byte("s1")))

	std := strings.NewReplacer("-", "+", "_", "/").Replace(parts[2])
	if std != parts[2] {
		require.False(t, VerifySignature(parts[0], parts[1], std, []byte("s1")))
	}
	_, err = Parse(parts[0] + "=." + parts[1] + "." + parts[2])
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParse_Malformed(t *testing.T) {
	enc := base64.RawURLEncoding
	cases := map[string]string{
		"two parts":     "a.b",
		"four parts":    "a.b.c.d",
		"empty segment": "a..c",
		"bad base64":    "a.%%%.c",
		"not json":      "a." + enc.EncodeToString([]byte("nope")) + ".c",
		"no appId":      "a." + enc.EncodeToString([]byte(`{"exp":1}`)) + ".c",
	}
	for name, raw := range cases {
		_, err := Parse(raw)
		require.ErrorIs(t, err, ErrMalformed, name)
	}
}

func TestVerifySignature_AnyBitFlipFails(t *testing.T) {
	out, err := NewIssuer(testRegistry(t), time.Hour).Issue("t1", "u1", 0)
	require.NoError(t, err)
	p, err := Parse(out.Token)
	require.NoError(t, err)

	sig, err := base64.RawURLEncoding.DecodeString(p.Signature)
	require.NoError(t, err)
	for i := 0; i < len(sig)*8; i++ {
		flipped := append([]byte(nil), sig...)
		flipped[i/8] ^= 1 << (i % 8)
		enc := base64.RawURLEncoding.EncodeToString(flipped)
		require.False(t, VerifySignature(p.Header, p.Payload, enc, []byte("s1")), "bit %d", i)
	}
}

func TestClaims_Expired(t *testing.T) {
	c := Claims{ExpiresAt: fixedNow.Unix()}
	require.True(t, c.Expired(fixedNow))
	require.False(t, c.Expired(fixedNow.Add(-time.Second)))
}
