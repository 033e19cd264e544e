package verifier

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatembed/internal/admission"
	"chatembed/internal/identity"
	"chatembed/pkg/origin"
	"chatembed/pkg/tenants"
	"chatembed/pkg/token"
)

var now = time.Unix(1_700_000_000, 0)

func clock() time.Time { return now }

func fixture(t *testing.T, recs ...tenants.Record) *tenants.Registry {
	t.Helper()
	if len(recs) == 0 {
		recs = []tenants.Record{
			{ID: "t1", Secret: "s1", AllowedOrigins: []string{"http://host.test"}},
			{ID: "wild", Secret: "w", AllowedOrigins: []string{"*.example.com"}},
		}
	}
	reg, err := tenants.NewRegistry(recs)
	require.NoError(t, err)
	return reg
}

func issue(t *testing.T, reg *tenants.Registry, tenantID, user string) string {
	t.Helper()
	out, err := token.NewIssuer(reg, time.Hour).WithClock(clock).Issue(tenantID, user, 0)
	require.NoError(t, err)
	return out.Token
}

func newVerifier(reg *tenants.Registry, opts ...Option) (*Verifier, *identity.MemoryStore) {
	store := identity.NewMemoryStore()
	prov := identity.NewProvisioner(store, zap.NewNop().Sugar())
	return New(reg, prov, zap.NewNop().Sugar(), append([]Option{WithClock(clock)}, opts...)...), store
}

func TestVerify_EndToEnd(t *testing.T) {
	reg := fixture(t)
	v, _ := newVerifier(reg)
	raw := issue(t, reg, "t1", "u1")

	res, err := v.Verify(context.Background(), raw, origin.Evidence{Hint: "http://host.test"})
	require.NoError(t, err)
	require.Equal(t, "t1", res.TenantID)
	require.Equal(t, "u1", res.ExternalUserID)
	require.NotEmpty(t, res.InternalUserID)
	require.Equal(t, "http://host.test", res.ResolvedOrigin)
	require.Equal(t, origin.SourceHint, res.OriginSource)

	_, err = v.Verify(context.Background(), raw, origin.Evidence{Hint: "http://evil.test"})
	require.ErrorIs(t, err, ErrOriginNotAllowed)
	require.Equal(t, KindOriginNotAllowed, Kind(err))
	require.Equal(t, http.StatusForbidden, Kind(err).HTTPStatus())
}

func TestVerify_HeaderFallback(t *testing.T) {
	reg := fixture(t)
	v, _ := newVerifier(reg)
	raw := issue(t, reg, "t1", "")

	res, err := v.Verify(context.Background(), raw, origin.Evidence{Referer: "http://host.test/some/page?q=1"})
	require.NoError(t, err)
	require.Equal(t, origin.SourceReferer, res.OriginSource)
	require.Empty(t, res.InternalUserID, "no external user, nothing to provision")

	res, err = v.Verify(context.Background(), raw, origin.Evidence{Origin: "http://host.test"})
	require.NoError(t, err)
	require.Equal(t, origin.SourceOrigin, res.OriginSource)

	_, err = v.Verify(context.Background(), raw, origin.Evidence{})
	require.ErrorIs(t, err, ErrOriginUndeterminable)
	require.Equal(t, http.StatusForbidden, Kind(err).HTTPStatus())
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	reg := fixture(t)
	v, _ := newVerifier(reg)
	sign := func(exp int64) string {
		raw, err := token.Sign(token.Claims{
			TenantID: "t1", ExternalUserID: "u1",
			AllowedOrigins: []string{"http://host.test"},
			IssuedAt:       now.Unix() - 100, ExpiresAt: exp,
		}, []byte("s1"))
		require.NoError(t, err)
		return raw
	}
	ev := origin.Evidence{Hint: "http://host.test"}

	_, err := v.Verify(context.Background(), sign(now.Unix()-1), ev)
	require.ErrorIs(t, err, ErrExpired)
	require.Equal(t, KindTokenExpired, Kind(err))

	_, err = v.Verify(context.Background(), sign(now.Unix()), ev)
	require.ErrorIs(t, err, ErrExpired, "now == exp is already expired")

	_, err = v.Verify(context.Background(), sign(now.Unix()+1), ev)
	require.NoError(t, err)
}

func flipSignatureBit(t *testing.T, raw string, bit int) string {
	t.Helper()
	parts := strings.Split(raw, ".")
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	sig[bit/8] ^= 1 << (bit % 8)
	parts[2] = base64.RawURLEncoding.EncodeToString(sig)
	return strings.Join(parts, ".")
}

func TestVerify_TamperedSignature(t *testing.T) {
	reg := fixture(t)
	v, store := newVerifier(reg)
	raw := issue(t, reg, "t1", "u1")

	for _, bit := range []int{0, 7, 100, 255} {
		_, err := v.Verify(context.Background(), flipSignatureBit(t, raw, bit), origin.Evidence{Hint: "http://host.test"})
		require.ErrorIs(t, err, ErrInvalidSignature)
		require.Equal(t, KindTokenInvalid, Kind(err))
	}
	users, _ := store.Counts()
	require.Zero(t, users, "rejected tokens never provision")
}

func TestVerify_TamperedAndExpiredReportsSignature(t *testing.T) {
	reg := fixture(t)
	raw := issue(t, reg, "t1", "u1")
	later := New(reg, nil, zap.NewNop().Sugar(), WithClock(func() time.Time { return now.Add(2 * time.Hour) }))

	_, err := later.Verify(context.Background(), raw, origin.Evidence{Hint: "http://host.test"})
	require.ErrorIs(t, err, ErrExpired)

	_, err = later.Verify(context.Background(), flipSignatureBit(t, raw, 3), origin.Evidence{Hint: "http://host.test"})
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_ForgedPayload(t *testing.T) {
	reg := fixture(t)
	v, _ := newVerifier(reg)
	parts := strings.Split(issue(t, reg, "t1", "u1"), ".")
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(
		`{"appId":"t1","userId":"admin","allowedDomains":["http://evil.test"],"iat":1,"exp":9999999999}`))

	_, err := v.Verify(context.Background(), strings.Join(parts, "."), origin.Evidence{Hint: "http://evil.test"})
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_Malformed(t *testing.T) {
	v, _ := newVerifier(fixture(t))
	_, err := v.Verify(context.Background(), "not-a-token", origin.Evidence{Hint: "http://host.test"})
	require.ErrorIs(t, err, ErrMalformedToken)
	require.Equal(t, http.StatusUnauthorized, Kind(err).HTTPStatus())
}

func TestVerify_UnknownTenant(t *testing.T) {
	other := fixture(t, tenants.Record{ID: "gone", Secret: "x", AllowedOrigins: []string{"http://host.test"}})
	raw := issue(t, other, "gone", "u1")

	v, _ := newVerifier(fixture(t))
	_, err := v.Verify(context.Background(), raw, origin.Evidence{Hint: "http://host.test"})
	require.ErrorIs(t, err, ErrUnknownTenant)
	require.Equal(t, KindUnknownTenant, Kind(err))
	require.Equal(t, http.StatusBadRequest, Kind(err).HTTPStatus())
}

func TestVerify_Wildcard(t *testing.T) {
	reg := fixture(t)
	v, _ := newVerifier(reg)
	raw := issue(t, reg, "wild", "")

	for _, ok := range []string{"https://a.example.com", "https://sub.b.example.com", "http://x.example.com:3000"} {
		_, err := v.Verify(context.Background(), raw, origin.Evidence{Hint: ok})
		require.NoError(t, err, ok)
	}
	for _, bad := range []string{"https://notexample.com", "https://example.com.evil.test"} {
		_, err := v.Verify(context.Background(), raw, origin.Evidence{Hint: bad})
		require.ErrorIs(t, err, ErrOriginNotAllowed, bad)
	}
}

func TestVerify_UsesTokenSnapshot(t *testing.T) {
	before := fixture(t, tenants.Record{ID: "t1", Secret: "s1", AllowedOrigins: []string{"http://old.test"}})
	raw := issue(t, before, "t1", "")

	after := fixture(t, tenants.Record{ID: "t1", Secret: "s1", AllowedOrigins: []string{"http://new.test"}})
	v, _ := newVerifier(after)

	_, err := v.Verify(context.Background(), raw, origin.Evidence{Hint: "http://old.test"})
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), raw, origin.Evidence{Hint: "http://new.test"})
	require.ErrorIs(t, err, ErrOriginNotAllowed)
}

func TestVerify_RequireOriginHint(t *testing.T) {
	reg := fixture(t, tenants.Record{ID: "strict", Secret: "s", AllowedOrigins: []string{"http://host.test"}, RequireOriginHint: true})
	v, _ := newVerifier(reg)
	raw := issue(t, reg, "strict", "")

	_, err := v.Verify(context.Background(), raw, origin.Evidence{Referer: "http://host.test/"})
	require.ErrorIs(t, err, ErrOriginUndeterminable)

	_, err = v.Verify(context.Background(), raw, origin.Evidence{Hint: "http://host.test"})
	require.NoError(t, err)
}

func TestVerify_AdmissionPolicy(t *testing.T) {
	reg := fixture(t)
	pol, err := admission.Compile(context.Background(), map[string]string{
		"t1": "package embed\n\nallow { input.external_user_id != \"banned\" }\n",
	})
	require.NoError(t, err)
	v, _ := newVerifier(reg, WithAdmission(pol))

	_, err = v.Verify(context.Background(), issue(t, reg, "t1", "u1"), origin.Evidence{Hint: "http://host.test"})
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), issue(t, reg, "t1", "banned"), origin.Evidence{Hint: "http://host.test"})
	require.ErrorIs(t, err, ErrOriginNotAllowed)
}

type brokenProvisioner struct{}

func (brokenProvisioner) Provision(context.Context, string, string) (string, error) {
	return "", errors.New("store unavailable")
}

func TestVerify_ProvisioningFailureIsNotFatal(t *testing.T) {
	reg := fixture(t)
	v := New(reg, brokenProvisioner{}, zap.NewNop().Sugar(), WithClock(clock))

	res, err := v.Verify(context.Background(), issue(t, reg, "t1", "u1"), origin.Evidence{Hint: "http://host.test"})
	require.NoError(t, err)
	require.Equal(t, "u1", res.ExternalUserID)
	require.Empty(t, res.InternalUserID)
}

func TestVerify_ConcurrentSameUser(t *testing.T) {
	reg := fixture(t)
	v, store := newVerifier(reg)

	const n = 16
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := token.NewIssuer(reg, time.Hour).WithClock(clock).Issue("t1", "new-user", 0)
			if err != nil {
				errs[i] = err
				return
			}
			res, err := v.Verify(context.Background(), raw.Token, origin.Evidence{Hint: "http://host.test"})
			ids[i], errs[i] = res.InternalUserID, err
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		require.NotEmpty(t, ids[i])
		require.Equal(t, ids[0], ids[i])
	}
	users, bindings := store.Counts()
	require.Equal(t, 1, users)
	require.Equal(t, 1, bindings)
}

func TestVerify_ConcurrentAcrossReplicas(t *testing.T) {
	reg := fixture(t)
	store := identity.NewMemoryStore()
	raw := issue(t, reg, "t1", "shared-user")

	const replicas = 8
	ids := make([]string, replicas)
	errs := make([]error, replicas)
	var wg sync.WaitGroup
	for i := 0; i < replicas; i++ {
		v := New(reg, identity.NewProvisioner(store, zap.NewNop().Sugar()), zap.NewNop().Sugar(), WithClock(clock))
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := v.Verify(context.Background(), raw, origin.Evidence{Hint: "http://host.test"})
			ids[i], errs[i] = res.InternalUserID, err
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		require.NotEmpty(t, ids[i])
		require.Equal(t, ids[0], ids[i])
	}
	users, bindings := store.Counts()
	require.Equal(t, 1, users)
	require.Equal(t, 1, bindings)
}

func TestSignedOrigins(t *testing.T) {
	reg := fixture(t)
	v, _ := newVerifier(reg)
	raw := issue(t, reg, "t1", "")

	got, ok := v.SignedOrigins(raw)
	require.True(t, ok)
	require.Equal(t, []string{"http://host.test"}, got)

	_, ok = v.SignedOrigins(flipSignatureBit(t, raw, 9))
	require.False(t, ok)
	_, ok = v.SignedOrigins("garbage")
	require.False(t, ok)
}

func TestKind_Internal(t *testing.T) {
	require.Equal(t, KindInternal, Kind(errors.New("boom")))
	require.Equal(t, http.StatusInternalServerError, KindInternal.HTTPStatus())
	require.Equal(t, "token invalid", KindTokenInvalid.Detail())
}
