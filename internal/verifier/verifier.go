// Package verifier checks embed tokens presented by the embed page.
//
// Checks run in a fixed order and the first failure wins: structure, tenant,
// signature, expiry, origin resolution, allow-list, tenant admission policy.
// The signature is checked before expiry so a tampered expired token is
// reported as invalid rather than expired. Identity provisioning runs last
// and never fails a verification.
package verifier

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chatembed/internal/admission"
	"chatembed/pkg/metrics"
	"chatembed/pkg/origin"
	"chatembed/pkg/tenants"
	"chatembed/pkg/token"
)

type Provisioner interface {
	Provision(ctx context.Context, tenantID, externalUserID string) (string, error)
}

type Admission interface {
	Allow(ctx context.Context, in admission.Input) (bool, error)
}

// Result describes a valid token. InternalUserID is empty when the token has
// no external user or provisioning failed.
type Result struct {
	TenantID       string
	ExternalUserID string
	InternalUserID string
	ResolvedOrigin string
	OriginSource   origin.Source
	ExpiresAt      int64
}

type Verifier struct {
	tenants   tenants.Provider
	prov      Provisioner
	admission Admission
	log       *zap.SugaredLogger
	now       func() time.Time
	tracer    trace.Tracer
}

type Option func(*Verifier)

func WithClock(now func() time.Time) Option { return func(v *Verifier) { v.now = now } }

func WithAdmission(a Admission) Option { return func(v *Verifier) { v.admission = a } }

// New builds a Verifier. prov may be nil, in which case no identity is provisioned.
func New(prov tenants.Provider, idp Provisioner, log *zap.SugaredLogger, opts ...Option) *Verifier {
	v := &Verifier{
		tenants: prov,
		prov:    idp,
		log:     log,
		now:     time.Now,
		tracer:  otel.Tracer("chatembed/verifier"),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify validates raw against the evidence about the host page.
func (v *Verifier) Verify(ctx context.Context, raw string, ev origin.Evidence) (Result, error) {
	ctx, span := v.tracer.Start(ctx, "embed.verify")
	defer span.End()

	res, err := v.verify(ctx, raw, ev)
	if err != nil {
		kind := Kind(err)
		metrics.Verifications.WithLabelValues(string(kind)).Inc()
		span.SetStatus(codes.Error, string(kind))
		span.SetAttributes(attribute.String("embed.error_kind", string(kind)))
		v.log.Infow("embed token rejected", "kind", kind, "reason", err.Error(), "tenant", res.TenantID)
		return Result{}, err
	}
	metrics.Verifications.WithLabelValues("valid").Inc()
	span.SetAttributes(
		attribute.String("embed.tenant", res.TenantID),
		attribute.String("embed.origin_source", string(res.OriginSource)),
	)
	return res, nil
}

func (v *Verifier) verify(ctx context.Context, raw string, ev origin.Evidence) (Result, error) {
	p, err := token.Parse(raw)
	if err != nil {
		return Result{}, err
	}
	c := p.Claims
	res := Result{TenantID: c.TenantID, ExternalUserID: c.ExternalUserID, ExpiresAt: c.ExpiresAt}

	t, err := v.tenants.Lookup(c.TenantID)
	if err != nil {
		return res, err
	}
	if !token.VerifySignature(p.Header, p.Payload, p.Signature, t.Secret) {
		return res, ErrInvalidSignature
	}
	if now := v.now(); c.Expired(now) {
		return res, fmt.Errorf("%w: exp %d, now %d", ErrExpired, c.ExpiresAt, now.Unix())
	}

	ro, err := origin.Resolve(ev)
	if err != nil {
		return res, err
	}
	if t.RequireOriginHint && ro.Source != origin.SourceHint {
		return res, fmt.Errorf("%w: tenant requires an origin hint, got %s", ErrOriginUndeterminable, ro.Source)
	}
	res.ResolvedOrigin, res.OriginSource = ro.Origin, ro.Source

	// the token's snapshot is authoritative, not the live registry
	if !origin.Match(ro.Origin, c.AllowedOrigins) {
		return res, fmt.Errorf("%w: %s (from %s)", ErrOriginNotAllowed, ro.Origin, ro.Source)
	}
	if v.admission != nil {
		ok, err := v.admission.Allow(ctx, admission.Input{
			TenantID:       c.TenantID,
			ExternalUserID: c.ExternalUserID,
			Origin:         ro.Origin,
			OriginSource:   string(ro.Source),
			IssuedAt:       c.IssuedAt,
			ExpiresAt:      c.ExpiresAt,
		})
		if err != nil {
			return res, fmt.Errorf("%w: policy evaluation: %v", ErrOriginNotAllowed, err)
		}
		if !ok {
			return res, fmt.Errorf("%w: denied by tenant policy", ErrOriginNotAllowed)
		}
	}

	if c.ExternalUserID != "" && v.prov != nil {
		id, err := v.prov.Provision(ctx, c.TenantID, c.ExternalUserID)
		if err != nil {
			v.log.Warnw("identity provisioning failed", "tenant", c.TenantID, "err", err)
		} else {
			res.InternalUserID = id
		}
	}
	return res, nil
}

// SignedOrigins returns the allowed-origin snapshot of raw if its signature
// verifies, regardless of expiry. The embed page uses it to scope
// frame-ancestors before the handshake has run.
func (v *Verifier) SignedOrigins(raw string) ([]string, bool) {
	p, err := token.Parse(raw)
	if err != nil {
		return nil, false
	}
	t, err := v.tenants.Lookup(p.Claims.TenantID)
	if err != nil {
		return nil, false
	}
	if !token.VerifySignature(p.Header, p.Payload, p.Signature, t.Secret) {
		return nil, false
	}
	return p.Claims.AllowedOrigins, true
}
