package identity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"chatembed/pkg/metrics"
)

const DefaultEmailDomain = "ai.app"

// Provisioner is an idempotent get-or-create of the internal user for an
// external identity.
type Provisioner struct {
	store       Store
	cache       BindingCache
	emailDomain string
	log         *zap.SugaredLogger
	group       singleflight.Group
}

type Option func(*Provisioner)

// WithCache puts a read-through binding cache in front of the store.
func WithCache(c BindingCache) Option { return func(p *Provisioner) { p.cache = c } }

// WithEmailDomain overrides the domain of synthetic account emails.
func WithEmailDomain(d string) Option {
	return func(p *Provisioner) {
		if d != "" {
			p.emailDomain = d
		}
	}
}

func NewProvisioner(store Store, log *zap.SugaredLogger, opts ...Option) *Provisioner {
	p := &Provisioner{store: store, emailDomain: DefaultEmailDomain, log: log}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Provision returns the internal user id bound to (tenantID, externalUserID),
// creating the user and the binding if needed. Concurrent calls for the same
// pair inside this process share one execution; across processes the store's
// unique keys make the creates converge.
func (p *Provisioner) Provision(ctx context.Context, tenantID, externalUserID string) (string, error) {
	if tenantID == "" || externalUserID == "" {
		return "", fmt.Errorf("%w: empty tenant or external user id", ErrProvisioningFailed)
	}
	if p.cache != nil {
		if id, ok := p.cache.Get(ctx, tenantID, externalUserID); ok {
			metrics.Provisioning.WithLabelValues("cache_hit").Inc()
			return id, nil
		}
	}

	ch := p.group.DoChan(tenantID+"\x00"+externalUserID, func() (any, error) {
		// detached so one caller going away does not fail the others
		return p.provision(context.WithoutCancel(ctx), tenantID, externalUserID)
	})
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrProvisioningFailed, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			metrics.Provisioning.WithLabelValues("error").Inc()
			return "", fmt.Errorf("%w: %v", ErrProvisioningFailed, res.Err)
		}
		id := res.Val.(string)
		if p.cache != nil {
			p.cache.Set(ctx, tenantID, externalUserID, id)
		}
		return id, nil
	}
}

func (p *Provisioner) provision(ctx context.Context, tenantID, externalUserID string) (string, error) {
	b, err := p.store.FindUserAppBinding(ctx, externalUserID, tenantID)
	switch {
	case err == nil:
		metrics.Provisioning.WithLabelValues("existing").Inc()
		return b.InternalUserID, nil
	case !errors.Is(err, ErrNotFound):
		return "", fmt.Errorf("find binding: %w", err)
	}

	email := SyntheticEmail(tenantID, externalUserID, p.emailDomain)
	u, err := p.store.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		hash, herr := randomCredentialHash()
		if herr != nil {
			return "", herr
		}
		u, err = p.store.CreateUser(ctx, email, hash)
	}
	if err != nil {
		return "", fmt.Errorf("user: %w", err)
	}

	b, err = p.store.CreateUserAppBinding(ctx, Binding{
		TenantID:       tenantID,
		ExternalUserID: externalUserID,
		InternalUserID: u.ID,
	})
	if err != nil {
		return "", fmt.Errorf("create binding: %w", err)
	}
	metrics.Provisioning.WithLabelValues("created").Inc()
	p.log.Infow("provisioned embed user", "tenant", tenantID, "user_id", b.InternalUserID)
	return b.InternalUserID, nil
}
