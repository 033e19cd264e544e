// Package admission evaluates optional per-tenant Rego policies after a
// verified token's origin has passed the allow-list.
//
// A tenant policy is a Rego module in package embed that defines allow.
// Input:
//
//	{"tenant_id": "...", "external_user_id": "...", "origin": "https://...",
//	 "origin_source": "hint|referer|origin", "issued_at": 0, "expires_at": 0}
//
// Anything other than allow == true denies.
package admission

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

const Query = "data.embed.allow"

type Input struct {
	TenantID       string `json:"tenant_id"`
	ExternalUserID string `json:"external_user_id"`
	Origin         string `json:"origin"`
	OriginSource   string `json:"origin_source"`
	IssuedAt       int64  `json:"issued_at"`
	ExpiresAt      int64  `json:"expires_at"`
}

// Policies holds prepared queries keyed by tenant id. It is built once at
// start and read concurrently.
type Policies struct {
	prepared map[string]rego.PreparedEvalQuery
}

// Compile prepares every non-empty module. A module that fails to compile
// fails the whole set.
func Compile(ctx context.Context, modules map[string]string) (*Policies, error) {
	p := &Policies{prepared: map[string]rego.PreparedEvalQuery{}}
	for tenantID, src := range modules {
		if src == "" {
			continue
		}
		pq, err := rego.New(
			rego.Query(Query),
			rego.Module(tenantID+".rego", src),
		).PrepareForEval(ctx)
		if err != nil {
			return nil, fmt.Errorf("tenant %q policy: %w", tenantID, err)
		}
		p.prepared[tenantID] = pq
	}
	return p, nil
}

// Has reports whether tenantID has a policy.
func (p *Policies) Has(tenantID string) bool {
	if p == nil {
		return false
	}
	_, ok := p.prepared[tenantID]
	return ok
}

// Allow evaluates the tenant's policy. Tenants without one are allowed.
func (p *Policies) Allow(ctx context.Context, in Input) (bool, error) {
	if p == nil {
		return true, nil
	}
	pq, ok := p.prepared[in.TenantID]
	if !ok {
		return true, nil
	}
	rs, err := pq.Eval(ctx, rego.EvalInput(map[string]any{
		"tenant_id":        in.TenantID,
		"external_user_id": in.ExternalUserID,
		"origin":           in.Origin,
		"origin_source":    in.OriginSource,
		"issued_at":        in.IssuedAt,
		"expires_at":       in.ExpiresAt,
	}))
	if err != nil {
		return false, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allow, _ := rs[0].Expressions[0].Value.(bool)
	return allow, nil
}
