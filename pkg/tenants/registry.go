package tenants

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"chatembed/pkg/origin"
)

var ErrUnknownTenant = errors.New("unknown tenant")

// Provider looks tenants up by id. Absence is reported as ErrUnknownTenant.
type Provider interface {
	Lookup(id string) (Tenant, error)
}

// Registry is an immutable tenant table built once at start-up.
type Registry struct {
	byID map[string]Tenant
	ids  []string
}

var _ Provider = (*Registry)(nil)

// NewRegistry validates records and builds a registry. Duplicate ids, empty
// secrets and malformed origin patterns are rejected.
func NewRegistry(records []Record) (*Registry, error) {
	r := &Registry{byID: make(map[string]Tenant, len(records))}
	for _, rec := range records {
		id := strings.TrimSpace(rec.ID)
		if id == "" {
			return nil, errors.New("tenant record without id")
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("duplicate tenant %q", id)
		}
		if rec.Secret == "" {
			return nil, fmt.Errorf("tenant %q: empty secret", id)
		}
		patterns := make([]string, 0, len(rec.AllowedOrigins))
		for _, p := range rec.AllowedOrigins {
			np, err := origin.NormalizePattern(p)
			if err != nil {
				return nil, fmt.Errorf("tenant %q: %w", id, err)
			}
			if !slices.Contains(patterns, np) {
				patterns = append(patterns, np)
			}
		}
		r.byID[id] = Tenant{
			ID:                id,
			Secret:            []byte(rec.Secret),
			AllowedOrigins:    patterns,
			DisplayName:       rec.Name,
			Description:       rec.Description,
			RequireOriginHint: rec.RequireOriginHint,
			Policy:            rec.Policy,
		}
		r.ids = append(r.ids, id)
	}
	sort.Strings(r.ids)
	return r, nil
}

// Lookup returns a copy of the tenant so callers cannot mutate the registry.
func (r *Registry) Lookup(id string) (Tenant, error) {
	t, ok := r.byID[id]
	if !ok {
		return Tenant{}, fmt.Errorf("%w: %q", ErrUnknownTenant, id)
	}
	t.Secret = slices.Clone(t.Secret)
	t.AllowedOrigins = slices.Clone(t.AllowedOrigins)
	return t, nil
}

// IDs lists registered tenant ids in sorted order.
func (r *Registry) IDs() []string { return slices.Clone(r.ids) }

// Len returns the number of registered tenants.
func (r *Registry) Len() int { return len(r.ids) }

// Policies returns the Rego modules of tenants that configured one.
func (r *Registry) Policies() map[string]string {
	out := map[string]string{}
	for id, t := range r.byID {
		if t.Policy != "" {
			out[id] = t.Policy
		}
	}
	return out
}
