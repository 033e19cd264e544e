package tenants

// Tenant is a third-party application allowed to embed the widget.
type Tenant struct {
	ID                string   // appId presented by the host page
	Secret            []byte   // shared HMAC secret
	AllowedOrigins    []string // normalized exact origins or "*.<suffix>" patterns
	DisplayName       string
	Description       string
	RequireOriginHint bool   // reject origins resolved from request headers
	Policy            string // optional Rego admission module (package embed)
}

// Record is the serialized form used by the registry file, TENANT_SEED_JSON
// and the embed_apps table.
type Record struct {
	ID                string   `json:"id" yaml:"id"`
	Secret            string   `json:"secret" yaml:"secret"`
	AllowedOrigins    []string `json:"allowed_origins" yaml:"allowed_origins"`
	Name              string   `json:"name" yaml:"name"`
	Description       string   `json:"description,omitempty" yaml:"description,omitempty"`
	RequireOriginHint bool     `json:"require_origin_hint,omitempty" yaml:"require_origin_hint,omitempty"`
	Policy            string   `json:"policy,omitempty" yaml:"policy,omitempty"`
}
