package embed

import "chatembed/pkg/openapi"

const (
	PathOpenAPI = "/.well-known/openapi.json"
	Version     = "1.0.0"
)

// Docs describes the public routes.
func Docs() *openapi.Registry {
	reg := openapi.NewRegistry()
	str := map[string]any{"type": "string"}
	failure := openapi.Response("Rejected: {valid:false, errorKind, detail, type}")

	reg.Register(openapi.Operation{
		Method:  "POST",
		Path:    PathToken,
		Summary: "Issue an embed token",
		Tags:    []string{"plugin"},
		RequestBody: openapi.JSONBody(map[string]any{
			"type":     "object",
			"required": []string{"appId"},
			"properties": map[string]any{
				"appId":      str,
				"userId":     str,
				"ttlSeconds": map[string]any{"type": "integer", "minimum": 1},
			},
		}),
		Responses: map[string]any{
			"200": openapi.Response("{token, payload{appId, userId, allowedDomains, issuedAt, expiresAt}}"),
			"400": openapi.Response("Missing appId or unknown application"),
			"429": openapi.Response("Rate limited"),
		},
	})
	reg.Register(openapi.Operation{
		Method:      "POST",
		Path:        PathVerify,
		Summary:     "Verify an embed token for the host page origin",
		Description: "The origin is taken from hostDomain, then the Referer header, then the Origin header.",
		Tags:        []string{"plugin"},
		RequestBody: openapi.JSONBody(map[string]any{
			"type":       "object",
			"required":   []string{"token"},
			"properties": map[string]any{"token": str, "hostDomain": str},
		}),
		Responses: map[string]any{
			"200": openapi.Response("{valid:true, tenantId, externalUserId, internalUserId, resolvedOrigin, originSource, expiresAt, sessionToken?}"),
			"400": failure,
			"401": failure,
			"403": failure,
		},
	})
	reg.Register(openapi.Operation{Method: "GET", Path: PathSDK, Summary: "Widget script", Tags: []string{"widget"}})
	reg.Register(openapi.Operation{Method: "GET", Path: PathScript, Summary: "Widget script", Tags: []string{"widget"}})
	reg.Register(openapi.Operation{Method: "GET", Path: PathEmbed2, Summary: "Embed page (iframe target)", Tags: []string{"widget"}})
	return reg
}
