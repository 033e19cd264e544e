// Package embed serves the HTTP surface of the embed protocol: token
// issuance, token verification, the widget script and the embed page.
package embed

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"chatembed/internal/session"
	"chatembed/internal/verifier"
	"chatembed/pkg/metrics"
	"chatembed/pkg/middleware"
	"chatembed/pkg/origin"
	"chatembed/pkg/problems"
	"chatembed/pkg/tenants"
	"chatembed/pkg/token"
)

//go:embed assets/ai-chat.js assets/embed.html
var assets embed.FS

const (
	PathToken  = "/api/plugin/token"
	PathVerify = "/api/plugin/verify"
	PathSDK    = "/api/plugin/sdk"
	PathScript = "/ai-chat.js"
	PathEmbed  = "/embed"
	PathEmbed2 = "/api/embed"
)

type Options struct {
	RedirectURL      string
	HandshakeTimeout time.Duration
	// Secure marks the session cookie Secure and SameSite=None.
	Secure bool
}

type Handler struct {
	issuer   *token.Issuer
	verifier *verifier.Verifier
	sessions *session.Signer
	limiter  *middleware.RateLimiter
	opts     Options
	log      *zap.SugaredLogger

	script []byte
	page   *template.Template
}

// New builds the handler. sessions may be nil (no session is established
// after verification); limiter may be nil (no throttling of issuance).
func New(iss *token.Issuer, v *verifier.Verifier, sessions *session.Signer, limiter *middleware.RateLimiter, opts Options, log *zap.SugaredLogger) (*Handler, error) {
	script, err := assets.ReadFile("assets/ai-chat.js")
	if err != nil {
		return nil, err
	}
	page, err := template.ParseFS(assets, "assets/embed.html")
	if err != nil {
		return nil, err
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 3 * time.Second
	}
	return &Handler{
		issuer:   iss,
		verifier: v,
		sessions: sessions,
		limiter:  limiter,
		opts:     opts,
		log:      log,
		script:   script,
		page:     page,
	}, nil
}

// Register mounts all routes on r.
func (h *Handler) Register(r chi.Router) {
	r.With(h.limiter.Handler).Post(PathToken, h.issueToken)
	r.Post(PathVerify, h.verifyToken)
	r.Get(PathScript, h.serveScript)
	r.Get(PathSDK, h.serveScript)
	r.Options(PathSDK, h.serveScript)
	r.Get(PathEmbed, h.servePage)
	r.Get(PathEmbed2, h.servePage)
	r.Get(PathOpenAPI, Docs().ServeHandler("embed-service", Version))
}

type issueRequest struct {
	AppID      string `json:"appId"`
	UserID     string `json:"userId"`
	TTLSeconds int64  `json:"ttlSeconds"`
}

type issuedPayload struct {
	AppID          string    `json:"appId"`
	UserID         *string   `json:"userId"`
	AllowedDomains []string  `json:"allowedDomains"`
	IssuedAt       time.Time `json:"issuedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

type issueResponse struct {
	Token   string        `json:"token"`
	Payload issuedPayload `json:"payload"`
}

func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problems.Write(w, http.StatusBadRequest, "invalid_request", "Invalid request", "body must be a JSON object", nil)
		return
	}
	req.AppID = strings.TrimSpace(req.AppID)
	if req.AppID == "" {
		problems.Write(w, http.StatusBadRequest, "invalid_request", "Invalid request", "appId is required", nil)
		return
	}
	if req.TTLSeconds < 0 {
		problems.Write(w, http.StatusBadRequest, "invalid_request", "Invalid request", "ttlSeconds must be positive", nil)
		return
	}
	// compare in seconds so huge values cannot wrap the Duration
	if maxSecs := int64(h.issuer.MaxTTL() / time.Second); req.TTLSeconds > maxSecs {
		problems.Write(w, http.StatusBadRequest, "invalid_request", "Invalid request",
			fmt.Sprintf("ttlSeconds must not exceed %d", maxSecs), nil)
		return
	}

	out, err := h.issuer.Issue(req.AppID, req.UserID, time.Duration(req.TTLSeconds)*time.Second)
	switch {
	case errors.Is(err, tenants.ErrUnknownTenant):
		metrics.TokensIssued.WithLabelValues("unknown_tenant").Inc()
		h.log.Infow("token requested for unknown tenant", "tenant", req.AppID)
		problems.Write(w, http.StatusBadRequest, string(verifier.KindUnknownTenant), "Unknown application",
			verifier.KindUnknownTenant.Detail(), map[string]any{"errorKind": verifier.KindUnknownTenant})
		return
	case errors.Is(err, token.ErrInvalidTTL), errors.Is(err, token.ErrTTLTooLong):
		problems.Write(w, http.StatusBadRequest, "invalid_request", "Invalid request", "ttlSeconds is out of range", nil)
		return
	case err != nil:
		metrics.TokensIssued.WithLabelValues("error").Inc()
		h.log.Errorw("issue token", "tenant", req.AppID, "err", err)
		problems.Write(w, http.StatusInternalServerError, "internal_error", "Internal error", "internal error", nil)
		return
	}
	metrics.TokensIssued.WithLabelValues("issued").Inc()

	c := out.Claims
	resp := issueResponse{
		Token: out.Token,
		Payload: issuedPayload{
			AppID:          c.TenantID,
			AllowedDomains: c.AllowedOrigins,
			IssuedAt:       time.Unix(c.IssuedAt, 0).UTC(),
			ExpiresAt:      time.Unix(c.ExpiresAt, 0).UTC(),
		},
	}
	if c.ExternalUserID != "" {
		resp.Payload.UserID = &c.ExternalUserID
	}
	w.Header().Set("Cache-Control", "no-store")
	problems.WriteJSON(w, http.StatusOK, resp)
}

type verifyRequest struct {
	Token      string `json:"token"`
	HostDomain string `json:"hostDomain"`
}

type verifyResponse struct {
	Valid          bool      `json:"valid"`
	TenantID       string    `json:"tenantId"`
	ExternalUserID *string   `json:"externalUserId"`
	InternalUserID *string   `json:"internalUserId"`
	ResolvedOrigin string    `json:"resolvedOrigin"`
	OriginSource   string    `json:"originSource"`
	ExpiresAt      time.Time `json:"expiresAt"`
	SessionToken   string    `json:"sessionToken,omitempty"`
}

type verifyFailure struct {
	Valid     bool               `json:"valid"`
	ErrorKind verifier.ErrorKind `json:"errorKind"`
	Detail    string             `json:"detail"`
	Type      string             `json:"type"`
}

func (h *Handler) verifyToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		metrics.Verifications.WithLabelValues(string(verifier.KindTokenInvalid)).Inc()
		writeVerifyFailure(w, verifier.KindTokenInvalid)
		return
	}

	res, err := h.verifier.Verify(r.Context(), req.Token, origin.Evidence{
		Hint:    req.HostDomain,
		Referer: r.Header.Get("Referer"),
		Origin:  r.Header.Get("Origin"),
	})
	if err != nil {
		kind := verifier.Kind(err)
		if kind == verifier.KindInternal {
			h.log.Errorw("verify token", "err", err, "request_id", middleware.RequestIDFrom(r.Context()))
		}
		writeVerifyFailure(w, kind)
		return
	}

	resp := verifyResponse{
		Valid:          true,
		TenantID:       res.TenantID,
		ResolvedOrigin: res.ResolvedOrigin,
		OriginSource:   string(res.OriginSource),
		ExpiresAt:      time.Unix(res.ExpiresAt, 0).UTC(),
	}
	if res.ExternalUserID != "" {
		resp.ExternalUserID = &res.ExternalUserID
	}
	if res.InternalUserID != "" {
		resp.InternalUserID = &res.InternalUserID
		if h.sessions != nil {
			h.attachSession(w, &resp, res)
		}
	}
	h.log.Infow("embed token verified", "tenant", res.TenantID, "origin", res.ResolvedOrigin,
		"source", res.OriginSource, "provisioned", res.InternalUserID != "")
	problems.WriteJSON(w, http.StatusOK, resp)
}

func writeVerifyFailure(w http.ResponseWriter, kind verifier.ErrorKind) {
	problems.WriteJSON(w, kind.HTTPStatus(), verifyFailure{
		Valid:     false,
		ErrorKind: kind,
		Detail:    kind.Detail(),
		Type:      problems.Type(string(kind)),
	})
}

func (h *Handler) attachSession(w http.ResponseWriter, resp *verifyResponse, res verifier.Result) {
	raw, err := h.sessions.Sign(session.Claims{
		UserID:         res.InternalUserID,
		TenantID:       res.TenantID,
		ExternalUserID: res.ExternalUserID,
		Origin:         res.ResolvedOrigin,
	})
	if err != nil {
		h.log.Warnw("session token", "tenant", res.TenantID, "err", err)
		return
	}
	resp.SessionToken = raw
	c := &http.Cookie{
		Name:     session.CookieName,
		Value:    raw,
		Path:     "/",
		MaxAge:   int(h.sessions.TTL() / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if h.opts.Secure {
		// the embed page lives in a third-party iframe
		c.Secure = true
		c.SameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, c)
}

func (h *Handler) serveScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(h.script)
}

type pageConfig struct {
	Token              string `json:"token"`
	VerifyURL          string `json:"verifyUrl"`
	RedirectURL        string `json:"redirectUrl"`
	HandshakeTimeoutMs int64  `json:"handshakeTimeoutMs"`
}

func (h *Handler) servePage(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")

	var allowed []string
	if raw != "" {
		allowed, _ = h.verifier.SignedOrigins(raw)
	}

	var buf bytes.Buffer
	if err := h.page.Execute(&buf, pageConfig{
		Token:              raw,
		VerifyURL:          PathVerify,
		RedirectURL:        h.opts.RedirectURL,
		HandshakeTimeoutMs: h.opts.HandshakeTimeout.Milliseconds(),
	}); err != nil {
		h.log.Errorw("render embed page", "err", err)
		problems.Write(w, http.StatusInternalServerError, "internal_error", "Internal error", "internal error", nil)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", origin.FrameAncestors(allowed))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(buf.Bytes())
}
