// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Session policies applied after a successful verification.
const (
	SessionPolicyNone  = "none"
	SessionPolicyToken = "token"
)

type Config struct {
	Env      string
	HTTPAddr string
	LogLevel string

	// Honour X-Forwarded-For / X-Real-IP; only behind a proxy that overwrites them.
	TrustProxyHeaders bool

	// Public base URL of this service (used in problem type URLs and the embed page).
	BasePublicURL string

	// Tenant registry sources; first configured wins (database, file, seed JSON, dev default).
	TenantsFile    string
	TenantSeedJSON string

	// Token issuance
	TokenTTL         time.Duration
	IssueRatePerMin  int
	HandshakeTimeout time.Duration

	// Identity provisioning
	SyntheticEmailDomain string
	BindingCacheTTL      time.Duration

	// Post-verification behaviour of the embed page
	RedirectURL   string
	SessionPolicy string
	SessionSecret string
	SessionTTL    time.Duration

	// Redis & Postgres
	RedisURL    string
	DatabaseURL string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:                  env("EMBED_ENV", "dev"),
		HTTPAddr:             env("EMBED_HTTP_ADDR", ":8080"),
		LogLevel:             env("LOG_LEVEL", ""),
		TrustProxyHeaders:    envBool("TRUST_PROXY_HEADERS", false),
		BasePublicURL:        env("BASE_PUBLIC_URL", "http://localhost:8080"),
		TenantsFile:          env("TENANTS_FILE", ""),
		TenantSeedJSON:       env("TENANT_SEED_JSON", ""),
		TokenTTL:             envDur("TOKEN_TTL_SEC", 86400) * time.Second,
		IssueRatePerMin:      envInt("ISSUE_RATE_PER_MIN", 120),
		HandshakeTimeout:     envDur("HANDSHAKE_TIMEOUT_MS", 3000) * time.Millisecond,
		SyntheticEmailDomain: env("SYNTHETIC_EMAIL_DOMAIN", "ai.app"),
		BindingCacheTTL:      envDur("BINDING_CACHE_TTL_SEC", 86400) * time.Second,
		RedirectURL:          env("EMBED_REDIRECT_URL", ""),
		SessionPolicy:        env("EMBED_SESSION_POLICY", SessionPolicyNone),
		SessionSecret:        env("SESSION_SECRET", ""),
		SessionTTL:           envDur("SESSION_TTL_SEC", 3600) * time.Second,
		RedisURL:             env("REDIS_URL", ""),
		DatabaseURL:          env("DATABASE_URL", ""),
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set; using in-memory identity store for dev")
	}
	if cfg.SessionPolicy != SessionPolicyNone && cfg.SessionPolicy != SessionPolicyToken {
		log.Printf("[WARN] unknown EMBED_SESSION_POLICY %q; falling back to %q", cfg.SessionPolicy, SessionPolicyNone)
		cfg.SessionPolicy = SessionPolicyNone
	}
	return cfg
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDur(k string, def int) time.Duration {
	return time.Duration(envInt(k, def))
}
