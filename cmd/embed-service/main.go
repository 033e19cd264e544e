package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatembed/internal/admission"
	"chatembed/internal/embed"
	"chatembed/internal/identity"
	"chatembed/internal/session"
	"chatembed/internal/verifier"
	"chatembed/pkg/config"
	"chatembed/pkg/db"
	"chatembed/pkg/logger"
	"chatembed/pkg/middleware"
	"chatembed/pkg/tenants"
	"chatembed/pkg/token"
)

func main() {
	// 1. config + logger
	cfg := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()
	ctx := context.Background()

	// 2. backing stores (both optional)
	pool := db.MustConnect(cfg, log)
	if pool != nil {
		defer pool.Close()
	}
	rdb := db.MustRedis(cfg, log)
	if rdb != nil {
		defer rdb.Close()
	}

	// 3. tenant registry, loaded once
	reg, err := tenants.Load(ctx, tenants.Sources{Pool: pool, File: cfg.TenantsFile, SeedJSON: cfg.TenantSeedJSON}, log)
	if err != nil {
		log.Fatalw("tenant registry", "err", err)
	}

	// 4. per-tenant admission policies
	policies, err := admission.Compile(ctx, reg.Policies())
	if err != nil {
		log.Fatalw("admission policies", "err", err)
	}

	// 5. identity store + provisioner
	var store identity.Store
	if pool != nil {
		if err := identity.EnsureSchema(ctx, pool); err != nil {
			log.Fatalw("identity schema", "err", err)
		}
		store = identity.NewPostgresStore(pool)
	} else {
		store = identity.NewMemoryStore()
	}
	provOpts := []identity.Option{identity.WithEmailDomain(cfg.SyntheticEmailDomain)}
	if rdb != nil {
		provOpts = append(provOpts, identity.WithCache(identity.NewRedisCache(rdb, cfg.BindingCacheTTL, log)))
	}
	prov := identity.NewProvisioner(store, log, provOpts...)

	// 6. codec, verifier, session policy
	issuer := token.NewIssuer(reg, cfg.TokenTTL)
	v := verifier.New(reg, prov, log, verifier.WithAdmission(policies))

	var sessions *session.Signer
	if cfg.SessionPolicy == config.SessionPolicyToken {
		sessions, err = session.NewSigner(cfg.SessionSecret, cfg.SessionTTL)
		if err != nil {
			log.Fatalw("session policy", "policy", cfg.SessionPolicy, "err", err)
		}
	}

	h, err := embed.New(issuer, v, sessions, middleware.NewRateLimiter(cfg.IssueRatePerMin), embed.Options{
		RedirectURL:      cfg.RedirectURL,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Secure:           strings.HasPrefix(cfg.BasePublicURL, "https://"),
	}, log)
	if err != nil {
		log.Fatalw("embed handler", "err", err)
	}

	// 7. router
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	if cfg.TrustProxyHeaders {
		// rate limiting keys on the client address
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.Recover(log))
	r.Use(middleware.Tracing("embed-service", log))
	r.Use(middleware.Metrics())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("pong")) })
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	h.Register(r)

	// 8. serve until SIGINT/SIGTERM
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Infow("embed-service listening", "addr", cfg.HTTPAddr, "tenants", reg.Len(),
			"session_policy", cfg.SessionPolicy, "db", pool != nil, "redis", rdb != nil)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = middleware.ShutdownTracing(shutdownCtx)
	log.Infow("embed-service stopped")
}
