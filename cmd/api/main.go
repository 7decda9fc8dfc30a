package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/arun-gopi/rcm-backend/internal/auth"
	"github.com/arun-gopi/rcm-backend/internal/config"
	"github.com/arun-gopi/rcm-backend/internal/httpapi"
	"github.com/arun-gopi/rcm-backend/internal/obs"
	"github.com/arun-gopi/rcm-backend/internal/ratelimit"
	"github.com/arun-gopi/rcm-backend/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *pg.Store
	if cfg.PGDSN != "" {
		store, err = pg.Open(cfg.PGDSN, cfg.StoreTimeout)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
	}
	if store == nil {
		log.Fatal("missing DSN: provide RCM_PG_DSN")
	}

	verifier, err := auth.NewVerifier(ctx, cfg.AuthIssuer, cfg.AuthAudience, cfg.AuthJWKSURL,
		auth.WithFetchTimeout(cfg.KeyFetchTimeout))
	if err != nil {
		log.Fatalf("init verifier: %v", err)
	}

	resolver := auth.NewResolver(verifier, auth.NewReconciler(store))
	limiter := ratelimit.New(cfg.RateCapacity, cfg.RatePerSecond,
		ratelimit.WithBucketTTL(cfg.RateBucketTTL))

	api := httpapi.New(resolver, store, limiter, httpapi.ReadyProbe{DB: store.DB()}, version)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	obs.LogEvent("info", "starting rcm-api", map[string]any{
		"addr":    cfg.Addr,
		"version": version,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	obs.LogEvent("info", "shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	obs.LogEvent("info", "stopped", nil)
}
