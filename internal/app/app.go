// Package app wires configuration into the services shared by the api,
// worker and lateadm binaries.
package app

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"

	"latecomers/internal/auth"
	"latecomers/internal/config"
	"latecomers/internal/httpmiddleware"
	"latecomers/internal/ledger"
	"latecomers/internal/report"
	"latecomers/internal/reset"
	"latecomers/internal/store"
)

// App holds the opened backends and the services built on them.
type App struct {
	Config   config.App
	Firebase *firebase.App
	Store    store.Store
	Redis    *store.Redis
	Ledger   *ledger.Service
	Reset    *reset.Service
	Reports  *report.Service
}

func needsFirebase(cfg config.App) bool {
	return cfg.StoreBackend == "firestore" || cfg.AuthMode == "firebase"
}

// Open connects the configured store and builds the services.
func Open(ctx context.Context, cfg config.App) (*App, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	a := &App{Config: cfg}

	if needsFirebase(cfg) {
		fb, err := store.OpenFirebase(ctx, cfg.FirebaseCreds, cfg.FirebaseProject)
		if err != nil {
			return nil, err
		}
		a.Firebase = fb
	}

	st, err := store.Open(ctx, cfg.StoreBackend, store.Options{DatabaseURL: cfg.DatabaseURL, SQLitePath: cfg.SQLitePath, Firebase: a.Firebase})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	a.Store = st
	a.Redis = store.NewRedis(cfg.RedisAddr)

	a.Ledger = ledger.NewService(st, cfg.Policy)
	a.Reset = reset.NewService(st)
	a.Reports = report.NewService(st, cfg.Policy.Location())
	log.Printf("[APP] store=%s auth=%s threshold=%d unit=%d tz=%s",
		cfg.StoreBackend, cfg.AuthMode, cfg.Policy.LateThreshold, cfg.Policy.FineUnitPrice, cfg.Policy.Timezone)
	return a, nil
}

// Verifier returns the bearer-token verifier selected by AUTH_MODE.
func (a *App) Verifier(ctx context.Context) (auth.Verifier, error) {
	switch a.Config.AuthMode {
	case "jwt":
		return auth.JWTVerifier{SigningKey: a.Config.JWTSigningKey, Issuer: a.Config.JWTIssuer}, nil
	case "firebase":
		return auth.NewFirebaseVerifier(ctx, a.Firebase)
	default:
		return nil, fmt.Errorf("unknown AUTH_MODE %q", a.Config.AuthMode)
	}
}

// Limiter returns the rate limiter selected by RATE_LIMIT_BACKEND, or nil
// when rate limiting is disabled.
func (a *App) Limiter() httpmiddleware.Limiter {
	if a.Config.RateLimitPerMin <= 0 {
		return nil
	}
	if a.Config.RateLimitBackend == "redis" {
		return httpmiddleware.NewRedisWindow(a.Redis.Client, a.Config.RateLimitPerMin)
	}
	return httpmiddleware.NewSimpleTokenBucket(a.Config.RateLimitPerMin, a.Config.RateLimitPerMin)
}

// Close releases every backend.
func (a *App) Close() {
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			log.Printf("[APP] close store: %v", err)
		}
	}
	if err := a.Redis.Close(); err != nil {
		log.Printf("[APP] close redis: %v", err)
	}
}
