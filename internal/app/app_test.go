package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latecomers/internal/auth"
	"latecomers/internal/config"
	"latecomers/internal/httpmiddleware"
)

func memoryConfig() config.App {
	return config.App{
		StoreBackend:     "memory",
		RedisAddr:        "localhost:0",
		AuthMode:         "jwt",
		JWTIssuer:        "latecomers",
		JWTSigningKey:    "k",
		RateLimitPerMin:  60,
		RateLimitBackend: "memory",
		Policy:           config.DefaultPolicy(),
	}
}

func TestOpenMemory(t *testing.T) {
	a, err := Open(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Firebase)
	assert.NotNil(t, a.Ledger)
	assert.NotNil(t, a.Reset)
	assert.NotNil(t, a.Reports)

	v, err := a.Verifier(context.Background())
	require.NoError(t, err)
	assert.IsType(t, auth.JWTVerifier{}, v)
	assert.IsType(t, &httpmiddleware.SimpleTokenBucket{}, a.Limiter())
}

func TestOpenRejectsInvalidPolicy(t *testing.T) {
	cfg := memoryConfig()
	cfg.Policy.FineUnitPrice = 0
	_, err := Open(context.Background(), cfg)
	assert.Error(t, err)
}

func TestLimiterSelection(t *testing.T) {
	cfg := memoryConfig()
	cfg.RateLimitBackend = "redis"
	a, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	assert.IsType(t, &httpmiddleware.RedisWindow{}, a.Limiter())

	a.Config.RateLimitPerMin = 0
	assert.Nil(t, a.Limiter())
}

func TestUnknownAuthMode(t *testing.T) {
	cfg := memoryConfig()
	cfg.AuthMode = "basic"
	a, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	_, err = a.Verifier(context.Background())
	assert.Error(t, err)
}
