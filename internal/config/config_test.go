package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 3, p.LateThreshold)
	assert.Equal(t, int64(50), p.FineUnitPrice)
	assert.Equal(t, 5000, p.MaxEntries)
	assert.Equal(t, "Asia/Kolkata", p.Timezone)
	assert.NoError(t, p.Validate())
}

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.toml")
	content := "late_threshold = 5\nfine_unit_price = 20\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 5, p.LateThreshold)
	assert.Equal(t, int64(20), p.FineUnitPrice)
	// untouched keys keep defaults
	assert.Equal(t, 5000, p.MaxEntries)
	assert.Equal(t, "Asia/Kolkata", p.Timezone)
}

func TestLoadPolicyRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.toml")
	require.NoError(t, os.WriteFile(path, []byte("fine_unit_price = 0\n"), 0o600))

	_, err := LoadPolicy(path)
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LATE_THRESHOLD", "4")
	t.Setenv("FINE_UNIT_PRICE", "75")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("RESET_TIMEOUT", "not-a-duration")

	cfg := Load()

	assert.Equal(t, 4, cfg.Policy.LateThreshold)
	assert.Equal(t, int64(75), cfg.Policy.FineUnitPrice)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, "0 0 1 * *", cfg.ResetSchedule)
	assert.Equal(t, defaultResetTimeout, cfg.ResetTimeout)
}
