package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, filepath.Join("data", "estimates.db"), cfg.DB.Path())
	assert.Equal(t, 5*time.Second, cfg.DB.BusyTimeout)
	assert.Equal(t, "admin@example.com", cfg.Admin.Email)
	assert.Equal(t, 10, cfg.Auth.BcryptCost)
	assert.Empty(t, cfg.Auth.JWTSecret)
	assert.Equal(t, "estimator", cfg.Auth.JWTIssuer)
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.TokenTTL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ESTIMATOR_PORT", "9090")
	t.Setenv("ESTIMATOR_DB_FILE", ":memory:")
	t.Setenv("ESTIMATOR_ADMIN_EMAIL", "boss@example.com")
	t.Setenv("ESTIMATOR_JWT_SECRET", "s3cret")
	t.Setenv("ESTIMATOR_TOKEN_TTL", "2h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, ":memory:", cfg.DB.Path())
	assert.Equal(t, "boss@example.com", cfg.Admin.Email)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ESTIMATOR_BCRYPT_COST=12\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("ESTIMATOR_BCRYPT_COST") })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Auth.BcryptCost)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (stand-in for testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
