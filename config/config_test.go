package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parkerroan/rest2redis/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves into dir for the duration of the test so Load sees no stray .env file.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 3333, cfg.Port)
	assert.Equal(t, "localhost", cfg.RedisHost)
	assert.Equal(t, 6379, cfg.RedisPort)
	assert.Equal(t, 7, cfg.RedisDB)
	assert.Equal(t, "rest2redis", cfg.Prefix)
	assert.Equal(t, 10*time.Second, cfg.Window())
	assert.Equal(t, 10*time.Second, cfg.RateNormalization)
	assert.Equal(t, time.Second, cfg.RefreshInterval())
	assert.Equal(t, "x-api-key", cfg.APIKeyHeader)
	assert.Empty(t, cfg.AllowedAPIKeys, "no keys means open mode")
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, ":3333", cfg.Addr())
}

func TestLoad_FromEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("WEBUI_PORT", "8080")
	t.Setenv("ALLOWED_API_KEYS", "abc|def||")
	t.Setenv("LOGGING_WINDOW", "30")
	t.Setenv("REFRESH_INTERVAL", "0.2")
	t.Setenv("REDIS_PREFIX", "iot")
	t.Setenv("DEBUG", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, config.KeyList{"abc", "def"}, cfg.AllowedAPIKeys)
	assert.Equal(t, 30*time.Second, cfg.Window())
	assert.Equal(t, 10*time.Second, cfg.RateNormalization, "normalization does not follow the window")
	assert.Equal(t, time.Second, cfg.RefreshInterval(), "clamped to one second")
	assert.Equal(t, "iot", cfg.Prefix)
	assert.True(t, cfg.Debug)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Cleanup(func() { os.Unsetenv("REDIS_HOST") })
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("REDIS_HOST=cache.internal\nREDIS_PORT=6380\n"), 0o600))
	t.Setenv("REDIS_PORT", "6390")

	cfg, err := config.Load()
	// godotenv does not override variables that are already set
	require.NoError(t, err)
	assert.Equal(t, "cache.internal", cfg.RedisHost)
	assert.Equal(t, 6390, cfg.RedisPort)

}

func TestValidate(t *testing.T) {
	testCases := []struct {
		description string
		mutate      func(*config.Config)
		wantErr     bool
	}{
		{description: "valid", mutate: func(*config.Config) {}},
		{description: "zero window", mutate: func(c *config.Config) { c.WindowSeconds = 0 }, wantErr: true},
		{description: "bad port", mutate: func(c *config.Config) { c.Port = 70000 }, wantErr: true},
		{description: "unknown throttle backend", mutate: func(c *config.Config) { c.ThrottleBackend = "memcached" }, wantErr: true},
		{description: "negative throttle", mutate: func(c *config.Config) { c.ThrottleRPS = -1 }, wantErr: true},
		{description: "empty header", mutate: func(c *config.Config) { c.APIKeyHeader = " " }, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			cfg := config.Config{
				Port:              3333,
				WindowSeconds:     10,
				RateNormalization: 10 * time.Second,
				ThrottleBackend:   "local",
				APIKeyHeader:      "x-api-key",
			}
			tc.mutate(&cfg)

			if tc.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}
