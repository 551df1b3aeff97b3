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
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Database.Store)
	assert.Equal(t, "mock", cfg.AI.Provider)
	assert.Equal(t, 10, cfg.RateLimit.MaxRequests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, "first", cfg.Executor.AmbiguityPolicy)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("AI_RATE_LIMIT_REQUESTS=3\nAI_RATE_LIMIT_WINDOW=10s\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("AI_RATE_LIMIT_REQUESTS")
		os.Unsetenv("AI_RATE_LIMIT_WINDOW")
	})

	cfg, err := Load(path, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Window)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "zero ceiling",
			mutate:  func(c *Config) { c.RateLimit.MaxRequests = 0 },
			wantErr: "max requests",
		},
		{
			name:    "tick not shorter than window",
			mutate:  func(c *Config) { c.RateLimit.TickInterval = c.RateLimit.Window },
			wantErr: "tick",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.AI.Provider = "llama" },
			wantErr: "unknown AI provider",
		},
		{
			name:    "provider without key",
			mutate:  func(c *Config) { c.AI.Provider = "openai" },
			wantErr: "API key",
		},
		{
			name:    "unknown store",
			mutate:  func(c *Config) { c.Database.Store = "mongo" },
			wantErr: "unknown document store",
		},
		{
			name:    "unknown cache",
			mutate:  func(c *Config) { c.Cache.Backend = "disk" },
			wantErr: "compile cache",
		},
		{
			name:    "unknown ambiguity policy",
			mutate:  func(c *Config) { c.Executor.AmbiguityPolicy = "random" },
			wantErr: "ambiguity",
		},
		{
			name: "production without secret",
			mutate: func(c *Config) {
				c.Server.Environment = "production"
				c.Auth.JWTSecret = ""
			},
			wantErr: "JWT secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
