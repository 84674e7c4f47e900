package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 18888, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Environment)
	assert.Equal(t, "./blogs", cfg.Content.Root)
	assert.Equal(t, ".bloxciting/compiled", cfg.Content.OutputDir)
	assert.Equal(t, ".md", cfg.Content.Extension)
	assert.Equal(t, "index.md", cfg.Content.IndexDocument)
	assert.Equal(t, 2*time.Second, cfg.Content.StabilityWindow)
	assert.Equal(t, HashMD5, cfg.Content.Hash)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.False(t, cfg.Server.RateLimit.Enabled)
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(v *viper.Viper)
		expectError bool
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name: "custom content settings",
			setup: func(v *viper.Viper) {
				v.Set("content.root", "./posts")
				v.Set("content.output_dir", "./public/compiled")
				v.Set("content.extension", ".markdown")
				v.Set("content.stability_window", "500ms")
				v.Set("content.hash", "highwayhash")
				v.Set("author.email", "me@example.com")
				v.Set("author.nickname", "me")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "./posts", cfg.Content.Root)
				assert.Equal(t, "index.markdown", cfg.Content.IndexDocument)
				assert.Equal(t, 500*time.Millisecond, cfg.Content.StabilityWindow)
				assert.Equal(t, HashHighwayHash, cfg.Content.Hash)
				assert.Equal(t, "me@example.com", cfg.Author.Email)
			},
		},
		{
			name: "allowed origins slice",
			setup: func(v *viper.Viper) {
				v.Set("server.allowed_origins", []string{"http://a.test", "http://b.test"})
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
			},
		},
		{
			name: "invalid port type",
			setup: func(v *viper.Viper) {
				v.Set("server.port", "invalid_port")
			},
			expectError: true,
		},
		{
			name: "port out of range",
			setup: func(v *viper.Viper) {
				v.Set("server.port", 70000)
			},
			expectError: true,
		},
		{
			name: "output equals root",
			setup: func(v *viper.Viper) {
				v.Set("content.root", "./same")
				v.Set("content.output_dir", "same")
			},
			expectError: true,
		},
		{
			name: "unknown hash",
			setup: func(v *viper.Viper) {
				v.Set("content.hash", "crc32")
			},
			expectError: true,
		},
		{
			name: "extension without dot",
			setup: func(v *viper.Viper) {
				v.Set("content.extension", "md")
			},
			expectError: true,
		},
		{
			name: "rate limit enabled with bad burst",
			setup: func(v *viper.Viper) {
				v.Set("server.rate_limit.enabled", true)
				v.Set("server.rate_limit.burst", -1)
			},
			expectError: true,
		},
		{
			name: "allowed origin with path",
			setup: func(v *viper.Viper) {
				v.Set("server.allowed_origins", []string{"https://example.com/blog"})
			},
			expectError: true,
		},
		{
			name: "root with shell metacharacters",
			setup: func(v *viper.Viper) {
				v.Set("content.root", "blogs; rm -rf /")
			},
			expectError: true,
		},
		{
			name: "unknown log format",
			setup: func(v *viper.Viper) {
				v.Set("log.format", "xml")
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			tt.setup(v)

			cfg, err := LoadFrom(v)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".bloxciting.yml")
	content := `server:
  port: 9000
content:
  root: ./site
  stability_window: 10s
author:
  email: writer@example.com
  nickname: writer
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "./site", cfg.Content.Root)
	assert.Equal(t, 10*time.Second, cfg.Content.StabilityWindow)
	assert.Equal(t, "writer", cfg.Author.Nickname)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadWithEnvironment(t *testing.T) {
	t.Setenv("BLOXCITING_CONTENT_ROOT", "./from-env")
	t.Setenv("BLOXCITING_SERVER_PORT", "4321")

	v := viper.New()
	ConfigureEnv(v)

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, "./from-env", cfg.Content.Root)
	assert.Equal(t, 4321, cfg.Server.Port)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)
	assert.NoError(t, validateConfig(cfg))
}
