package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hawser/pkg/helper/errors"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.DNS.UseCache)
	assert.Equal(t, 10*time.Second, cfg.DNS.CacheTTL)
	assert.Equal(t, "any", cfg.DNS.Family)
	assert.Equal(t, 30*time.Second, cfg.Timeout.SockConnect)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{name: "defaults", mutate: func(*Config) {}, valid: true},
		{name: "ipv4 family", mutate: func(c *Config) { c.DNS.Family = "ipv4" }, valid: true},
		{name: "unknown family", mutate: func(c *Config) { c.DNS.Family = "ipv5" }},
		{name: "force close with keepalive", mutate: func(c *Config) {
			c.Pool.ForceClose = true
			c.Pool.KeepAlive = time.Minute
		}},
		{name: "force close alone", mutate: func(c *Config) { c.Pool.ForceClose = true }, valid: true},
		{name: "negative limit", mutate: func(c *Config) { c.Pool.Limit = -2 }},
		{name: "unlimited", mutate: func(c *Config) { c.Pool.Limit = -1 }, valid: true},
		{name: "negative per host", mutate: func(c *Config) { c.Pool.LimitPerHost = -1 }},
		{name: "password without user", mutate: func(c *Config) { c.Proxy.Password = "secret" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrInvalidInput))
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hawser.yaml")
	content := `
logLevel: debug
pool:
  limit: 50
  limitPerHost: 5
  keepAlive: 30s
dns:
  useCache: true
  cacheTTL: 1m
  family: ipv4
proxy:
  url: http://proxy.example.com:3128
  username: user
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 50, cfg.Pool.Limit)
	assert.Equal(t, 5, cfg.Pool.LimitPerHost)
	assert.Equal(t, 30*time.Second, cfg.Pool.KeepAlive)
	assert.Equal(t, time.Minute, cfg.DNS.CacheTTL)
	assert.Equal(t, "ipv4", cfg.DNS.Family)
	assert.Equal(t, "http://proxy.example.com:3128", cfg.Proxy.URL)
	assert.Equal(t, "user", cfg.Proxy.Username)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestLoadFromFileInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool: {limit: -9}"), 0o600))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HAWSER_LOG_LEVEL", "error")
	t.Setenv("HAWSER_PROXY", "http://proxy.env:8080")

	cfg, err := LoadFromFile("")
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, "http://proxy.env:8080", cfg.Proxy.URL)
}

func TestExpandHomeDir(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "conf.yaml"), ExpandHomeDir("~/conf.yaml"))
	assert.Equal(t, home, ExpandHomeDir("~"))
	assert.Equal(t, "/etc/conf.yaml", ExpandHomeDir("/etc/conf.yaml"))
	assert.Equal(t, "", ExpandHomeDir(""))
}
