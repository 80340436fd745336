package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolhub/ghmcp/internal/core"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default("1.0.0")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://api.github.com", cfg.GitHub.APIURL)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 3, cfg.GitHub.MaxRetries)
	assert.Equal(t, 10, cfg.GitHub.MaxConcurrentRequests)
	assert.Equal(t, "github-mcp-server/1.0.0", cfg.GitHub.UserAgent)
	assert.Equal(t, time.Hour, cfg.CacheDuration())
	assert.False(t, cfg.IsEnterprise())
	assert.False(t, cfg.UsesApp())
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty url", func(c *Config) { c.GitHub.APIURL = "" }},
		{"url without host", func(c *Config) { c.GitHub.APIURL = "not a url" }},
		{"zero timeout", func(c *Config) { c.GitHub.RequestTimeoutSeconds = 0 }},
		{"timeout too large", func(c *Config) { c.GitHub.RequestTimeoutSeconds = 301 }},
		{"too many retries", func(c *Config) { c.GitHub.MaxRetries = 11 }},
		{"buffer too large", func(c *Config) { c.GitHub.RateLimitBuffer = 51 }},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"empty user agent", func(c *Config) { c.GitHub.UserAgent = " " }},
		{"zero concurrency", func(c *Config) { c.GitHub.MaxConcurrentRequests = 0 }},
		{"concurrency too large", func(c *Config) { c.GitHub.MaxConcurrentRequests = 101 }},
		{"partial app", func(c *Config) { c.GitHub.App.AppID = 7 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default("")
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, core.IsKind(err, core.KindConfiguration), "got %v", err)
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default("")
	err := cfg.ApplyEnv(envMap(map[string]string{
		"GITHUB_API_URL":          "https://github.example.com/api/v3",
		"REQUEST_TIMEOUT":         "60",
		"LOG_LEVEL":               "DEBUG",
		"MAX_RETRIES":             "5",
		"MAX_CONCURRENT_REQUESTS": "20",
		"ENABLE_REQUEST_LOGGING":  "1",
		"REPO_ALLOWLIST":          "a/b, c/d",
		"GITHUB_APP_ID":           "12",
		"GITHUB_PRIVATE_KEY_PATH": "/tmp/key.pem",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.IsEnterprise())
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5, cfg.GitHub.MaxRetries)
	assert.Equal(t, 20, cfg.GitHub.MaxConcurrentRequests)
	assert.True(t, cfg.GitHub.EnableRequestLogging)
	assert.Equal(t, []string{"a/b", "c/d"}, cfg.Auth.RepoAllowlist)
	assert.True(t, cfg.UsesApp())
}

func TestApplyEnvRejectsGarbage(t *testing.T) {
	cfg := Default("")
	err := cfg.ApplyEnv(envMap(map[string]string{"MAX_RETRIES": "lots"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid MAX_RETRIES")
}

func TestTelemetryExportSettings(t *testing.T) {
	cfg := Default("")
	assert.False(t, cfg.Telemetry.OTelExport)
	assert.Equal(t, time.Minute, cfg.ExportInterval())

	require.NoError(t, cfg.ApplyEnv(envMap(map[string]string{
		"OTEL_EXPORT":          "true",
		"OTEL_EXPORT_INTERVAL": "15",
	})))
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Telemetry.OTelExport)
	assert.Equal(t, 15*time.Second, cfg.ExportInterval())

	err := Default("").ApplyEnv(envMap(map[string]string{"OTEL_EXPORT": "maybe"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid OTEL_EXPORT")

	cfg = Default("")
	cfg.Telemetry.ExportIntervalSeconds = 0
	require.Error(t, cfg.Validate())
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ghmcp.yaml")
	body := `
github:
  api_url: https://api.github.com
  token: ${GHMCP_TEST_TOKEN}
  max_retries: 2
server:
  listen: 127.0.0.1:9000
logging:
  level: warn
auth:
  cache_seconds: 120
  repo_allowlist: [acme/widgets]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("GHMCP_TEST_TOKEN", "ghp_fromenvironment")
	t.Setenv("MAX_RETRIES", "4")

	cfg, err := Load(path, "test")
	require.NoError(t, err)
	assert.Equal(t, "ghp_fromenvironment", cfg.GitHub.Token)
	assert.Equal(t, 4, cfg.GitHub.MaxRetries, "env should win over file")
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 2*time.Minute, cfg.CacheDuration())
	assert.Equal(t, []string{"acme/widgets"}, cfg.Auth.RepoAllowlist)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("github:\n  api_uri: https://x\n"), 0o600))

	_, err := Load(path, "")
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindConfiguration))
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIURL, cfg.GitHub.APIURL)
}
