package config

import (
	"bytes"
	"errors"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/toolhub/ghmcp/internal/core"
)

const (
	DefaultAPIURL        = "https://api.github.com"
	DefaultTimeout       = 30
	DefaultMaxRetries    = 3
	DefaultBuffer        = 10
	DefaultMaxConcurrent = 10
	DefaultCacheSeconds  = 3600
	DefaultExportSeconds = 60
)

type Config struct {
	GitHub    GitHubConfig    `yaml:"github"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type GitHubConfig struct {
	APIURL                string    `yaml:"api_url"`
	Token                 string    `yaml:"token"`
	UserAgent             string    `yaml:"user_agent"`
	RequestTimeoutSeconds int       `yaml:"request_timeout"`
	MaxRetries            int       `yaml:"max_retries"`
	RateLimitBuffer       int       `yaml:"rate_limit_buffer"`
	MaxConcurrentRequests int       `yaml:"max_concurrent_requests"`
	EnableRequestLogging  bool      `yaml:"enable_request_logging"`
	App                   AppConfig `yaml:"app"`
}

// AppConfig enables GitHub App installation tokens instead of a static token.
type AppConfig struct {
	AppID          int64  `yaml:"app_id"`
	InstallationID int64  `yaml:"installation_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

type ServerConfig struct {
	Listen     string `yaml:"listen"`
	HTTPListen string `yaml:"http_listen"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuthConfig struct {
	CacheSeconds  int      `yaml:"cache_seconds"`
	RepoAllowlist []string `yaml:"repo_allowlist"`
}

// TelemetryConfig turns on the OpenTelemetry SDK. Spans and periodic metric
// snapshots are written to the log, since stdout carries the protocol.
type TelemetryConfig struct {
	OTelExport            bool `yaml:"otel_export"`
	ExportIntervalSeconds int  `yaml:"export_interval"`
}

// Default returns the configuration used when nothing overrides it.
func Default(version string) *Config {
	if version == "" {
		version = "dev"
	}
	return &Config{
		GitHub: GitHubConfig{
			APIURL:                DefaultAPIURL,
			UserAgent:             "github-mcp-server/" + version,
			RequestTimeoutSeconds: DefaultTimeout,
			MaxRetries:            DefaultMaxRetries,
			RateLimitBuffer:       DefaultBuffer,
			MaxConcurrentRequests: DefaultMaxConcurrent,
		},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Auth:      AuthConfig{CacheSeconds: DefaultCacheSeconds},
		Telemetry: TelemetryConfig{ExportIntervalSeconds: DefaultExportSeconds},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (if non-empty), then environment overrides. The result is validated.
func Load(path, version string) (*Config, error) {
	cfg := Default(version)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, core.Configuration("read config file: %v", err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return core.Configuration("parse config file: %v", err)
	}
	c.GitHub.APIURL = os.ExpandEnv(c.GitHub.APIURL)
	c.GitHub.Token = os.ExpandEnv(c.GitHub.Token)
	c.GitHub.UserAgent = os.ExpandEnv(c.GitHub.UserAgent)
	c.GitHub.App.PrivateKeyPath = os.ExpandEnv(c.GitHub.App.PrivateKeyPath)
	for i, r := range c.Auth.RepoAllowlist {
		c.Auth.RepoAllowlist[i] = os.ExpandEnv(r)
	}
	return nil
}

// ApplyEnv overlays environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			return core.Configuration("Invalid %s: must be a positive integer", key)
		}
		*dst = n
		return nil
	}
	num64 := func(key string, dst *int64) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || n < 0 {
			return core.Configuration("Invalid %s: must be a positive integer", key)
		}
		*dst = n
		return nil
	}

	str("GITHUB_API_URL", &c.GitHub.APIURL)
	str("GITHUB_TOKEN", &c.GitHub.Token)
	str("USER_AGENT", &c.GitHub.UserAgent)
	str("GITHUB_PRIVATE_KEY_PATH", &c.GitHub.App.PrivateKeyPath)
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	str("LOG_FORMAT", &c.Logging.Format)
	str("GHMCP_LISTEN", &c.Server.Listen)
	str("GHMCP_HTTP_LISTEN", &c.Server.HTTPListen)

	for key, dst := range map[string]*int{
		"REQUEST_TIMEOUT":         &c.GitHub.RequestTimeoutSeconds,
		"MAX_RETRIES":             &c.GitHub.MaxRetries,
		"RATE_LIMIT_BUFFER":       &c.GitHub.RateLimitBuffer,
		"MAX_CONCURRENT_REQUESTS": &c.GitHub.MaxConcurrentRequests,
		"AUTH_CACHE_SECONDS":      &c.Auth.CacheSeconds,
		"OTEL_EXPORT_INTERVAL":    &c.Telemetry.ExportIntervalSeconds,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	if err := num64("GITHUB_APP_ID", &c.GitHub.App.AppID); err != nil {
		return err
	}
	if err := num64("GITHUB_INSTALLATION_ID", &c.GitHub.App.InstallationID); err != nil {
		return err
	}

	if v, ok := lookup("ENABLE_REQUEST_LOGGING"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			b = strings.EqualFold(v, "true") || v == "1"
		}
		c.GitHub.EnableRequestLogging = b
	}
	if v, ok := lookup("OTEL_EXPORT"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return core.Configuration("Invalid OTEL_EXPORT: must be true or false")
		}
		c.Telemetry.OTelExport = b
	}
	if v, ok := lookup("REPO_ALLOWLIST"); ok && v != "" {
		c.Auth.RepoAllowlist = splitCSV(v)
	}
	return nil
}

// Validate enforces the documented ranges.
func (c *Config) Validate() error {
	if c.GitHub.APIURL == "" {
		return core.Configuration("GitHub API URL cannot be empty")
	}
	u, err := url.Parse(c.GitHub.APIURL)
	if err != nil {
		return core.Configuration("Invalid GitHub API URL: %v", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return core.Configuration("Invalid GitHub API URL: %q needs a scheme and host", c.GitHub.APIURL)
	}
	if c.GitHub.RequestTimeoutSeconds <= 0 {
		return core.Configuration("Request timeout must be greater than 0")
	}
	if c.GitHub.RequestTimeoutSeconds > 300 {
		return core.Configuration("Request timeout cannot exceed 300 seconds")
	}
	if c.GitHub.MaxRetries < 0 || c.GitHub.MaxRetries > 10 {
		return core.Configuration("Max retries cannot exceed 10")
	}
	if c.GitHub.RateLimitBuffer < 0 || c.GitHub.RateLimitBuffer > 50 {
		return core.Configuration("Rate limit buffer cannot exceed 50%%")
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return core.Configuration("Invalid log level: must be one of trace, debug, info, warn, error")
	}
	if strings.TrimSpace(c.GitHub.UserAgent) == "" {
		return core.Configuration("User agent cannot be empty")
	}
	if c.GitHub.MaxConcurrentRequests <= 0 {
		return core.Configuration("Max concurrent requests must be greater than 0")
	}
	if c.GitHub.MaxConcurrentRequests > 100 {
		return core.Configuration("Max concurrent requests cannot exceed 100")
	}
	if c.Auth.CacheSeconds <= 0 {
		return core.Configuration("Auth cache duration must be greater than 0")
	}
	if c.Telemetry.ExportIntervalSeconds <= 0 {
		return core.Configuration("Telemetry export interval must be greater than 0")
	}
	app := c.GitHub.App
	if app.AppID != 0 || app.PrivateKeyPath != "" {
		if app.AppID == 0 || app.PrivateKeyPath == "" {
			return core.Configuration("GitHub App auth needs both GITHUB_APP_ID and GITHUB_PRIVATE_KEY_PATH")
		}
	}
	return nil
}

func (c *Config) IsEnterprise() bool {
	return !strings.HasPrefix(c.GitHub.APIURL, DefaultAPIURL)
}

func (c *Config) UsesApp() bool {
	return c.GitHub.App.AppID != 0
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.GitHub.RequestTimeoutSeconds) * time.Second
}

func (c *Config) CacheDuration() time.Duration {
	return time.Duration(c.Auth.CacheSeconds) * time.Second
}

func (c *Config) ExportInterval() time.Duration {
	return time.Duration(c.Telemetry.ExportIntervalSeconds) * time.Second
}

// DefaultPath returns $GHMCP_CONFIG, or "" when unset.
func DefaultPath() string {
	return strings.TrimSpace(os.Getenv("GHMCP_CONFIG"))
}

func splitCSV(raw string) []string {
	out := make([]string, 0)
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
