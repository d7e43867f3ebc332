package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"yt-transcripts/internal/chain"
)

// Run controls the worker pool and session layout.
type Run struct {
	Concurrency         int    `toml:"concurrency" json:"concurrency"`
	OutputRoot          string `toml:"output_root" json:"output_root"`
	MaxRequeues         int    `toml:"max_requeues" json:"max_requeues"`
	RequeueDelaySeconds int    `toml:"requeue_delay_seconds" json:"requeue_delay_seconds"`
}

// Captions configures tier 1 (direct yt-dlp caption fetch).
type Captions struct {
	Enabled        bool     `toml:"enabled" json:"enabled"`
	Languages      []string `toml:"languages" json:"languages"`
	Binary         string   `toml:"binary" json:"binary,omitempty"`
	CookiesPath    string   `toml:"cookies_path" json:"cookies_path,omitempty"`
	JSRuntime      string   `toml:"js_runtime" json:"js_runtime,omitempty"`
	TimeoutSeconds int      `toml:"timeout_seconds" json:"timeout_seconds"`
	RatePerSecond  float64  `toml:"rate_per_second" json:"rate_per_second,omitempty"`
}

// Proxy configures tier 2. URLs may contain {session} to request a fresh exit per attempt.
type Proxy struct {
	Enabled         bool     `toml:"enabled" json:"enabled"`
	URLs            []string `toml:"urls" json:"urls"`
	Rotations       int      `toml:"rotations" json:"rotations"`
	RatePerSecond   float64  `toml:"rate_per_second" json:"rate_per_second"`
	MaxFailures     int      `toml:"max_failures" json:"max_failures"`
	CooldownSeconds int      `toml:"cooldown_seconds" json:"cooldown_seconds"`
}

// Managed configures tier 3, the metered transcript API.
type Managed struct {
	Enabled        bool    `toml:"enabled" json:"enabled"`
	APIKey         string  `toml:"api_key" json:"api_key,omitempty"`
	BaseURL        string  `toml:"base_url" json:"base_url,omitempty"`
	Language       string  `toml:"language" json:"language"`
	RatePerSecond  float64 `toml:"rate_per_second" json:"rate_per_second"`
	TimeoutSeconds int     `toml:"timeout_seconds" json:"timeout_seconds"`
}

type Retry struct {
	RateLimitAttempts   int     `toml:"rate_limit_attempts" json:"rate_limit_attempts"`
	NetworkAttempts     int     `toml:"network_attempts" json:"network_attempts"`
	InitialDelaySeconds float64 `toml:"initial_delay_seconds" json:"initial_delay_seconds"`
	Multiplier          float64 `toml:"multiplier" json:"multiplier"`
	MaxDelaySeconds     float64 `toml:"max_delay_seconds" json:"max_delay_seconds"`
}

type Cache struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Path    string `toml:"path" json:"path"`
}

type Logging struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
}

type Metrics struct {
	Listen string `toml:"listen" json:"listen,omitempty"`
}

// Config is the fully resolved configuration.
type Config struct {
	Run      Run      `toml:"run" json:"run"`
	Captions Captions `toml:"captions" json:"captions"`
	Proxy    Proxy    `toml:"proxy" json:"proxy"`
	Managed  Managed  `toml:"managed" json:"managed"`
	Retry    Retry    `toml:"retry" json:"retry"`
	Cache    Cache    `toml:"cache" json:"cache"`
	Logging  Logging  `toml:"logging" json:"logging"`
	Metrics  Metrics  `toml:"metrics" json:"metrics"`
}

// Load reads path (or DefaultConfigFile when empty), applies environment
// overrides, then normalizes and validates. A missing file is not an error; the
// returned bool reports whether one was read.
func Load(path string) (*Config, string, bool, error) {
	if err := loadDotenv(".env"); err != nil {
		return nil, "", false, err
	}
	cfg := Default()

	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}
	if exists {
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return nil, "", false, err
		}
	}

	cfg.applyEnv()
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

// Parse decodes TOML into cfg after expanding ${VAR} references.
func Parse(data []byte, cfg *Config) error {
	expanded := os.ExpandEnv(string(data))
	if err := toml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func loadDotenv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	// Existing environment variables win over the file.
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigFile
	}
	expanded, err := ExpandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %s is a directory", expanded)
	}
	return expanded, true, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvManagedAPIKey)); v != "" {
		c.Managed.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvProxyURLs)); v != "" {
		c.Proxy.URLs = strings.Split(v, ",")
	}
}

// ExpandPath resolves ~ and makes the path absolute.
func ExpandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

func (c *Config) ProxyEnabled() bool {
	return c.Proxy.Enabled && len(c.Proxy.URLs) > 0
}

func (c *Config) ManagedEnabled() bool {
	return c.Managed.Enabled && c.Managed.APIKey != ""
}

func (c *Config) RequeueDelay() time.Duration {
	return time.Duration(c.Run.RequeueDelaySeconds) * time.Second
}

func (c *Config) RetryConfig() chain.RetryConfig {
	return chain.RetryConfig{
		RateLimitAttempts: c.Retry.RateLimitAttempts,
		NetworkAttempts:   c.Retry.NetworkAttempts,
		InitialDelay:      seconds(c.Retry.InitialDelaySeconds),
		Multiplier:        c.Retry.Multiplier,
		MaxDelay:          seconds(c.Retry.MaxDelaySeconds),
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// Snapshot returns a copy safe to persist: credentials are masked.
func (c *Config) Snapshot() Config {
	out := *c
	out.Captions.Languages = append([]string(nil), c.Captions.Languages...)
	if out.Managed.APIKey != "" {
		out.Managed.APIKey = redacted
	}
	out.Proxy.URLs = make([]string, 0, len(c.Proxy.URLs))
	for _, u := range c.Proxy.URLs {
		out.Proxy.URLs = append(out.Proxy.URLs, redactURL(u))
	}
	return out
}

const redacted = "***"

// redactURL masks userinfo in a proxy URL. Placeholders like {session} make
// these URLs unparseable for net/url, so this works on the raw string.
func redactURL(raw string) string {
	scheme := ""
	rest := raw
	if idx := strings.Index(raw, "://"); idx >= 0 {
		scheme = raw[:idx+3]
		rest = raw[idx+3:]
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return raw
	}
	return scheme + redacted + rest[at:]
}
