package config

import (
	"fmt"
	"strings"

	"yt-transcripts/internal/tier"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRun()
	c.normalizeCaptions()
	c.normalizeProxy()
	c.normalizeManaged()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Run.OutputRoot) == "" {
		c.Run.OutputRoot = DefaultOutputRoot
	}
	if c.Run.OutputRoot, err = ExpandPath(c.Run.OutputRoot); err != nil {
		return fmt.Errorf("run.output_root: %w", err)
	}
	if strings.TrimSpace(c.Cache.Path) == "" {
		c.Cache.Path = DefaultCachePath
	}
	if c.Cache.Path, err = ExpandPath(c.Cache.Path); err != nil {
		return fmt.Errorf("cache.path: %w", err)
	}
	if c.Captions.CookiesPath, err = ExpandPath(strings.TrimSpace(c.Captions.CookiesPath)); err != nil {
		return fmt.Errorf("captions.cookies_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeRun() {
	if c.Run.Concurrency <= 0 {
		c.Run.Concurrency = DefaultConcurrency
	}
	if c.Run.MaxRequeues < 0 {
		c.Run.MaxRequeues = 0
	}
	if c.Run.RequeueDelaySeconds < 0 {
		c.Run.RequeueDelaySeconds = 0
	}
}

func (c *Config) normalizeCaptions() {
	langs := make([]string, 0, len(c.Captions.Languages))
	for _, l := range c.Captions.Languages {
		if v := strings.TrimSpace(l); v != "" {
			langs = append(langs, v)
		}
	}
	if len(langs) == 0 {
		langs = []string{DefaultSubLanguage}
	}
	c.Captions.Languages = langs
	c.Captions.Binary = strings.TrimSpace(c.Captions.Binary)
	c.Captions.JSRuntime = strings.ToLower(strings.TrimSpace(c.Captions.JSRuntime))
	if c.Captions.TimeoutSeconds <= 0 {
		c.Captions.TimeoutSeconds = DefaultCaptionsTimeout
	}
}

func (c *Config) normalizeProxy() {
	c.Proxy.URLs = tier.NormalizeProxyList(c.Proxy.URLs)
	if c.Proxy.Rotations < 0 {
		c.Proxy.Rotations = 0
	}
	if c.Proxy.RatePerSecond <= 0 {
		c.Proxy.RatePerSecond = DefaultProxyRate
	}
	if c.Proxy.MaxFailures <= 0 {
		c.Proxy.MaxFailures = DefaultProxyFailures
	}
	if c.Proxy.CooldownSeconds <= 0 {
		c.Proxy.CooldownSeconds = DefaultProxyCooldown
	}
}

func (c *Config) normalizeManaged() {
	c.Managed.APIKey = strings.TrimSpace(c.Managed.APIKey)
	c.Managed.BaseURL = strings.TrimRight(strings.TrimSpace(c.Managed.BaseURL), "/")
	if strings.TrimSpace(c.Managed.Language) == "" {
		c.Managed.Language = DefaultManagedLanguage
	}
	if c.Managed.RatePerSecond <= 0 {
		c.Managed.RatePerSecond = DefaultManagedRate
	}
	if c.Managed.TimeoutSeconds <= 0 {
		c.Managed.TimeoutSeconds = DefaultManagedTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = LogFormatConsole
	}
}
