package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTiers(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTiers() error {
	if !c.Captions.Enabled && !c.Proxy.Enabled && !c.Managed.Enabled {
		return errors.New("at least one of captions, proxy or managed must be enabled")
	}
	if c.Captions.RatePerSecond < 0 {
		return errors.New("captions.rate_per_second must not be negative")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.RateLimitAttempts < 1 || c.Retry.NetworkAttempts < 1 {
		return errors.New("retry attempt bounds must be at least 1")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1, got %v", c.Retry.Multiplier)
	}
	if c.Retry.InitialDelaySeconds < 0 || c.Retry.MaxDelaySeconds <= 0 {
		return errors.New("retry delays must be positive")
	}
	if c.Retry.InitialDelaySeconds > c.Retry.MaxDelaySeconds {
		return errors.New("retry.initial_delay_seconds must not exceed retry.max_delay_seconds")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case LogFormatConsole, LogFormatJSON:
	default:
		return fmt.Errorf("logging.format must be %q or %q, got %q", LogFormatConsole, LogFormatJSON, c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
