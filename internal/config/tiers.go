package config

import (
	"log/slog"
	"strings"
	"time"

	"yt-transcripts/internal/tier"
	"yt-transcripts/internal/transcriptapi"
)

// BuildTiers constructs the enabled tiers in chain order. A tier whose
// credentials are missing is skipped and reported in the returned list.
func (c *Config) BuildTiers(logger *slog.Logger) (tiers []tier.Tier, skipped []string) {
	if logger == nil {
		logger = slog.Default()
	}
	ytcfg := tier.YTDLPConfig{
		Binary:      c.Captions.Binary,
		SubLangs:    strings.Join(c.Captions.Languages, ","),
		CookiesPath: c.Captions.CookiesPath,
		JSRuntime:   c.Captions.JSRuntime,
		Timeout:     time.Duration(c.Captions.TimeoutSeconds) * time.Second,
	}

	if c.Captions.Enabled {
		tiers = append(tiers, tier.NewCaptions(ytcfg, c.Captions.RatePerSecond))
	}

	switch {
	case !c.Proxy.Enabled:
	case len(c.Proxy.URLs) == 0:
		logger.Warn("tier unavailable, skipped", "tier", tier.NameProxied, "reason", "no proxy urls configured")
		skipped = append(skipped, tier.NameProxied)
	default:
		pool := tier.NewEgressPool(c.Proxy.URLs, tier.EgressOptions{
			MaxFailures: c.Proxy.MaxFailures,
			Cooldown:    time.Duration(c.Proxy.CooldownSeconds) * time.Second,
		})
		tiers = append(tiers, tier.NewProxied(ytcfg, pool, c.Proxy.Rotations, c.Proxy.RatePerSecond))
	}

	switch {
	case !c.Managed.Enabled:
	case c.Managed.APIKey == "":
		logger.Warn("tier unavailable, skipped", "tier", tier.NameManaged, "reason", "missing api key", "env", EnvManagedAPIKey)
		skipped = append(skipped, tier.NameManaged)
	default:
		client := transcriptapi.NewClient(transcriptapi.Config{
			APIKey:         c.Managed.APIKey,
			BaseURL:        c.Managed.BaseURL,
			TimeoutSeconds: c.Managed.TimeoutSeconds,
		})
		tiers = append(tiers, tier.NewManaged(client, c.Managed.Language, c.Managed.RatePerSecond))
	}
	return tiers, skipped
}
