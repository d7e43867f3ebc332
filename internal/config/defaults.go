package config

const (
	DefaultConfigFile   = "yt-transcripts.toml"
	DefaultOutputRoot   = "transcripts"
	DefaultConcurrency  = 5
	DefaultMaxRequeues  = 1
	DefaultRequeueDelay = 30

	DefaultSubLanguage     = "en.*"
	DefaultCaptionsTimeout = 120
	DefaultProxyRotations  = 2
	DefaultProxyRate       = 2.0
	DefaultProxyFailures   = 3
	DefaultProxyCooldown   = 120
	DefaultManagedRate     = 1.0
	DefaultManagedTimeout  = 60
	DefaultManagedLanguage = "en"

	DefaultCachePath = ".yt-transcripts/cache.db"

	LogFormatConsole = "console"
	LogFormatJSON    = "json"

	EnvManagedAPIKey = "YTT_MANAGED_API_KEY"
	EnvProxyURLs     = "YTT_PROXY_URLS"
)

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Run: Run{
			Concurrency:         DefaultConcurrency,
			OutputRoot:          DefaultOutputRoot,
			MaxRequeues:         DefaultMaxRequeues,
			RequeueDelaySeconds: DefaultRequeueDelay,
		},
		Captions: Captions{
			Enabled:        true,
			Languages:      []string{DefaultSubLanguage},
			JSRuntime:      "auto",
			TimeoutSeconds: DefaultCaptionsTimeout,
		},
		Proxy: Proxy{
			Enabled:         true,
			Rotations:       DefaultProxyRotations,
			RatePerSecond:   DefaultProxyRate,
			MaxFailures:     DefaultProxyFailures,
			CooldownSeconds: DefaultProxyCooldown,
		},
		Managed: Managed{
			Enabled:        true,
			Language:       DefaultManagedLanguage,
			RatePerSecond:  DefaultManagedRate,
			TimeoutSeconds: DefaultManagedTimeout,
		},
		Retry: Retry{
			RateLimitAttempts:   3,
			NetworkAttempts:     2,
			InitialDelaySeconds: 2,
			Multiplier:          2,
			MaxDelaySeconds:     60,
		},
		Cache: Cache{
			Enabled: true,
			Path:    DefaultCachePath,
		},
		Logging: Logging{
			Level:  "info",
			Format: LogFormatConsole,
		},
	}
}
