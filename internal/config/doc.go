// Package config loads the TOML configuration for yt-transcripts.
//
// Values resolve in this order: built-in defaults, the TOML file (with ${VAR}
// expansion), then credential environment variables, optionally seeded from a
// .env file in the working directory. The resolved struct is handed explicitly
// to the engine; no package reads the environment on its own.
package config
